package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/ingestion"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision/ocr"
)

func newIngestCmd(envFile *string) *cobra.Command {
	var (
		path        string
		concurrency int
		useOCR      bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index every supported file under a folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			files, err := ingestion.LoadLocalFiles(path)
			if err != nil {
				return fmt.Errorf("load files: %w", err)
			}
			a.log.Info().Str("path", path).Int("files", len(files)).Msg("starting indexing")

			loader := ingestion.Loader{}
			if useOCR {
				loader.ScannedPDF = ocr.ScannedPDF
			}
			sum, err := ingestion.IngestFiles(cmd.Context(), a.store, loader, files, concurrency, a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files (%d chunks), %d skipped.\n", sum.Files, sum.Chunks, len(sum.Failed))
			return printStored(cmd, a)
		},
	}
	cmd.Flags().StringVar(&path, "path", "./data", "path to folder to index")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "files ingested in parallel")
	cmd.Flags().BoolVar(&useOCR, "ocr", true, "OCR scanned PDFs with tesseract")
	return cmd
}

func newSeedCmd(envFile *string) *cobra.Command {
	var corpusFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the reference articles on common conditions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			articles := ingestion.DefaultCorpus()
			if corpusFile != "" {
				if articles, err = readCorpus(corpusFile); err != nil {
					return err
				}
			}
			chunks, err := ingestion.SeedCorpus(cmd.Context(), a.store, articles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d articles (%d chunks).\n", len(articles), chunks)
			return printStored(cmd, a)
		},
	}
	cmd.Flags().StringVar(&corpusFile, "file", "", "YAML corpus to load instead of the built-in one")
	return cmd
}

func printStored(cmd *cobra.Command, a *app) error {
	total, err := a.store.Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Knowledge store now holds %d chunks.\n", total)
	return nil
}
