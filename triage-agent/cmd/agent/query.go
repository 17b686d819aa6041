package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/graph"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/ingestion"
)

func newQueryCmd(envFile *string) *cobra.Command {
	var (
		text      string
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one message through the triage pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "" && imagePath == "" {
				return errors.New(`please provide -q "your query"`)
			}
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			in := graph.Input{Query: text}
			if imagePath != "" {
				if in.Image, err = os.ReadFile(imagePath); err != nil {
					return err
				}
			}
			ctx := graph.WithRequestID(cmd.Context(), uuid.NewString())
			res, err := a.engine.Run(ctx, in)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&text, "query", "q", "", "query text")
	cmd.Flags().StringVar(&imagePath, "image", "", "image file to attach")
	return cmd
}

func printResult(cmd *cobra.Command, res *graph.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Response)
	fmt.Fprintln(out)
	if res.Risk != nil {
		fmt.Fprintf(out, "Risk: %d/10 (%s)\n", *res.Risk, res.Band)
	}
	fmt.Fprintf(out, "Terminal: %s  Revisions: %d\n", res.Terminal, res.Revisions)
	if res.Degraded {
		fmt.Fprintf(out, "Degraded: %v\n", res.DegradedReasons)
	}
}

func readCorpus(path string) ([]ingestion.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ingestion.LoadCorpus(data)
}
