package ingestion

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
)

// Summary reports a batch ingest.
type Summary struct {
	Files  int
	Chunks int
	Failed []string
}

// IngestFiles loads and ingests paths with at most concurrency files in
// flight. A file that fails is logged and listed in Failed; only context
// cancellation aborts the batch.
func IngestFiles(ctx context.Context, ing Ingester, loader Loader, paths []string, concurrency int, log zerolog.Logger) (Summary, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range paths {
		path := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := loader.Load(path)
			if err == nil {
				var res knowledge.IngestResult
				res, err = ing.Ingest(gctx, knowledge.IngestRequest{
					Text:      doc.Text,
					Image:     doc.Image,
					Source:    doc.Source,
					SaveImage: len(doc.Image) > 0,
				})
				if err == nil {
					mu.Lock()
					sum.Files++
					sum.Chunks += res.Chunks
					mu.Unlock()
					log.Info().Str("file", path).Int("chunks", res.Chunks).Msg("indexed")
					return nil
				}
			}
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Warn().Err(err).Str("file", path).Msg("skipping file")
			mu.Lock()
			sum.Failed = append(sum.Failed, path)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return sum, err
}
