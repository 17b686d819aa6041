package ingestion

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
)

//go:embed seed_corpus.yaml
var seedCorpusYAML []byte

// Article is one reference entry of a seed corpus.
type Article struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Source names the article in the index, e.g. "medical_kb_common_cold".
func (a Article) Source() string {
	slug := strings.ToLower(strings.Join(strings.Fields(a.Title), "_"))
	return "medical_kb_" + slug
}

// Text is the body that gets chunked.
func (a Article) Text() string {
	return "# " + a.Title + "\n\n" + strings.TrimSpace(a.Content)
}

// LoadCorpus parses a YAML list of articles.
func LoadCorpus(data []byte) ([]Article, error) {
	var articles []Article
	if err := yaml.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	for i, a := range articles {
		if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Content) == "" {
			return nil, fmt.Errorf("corpus entry %d needs a title and content", i)
		}
	}
	return articles, nil
}

// DefaultCorpus returns the built-in articles on common conditions.
func DefaultCorpus() []Article {
	articles, err := LoadCorpus(seedCorpusYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in corpus is invalid: %v", err))
	}
	return articles
}

// Ingester is the write side of the knowledge store.
type Ingester interface {
	Ingest(ctx context.Context, req knowledge.IngestRequest) (knowledge.IngestResult, error)
}

// SeedCorpus ingests every article and returns the number of chunks
// written. Re-seeding overwrites the same records.
func SeedCorpus(ctx context.Context, ing Ingester, articles []Article) (int, error) {
	total := 0
	for _, a := range articles {
		res, err := ing.Ingest(ctx, knowledge.IngestRequest{Text: a.Text(), Source: a.Source()})
		if err != nil {
			return total, fmt.Errorf("seed %q: %w", a.Title, err)
		}
		total += res.Chunks
	}
	return total, nil
}
