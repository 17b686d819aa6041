// Package knowledge combines the vector index with the symptom graph behind
// ingest, semantic search and graph lookups.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/imagestore"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/storage"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision"
)

var (
	// ErrInputInvalid is returned for an ingest with neither text nor image.
	ErrInputInvalid = errors.New("invalid input")
	// ErrKnowledgeUnavailable wraps embedding and index failures.
	ErrKnowledgeUnavailable = errors.New("knowledge store unavailable")
)

// DefaultSource labels content ingested without a source.
const DefaultSource = "user"

// Snippet is one ranked search hit.
type Snippet struct {
	Text       string  `json:"content"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_id"`
	ImageID    string  `json:"image_id,omitempty"`
	Score      float64 `json:"score"`
}

// ImageSaver persists analysed images.
type ImageSaver interface {
	Save(data []byte, source, analysis string) (imagestore.Metadata, error)
}

// Options wires the store's collaborators. Analyzer and Images may be nil:
// without an analyzer image ingests fail, without Images nothing is saved.
type Options struct {
	Index    storage.Index
	Embedder processing.Embedder
	Chunker  processing.Chunker
	Graph    *Graph
	Analyzer vision.Analyzer
	Images   ImageSaver
	Log      zerolog.Logger
}

// Store is safe for concurrent ingest and search; isolation comes from the
// index backend.
type Store struct {
	index    storage.Index
	embedder processing.Embedder
	chunker  processing.Chunker
	graph    *Graph
	analyzer vision.Analyzer
	images   ImageSaver
	log      zerolog.Logger
}

func New(opts Options) (*Store, error) {
	if opts.Index == nil || opts.Embedder == nil {
		return nil, errors.New("knowledge store needs an index and an embedder")
	}
	if opts.Graph == nil {
		opts.Graph = DefaultGraph()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = vision.Disabled{}
	}
	if opts.Chunker.Size == 0 {
		opts.Chunker = processing.NewChunker(0, 0)
	}
	return &Store{
		index:    opts.Index,
		embedder: opts.Embedder,
		chunker:  opts.Chunker,
		graph:    opts.Graph,
		analyzer: opts.Analyzer,
		images:   opts.Images,
		log:      opts.Log.With().Str("component", "knowledge").Logger(),
	}, nil
}

// Graph returns the injected graph.
func (s *Store) Graph() *Graph { return s.graph }

// IngestRequest is one piece of content to add.
type IngestRequest struct {
	Text      string
	Image     []byte
	Source    string
	SaveImage bool
}

// IngestResult reports what was stored.
type IngestResult struct {
	Chunks   int
	ImageID  string
	Analysis string
}

// Ingest chunks, embeds and stores the content. An attached image is
// analysed first and its description is embedded with the text.
func (s *Store) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Image) == 0 {
		return IngestResult{}, fmt.Errorf("%w: text or image is required", ErrInputInvalid)
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = DefaultSource
	}

	var res IngestResult
	kind := "text"
	body := text
	if len(req.Image) > 0 {
		kind = "multimodal"
		analysis, err := s.analyzer.Analyze(ctx, req.Image)
		if err != nil {
			return IngestResult{}, fmt.Errorf("analyze image: %w", err)
		}
		res.Analysis = analysis
		res.ImageID = imagestore.ID(req.Image)

		if req.SaveImage && s.images != nil {
			meta, err := s.images.Save(req.Image, source, analysis)
			if err != nil {
				return IngestResult{}, fmt.Errorf("save image: %w", err)
			}
			res.ImageID = meta.ID
		}
		body = mergeImageText(text, analysis)
	}

	chunks := s.chunker.Split(body)
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("%w: nothing to index", ErrInputInvalid)
	}
	vecs, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: embed: %v", ErrKnowledgeUnavailable, err)
	}
	if len(vecs) != len(chunks) {
		return IngestResult{}, fmt.Errorf("%w: got %d embeddings for %d chunks", ErrKnowledgeUnavailable, len(vecs), len(chunks))
	}

	records := make([]storage.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = storage.Record{
			ID:         recordID(source, i, chunk),
			Source:     source,
			ChunkIndex: i,
			Content:    chunk,
			ImageID:    res.ImageID,
			Embedding:  vecs[i],
		}
	}
	if err := s.index.Add(ctx, records); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", ErrKnowledgeUnavailable, err)
	}

	res.Chunks = len(records)
	metrics.IngestedChunksTotal.WithLabelValues(kind).Add(float64(res.Chunks))
	s.log.Info().
		Str("source", source).
		Str("kind", kind).
		Int("chunks", res.Chunks).
		Str("image_id", res.ImageID).
		Msg("content ingested")
	return res, nil
}

// Search returns at most k snippets by decreasing similarity. A blank query
// has no matches.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	vec, err := processing.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrKnowledgeUnavailable, err)
	}
	matches, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKnowledgeUnavailable, err)
	}

	out := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		out = append(out, Snippet{
			Text:       m.Content,
			Source:     m.Source,
			ChunkIndex: m.ChunkIndex,
			ImageID:    m.ImageID,
			Score:      m.Score,
		})
	}
	return out, nil
}

// GraphQuery follows may_indicate and treated_with edges from the graph
// terms found in term.
func (s *Store) GraphQuery(ctx context.Context, term string) ([]Relation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.graph.Query(term), nil
}

// HybridResult pairs vector hits with graph relations.
type HybridResult struct {
	Vector    []Snippet
	Relations []Relation
}

// HybridSearch runs the vector search and the graph lookup for one query.
func (s *Store) HybridSearch(ctx context.Context, query string, k int) (HybridResult, error) {
	snippets, err := s.Search(ctx, query, k)
	if err != nil {
		return HybridResult{}, err
	}
	relations, err := s.GraphQuery(ctx, query)
	if err != nil {
		return HybridResult{}, err
	}
	return HybridResult{Vector: snippets, Relations: relations}, nil
}

// Ping checks that the index answers a one-result search.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Search(ctx, "health check", 1)
	return err
}

// Count reports how many chunks are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

func mergeImageText(text, analysis string) string {
	var b strings.Builder
	if text != "" {
		b.WriteString("Notes: ")
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	b.WriteString("Medical Image Analysis:\n")
	b.WriteString(analysis)
	return b.String()
}

func recordID(source string, index int, content string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
