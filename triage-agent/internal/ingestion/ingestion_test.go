package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadLocalFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md"), "# notes")
	writeFile(t, filepath.Join(root, "sub", "leaflet.TXT"), "text")
	writeFile(t, filepath.Join(root, "sub", "scan.jpeg"), "jpeg")
	writeFile(t, filepath.Join(root, "sub", "report.pdf"), "pdf")
	writeFile(t, filepath.Join(root, "data.csv"), "a,b")
	writeFile(t, filepath.Join(root, ".cache", "hidden.txt"), "skip")

	files, err := LoadLocalFiles(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"notes.md", "sub/leaflet.TXT", "sub/report.pdf", "sub/scan.jpeg"}, rel)
}

func TestLoadLocalFiles_MissingRoot(t *testing.T) {
	_, err := LoadLocalFiles(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := Loader{Now: func() time.Time { return now }}

	txt := filepath.Join(dir, "asthma.txt")
	writeFile(t, txt, "Asthma narrows the airways.")
	doc, err := l.Load(txt)
	require.NoError(t, err)
	assert.Equal(t, "local:asthma.txt", doc.Source)
	assert.Equal(t, "asthma", doc.Title)
	assert.Equal(t, now, doc.ImportedAt)
	assert.Equal(t, "Asthma narrows the airways.", doc.Text)
	assert.Nil(t, doc.Image)

	img := filepath.Join(dir, "xray.png")
	writeFile(t, img, "raw image bytes")
	doc, err = l.Load(img)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw image bytes"), doc.Image)
	assert.Empty(t, doc.Text)

	empty := filepath.Join(dir, "empty.md")
	writeFile(t, empty, "  \n")
	_, err = l.Load(empty)
	assert.Error(t, err)

	_, err = l.Load(filepath.Join(dir, "table.csv"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLoader_ScannedPDFFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	writeFile(t, path, "not really a pdf")

	_, err := Loader{}.ExtractText(path)
	assert.Error(t, err)

	var called string
	l := Loader{ScannedPDF: func(p string) (string, error) {
		called = p
		return "Scanned discharge summary", nil
	}}
	text, err := l.ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Scanned discharge summary", text)
	assert.Equal(t, path, called)
}

func TestDefaultCorpus(t *testing.T) {
	articles := DefaultCorpus()
	require.Len(t, articles, 10)

	var titles []string
	for _, a := range articles {
		titles = append(titles, a.Title)
		assert.True(t, strings.HasPrefix(a.Text(), "# "+a.Title+"\n\n"))
	}
	assert.Contains(t, titles, "Common Cold")
	assert.Contains(t, titles, "Dehydration")
	assert.Equal(t, "medical_kb_common_cold", articles[0].Source())
}

func TestLoadCorpus_Invalid(t *testing.T) {
	_, err := LoadCorpus([]byte("- title: Flu\n"))
	assert.Error(t, err)
	_, err = LoadCorpus([]byte("{not a list"))
	assert.Error(t, err)
}

func newStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s, err := knowledge.New(knowledge.Options{
		Index:    storage.NewMemoryIndex(),
		Embedder: processing.NewHashEmbedder(512),
		Chunker:  processing.NewChunker(1000, 100),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}

func TestSeedCorpus(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	chunks, err := SeedCorpus(ctx, s, DefaultCorpus())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, chunks, 10)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunks, count)

	hits, err := s.Search(ctx, "migraine aura triptans", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "medical_kb_migraine", hits[0].Source)

	// seeding twice overwrites
	_, err = SeedCorpus(ctx, s, DefaultCorpus())
	require.NoError(t, err)
	again, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, again)
}

type recordingIngester struct {
	mu   sync.Mutex
	reqs []knowledge.IngestRequest
	fail string
}

func (r *recordingIngester) Ingest(_ context.Context, req knowledge.IngestRequest) (knowledge.IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != "" && req.Source == r.fail {
		return knowledge.IngestResult{}, errors.New("index offline")
	}
	r.reqs = append(r.reqs, req)
	return knowledge.IngestResult{Chunks: 2}, nil
}

func TestIngestFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.md"),
		filepath.Join(dir, "c.png"),
		filepath.Join(dir, "d.pdf"),
		filepath.Join(dir, "e.txt"),
	}
	writeFile(t, paths[0], "alpha")
	writeFile(t, paths[1], "beta")
	writeFile(t, paths[2], "png")
	writeFile(t, paths[3], "broken pdf")
	writeFile(t, paths[4], "epsilon")

	ing := &recordingIngester{fail: "local:e.txt"}
	sum, err := IngestFiles(context.Background(), ing, Loader{}, paths, 2, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 6, sum.Chunks)
	assert.ElementsMatch(t, []string{paths[3], paths[4]}, sum.Failed)

	for _, req := range ing.reqs {
		if req.Source == "local:c.png" {
			assert.True(t, req.SaveImage)
			assert.Equal(t, []byte("png"), req.Image)
		} else {
			assert.False(t, req.SaveImage)
		}
	}
}

func TestIngestFiles_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := IngestFiles(ctx, &recordingIngester{}, Loader{}, []string{path}, 1, zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
