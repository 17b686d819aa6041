package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{ID: "a", Source: "seed", ChunkIndex: 0, Content: "fever", Embedding: []float32{1, 0, 0}},
		{ID: "b", Source: "seed", ChunkIndex: 1, Content: "cough", Embedding: []float32{0, 1, 0}},
		{ID: "c", Source: "user", ChunkIndex: 0, Content: "fever and cough", Embedding: []float32{1, 1, 0}, ImageID: "img1"},
	}
}

// indexes returns every backend that runs without external services.
func indexes(t *testing.T) map[string]Index {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Index{
		"memory": NewMemoryIndex(),
		"sqlite": sq,
	}
}

func TestIndex_SearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, sampleRecords()))

			got, err := idx.Search(ctx, []float32{1, 0.1, 0}, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].ID)
			assert.Equal(t, "c", got[1].ID)
			assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
			assert.Equal(t, "img1", got[1].ImageID)
			assert.Equal(t, "user", got[1].Source)
		})
	}
}

func TestIndex_UpsertByID(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, sampleRecords()))
			require.NoError(t, idx.Add(ctx, []Record{{ID: "a", Source: "seed", Content: "high fever", Embedding: []float32{1, 0, 0}}}))

			n, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			got, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "high fever", got[0].Content)
		})
	}
}

func TestIndex_EmptyAndZeroK(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			got, err := idx.Search(ctx, []float32{1, 0, 0}, 4)
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, idx.Add(ctx, sampleRecords()))
			got, err = idx.Search(ctx, []float32{1, 0, 0}, 0)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, sampleRecords()))

			_, err := idx.Search(ctx, []float32{1, 0}, 4)
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			require.NoError(t, idx.Add(ctx, []Record{{ID: "d", Source: "x", Content: "rash", Embedding: []float32{1, 0}}}))
			got, err := idx.Search(ctx, []float32{1, 0}, 4)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "d", got[0].ID)
		})
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4e-5}
	assert.Equal(t, in, DecodeVector(EncodeVector(in)))
	assert.Len(t, DecodeVector([]byte{1, 2, 3, 4, 5}), 1)
}

func TestSQLiteIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "k.db")

	idx, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, sampleRecords()))
	require.NoError(t, idx.Close())

	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, []float32{0, 1, 0}, got[0].Embedding)
}

func TestMemoryIndex_ConcurrentAddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, idx.Add(ctx, []Record{{ID: fmt.Sprint(i), Embedding: []float32{1, float32(i)}}}))
		}(i)
		go func() {
			defer wg.Done()
			_, err := idx.Search(ctx, []float32{1, 1}, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, _ := idx.Count(ctx)
	assert.Equal(t, 8, n)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestMigrationStatements(t *testing.T) {
	stmts := migrationStatements()
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, stmts[1], `"knowledge_chunks"`)
	assert.Contains(t, stmts[1], "embedding   vector NOT NULL")
}
