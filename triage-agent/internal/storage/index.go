package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when no stored vector has the query's
// dimension, usually after the embedding model changed.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Record is one embedded chunk.
type Record struct {
	ID         string
	Source     string
	ChunkIndex int
	Content    string
	ImageID    string
	Embedding  []float32
}

// Match is a record returned by Search with its cosine similarity.
type Match struct {
	Record
	Score float64
}

// Index stores records and answers nearest-neighbour queries. Adding a
// record whose ID already exists replaces it.
type Index interface {
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryIndex is a brute-force in-process index.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byID: make(map[string]int)}
}

func (m *MemoryIndex) Add(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if i, ok := m.byID[r.ID]; ok {
			m.records[i] = r
			continue
		}
		m.byID[r.ID] = len(m.records)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return rank(query, m.records, k)
}

func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryIndex) Close() error { return nil }

// rank scores every record against query and keeps the best k, ties in
// insertion order. Records of another dimension are skipped.
func rank(query []float32, records []Record, k int) ([]Match, error) {
	if k <= 0 || len(records) == 0 {
		return nil, nil
	}
	matches := make([]Match, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(query) {
			continue
		}
		matches = append(matches, Match{Record: r, Score: Cosine(query, r.Embedding)})
	}
	if len(matches) == 0 {
		return nil, ErrDimensionMismatch
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	data := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// DecodeVector reverses EncodeVector. Trailing bytes short of a full float
// are ignored.
func DecodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
