package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedder_OnlyEmbedsMisses(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(10, time.Hour)
	require.NoError(t, err)
	next := &countingEmbedder{}
	e := NewCachedEmbedder(next, cache, "test", zerolog.Nop())

	_, err = e.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)

	vecs, err := e.Embed(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, vecs)

	require.Len(t, next.calls, 2)
	assert.Equal(t, []string{"ccc"}, next.calls[1])
}

func TestCachedEmbedder_AllHitsSkipUpstream(t *testing.T) {
	ctx := context.Background()
	cache, _ := NewMemoryCache(10, 0)
	next := &countingEmbedder{}
	e := NewCachedEmbedder(next, cache, "test", zerolog.Nop())

	_, err := e.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	_, err = e.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Len(t, next.calls, 1)
}

func TestCachedEmbedder_PropagatesError(t *testing.T) {
	next := &countingEmbedder{err: errors.New("upstream down")}
	e := NewCachedEmbedder(next, NoopCache{}, "test", zerolog.Nop())

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.EqualError(t, err, "upstream down")
}

func TestCachedEmbedder_ModelNamespacesKeys(t *testing.T) {
	a := NewCachedEmbedder(nil, NoopCache{}, "m1", zerolog.Nop())
	b := NewCachedEmbedder(nil, NoopCache{}, "m2", zerolog.Nop())
	assert.NotEqual(t, a.key("fever"), b.key("fever"))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(2, time.Millisecond)
	require.NoError(t, err)

	cache.Set(ctx, "k", []float32{1})
	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_Evicts(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(1, 0)
	require.NoError(t, err)

	cache.Set(ctx, "a", []float32{1})
	cache.Set(ctx, "b", []float32{2})
	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)
	v, ok := cache.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, []float32{2}, v)
}

func TestNewCache(t *testing.T) {
	c, err := NewCache(CacheConfig{Type: "noop"})
	require.NoError(t, err)
	assert.IsType(t, NoopCache{}, c)

	c, err = NewCache(CacheConfig{Type: "memory", MaxSize: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	_, err = NewCache(CacheConfig{Type: "memcached"})
	assert.Error(t, err)
}
