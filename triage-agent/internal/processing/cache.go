package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/storage"
)

// Cache stores embeddings by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, value []float32)
}

// CacheConfig selects and sizes an embedding cache.
type CacheConfig struct {
	Type      string // redis, memory or noop
	RedisURL  string
	KeyPrefix string
	MaxSize   int
	TTL       time.Duration
}

// NewCache builds the cache named by cfg.Type.
func NewCache(cfg CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisCache(cfg.RedisURL, cfg.KeyPrefix, cfg.TTL)
	case "memory", "":
		return NewMemoryCache(cfg.MaxSize, cfg.TTL)
	case "noop":
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}

// RedisCache keeps embeddings as little-endian float32 blobs.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL, prefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if prefix == "" {
		prefix = "emb:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil || len(data)%4 != 0 {
		return nil, false
	}
	return storage.DecodeVector(data), true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []float32) {
	c.client.Set(ctx, c.prefix+key, storage.EncodeVector(value), c.ttl)
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

// MemoryCache is a bounded in-process LRU with per-entry expiry.
type MemoryCache struct {
	cache *lru.Cache
	ttl   time.Duration
	mu    sync.Mutex
}

type cacheEntry struct {
	value     []float32
	expiresAt time.Time
}

func NewMemoryCache(maxSize int, ttl time.Duration) (*MemoryCache, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	cache, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache, ttl: ttl}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	entry := val.(cacheEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.cache.Add(key, entry)
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]float32, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, []float32)        {}

// CachedEmbedder consults the cache before calling the wrapped embedder and
// only sends the misses upstream.
type CachedEmbedder struct {
	next  Embedder
	cache Cache
	model string
	log   zerolog.Logger
}

// NewCachedEmbedder wraps next. model namespaces the keys so vectors from
// different models never mix.
func NewCachedEmbedder(next Embedder, cache Cache, model string, log zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, log: log}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string

	for i, t := range texts {
		if v, ok := e.cache.Get(ctx, e.key(t)); ok {
			metrics.EmbeddingCacheHits.Inc()
			out[i] = v
			continue
		}
		metrics.EmbeddingCacheMisses.Inc()
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := e.next.Embed(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missText), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		e.cache.Set(ctx, e.key(missText[j]), vecs[j])
	}
	e.log.Debug().Int("hits", len(texts)-len(missText)).Int("misses", len(missText)).Msg("embedded batch")
	return out, nil
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.model + ":" + hex.EncodeToString(sum[:])
}
