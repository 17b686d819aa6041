package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/config"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/graph"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/imagestore"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/llm"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/storage"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/telemetry"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision/ocr"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	index     storage.Index
	images    *imagestore.Store
	store     *knowledge.Store
	engine    *graph.Engine
	cache     processing.Cache
	analyzer  vision.Analyzer
	chatModel string
}

func loadConfig(envFile string) (*config.Config, error) {
	if envFile == "" {
		return config.Load()
	}
	return config.Load(envFile)
}

// newApp builds every component from cfg. Close releases what it opened.
func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	if out == nil {
		out = os.Stderr
	}
	a := &app{cfg: cfg, log: telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, out)}

	var client *llm.Client
	if cfg.OpenAIAPIKey != "" {
		client = llm.NewClient(llm.Options{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.LLMTimeout,
			MaxRetries:  cfg.LLMMaxRetries,
		}, a.log)
	}

	embedder, err := a.buildEmbedder(client)
	if err != nil {
		return nil, err
	}

	a.index, err = openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.images, err = imagestore.New(cfg.ImageStorageDir, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.analyzer, err = a.buildAnalyzer(ctx, client)
	if err != nil {
		a.Close()
		return nil, err
	}

	g := knowledge.DefaultGraph()
	if cfg.KnowledgeGraphFile != "" {
		if g, err = knowledge.LoadGraph(cfg.KnowledgeGraphFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.store, err = knowledge.New(knowledge.Options{
		Index:    a.index,
		Embedder: embedder,
		Chunker:  processing.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		Graph:    g,
		Analyzer: a.analyzer,
		Images:   a.images,
		Log:      a.log.With().Str("component", "knowledge").Logger(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	stages := graph.RuleStages(a.store.Graph())
	switch {
	case cfg.LLMProvider == "ollama":
		a.chatModel = "ollama:" + cfg.OllamaModel
		stages = graph.LLMStages(llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel, cfg.LLMTimeout, a.log))
	case client != nil:
		a.chatModel = "openai:" + cfg.ModelName
		stages = graph.LLMStages(client)
	default:
		a.chatModel = "rules"
		a.log.Warn().Msg("no chat model configured, using rule-based stages")
	}

	a.engine, err = graph.NewEngine(stages, a.store, a.analyzer, graph.Config{
		MaxRevisions:  cfg.MaxRevisions,
		RetrievalK:    cfg.RetrievalK,
		SearchTimeout: cfg.SearchTimeout,
	}, a.log)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildEmbedder(client *llm.Client) (processing.Embedder, error) {
	var (
		base  processing.Embedder
		model string
	)
	switch a.cfg.EmbeddingProvider {
	case "openai":
		if client != nil {
			e := processing.NewOpenAIEmbedder(client, a.cfg.EmbeddingModel)
			base, model = e, e.Model()
			break
		}
		a.log.Warn().Msg("OPENAI_API_KEY not set, falling back to hash embeddings")
		fallthrough
	case "hash":
		e := processing.NewHashEmbedder(0)
		base, model = e, e.Model()
	case "ollama":
		e := processing.NewOllamaEmbedder(a.cfg.OllamaURL, "")
		base, model = e, e.Model()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", a.cfg.EmbeddingProvider)
	}

	cache, err := processing.NewCache(processing.CacheConfig{
		Type:     a.cfg.EmbeddingCacheType,
		RedisURL: a.cfg.RedisURL,
		MaxSize:  a.cfg.EmbeddingCacheSize,
		TTL:      a.cfg.EmbeddingCacheTTL,
	})
	if err != nil {
		a.log.Warn().Err(err).Str("type", a.cfg.EmbeddingCacheType).Msg("embedding cache unavailable, caching in memory")
		if cache, err = processing.NewMemoryCache(a.cfg.EmbeddingCacheSize, a.cfg.EmbeddingCacheTTL); err != nil {
			return nil, err
		}
	}
	a.cache = cache
	return processing.NewCachedEmbedder(base, cache, model, a.log.With().Str("component", "embeddings").Logger()), nil
}

func (a *app) buildAnalyzer(ctx context.Context, client *llm.Client) (vision.Analyzer, error) {
	maxBytes := a.cfg.MaxImageBytes()
	switch a.cfg.VisionProvider {
	case "openai":
		if client == nil {
			a.log.Warn().Msg("OPENAI_API_KEY not set, image analysis disabled")
			return vision.Disabled{}, nil
		}
		return vision.NewOpenAIAnalyzer(client, a.cfg.VisionModel, maxBytes, a.log), nil
	case "google":
		return vision.NewGoogleAnalyzer(ctx, vision.GoogleOptions{APIKey: a.cfg.GoogleAPIKey}, maxBytes, a.log)
	case "ocr":
		return ocr.Analyzer{MaxBytes: maxBytes}, nil
	default:
		return vision.Disabled{}, nil
	}
}

func openIndex(ctx context.Context, cfg *config.Config) (storage.Index, error) {
	switch cfg.VectorBackend {
	case "memory":
		return storage.NewMemoryIndex(), nil
	case "sqlite":
		return storage.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// cachePinger exposes the Redis cache to the health check. Other caches
// are always up.
func (a *app) cachePinger() interface{ Ping(context.Context) error } {
	if rc, ok := a.cache.(*processing.RedisCache); ok {
		return rc
	}
	return nil
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close index")
		}
	}
	if rc, ok := a.cache.(*processing.RedisCache); ok {
		rc.Close()
	}
}
