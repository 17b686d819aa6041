// Package api exposes the triage pipeline and the knowledge store over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/graph"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/imagestore"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
)

const (
	serviceName    = "Medical Triage System"
	serviceVersion = "1.0.0"
)

// Pipeline runs one triage request.
type Pipeline interface {
	Run(ctx context.Context, in graph.Input) (*graph.Result, error)
}

// Knowledge is the knowledge store as seen by the handlers.
type Knowledge interface {
	Ingest(ctx context.Context, req knowledge.IngestRequest) (knowledge.IngestResult, error)
	GraphQuery(ctx context.Context, term string) ([]knowledge.Relation, error)
	HybridSearch(ctx context.Context, query string, k int) (knowledge.HybridResult, error)
	Ping(ctx context.Context) error
}

// Images lists and removes stored images.
type Images interface {
	List(limit int) ([]imagestore.Metadata, error)
	Get(id string) (imagestore.Metadata, error)
	Delete(id string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server. Images and Cache may be nil.
type Options struct {
	Pipeline      Pipeline
	Knowledge     Knowledge
	Images        Images
	Cache         Pinger
	MaxImageBytes int64
	DefaultK      int
	Log           zerolog.Logger
}

type Server struct {
	pipeline      Pipeline
	knowledge     Knowledge
	images        Images
	cache         Pinger
	maxImageBytes int64
	defaultK      int
	log           zerolog.Logger
	now           func() time.Time
}

func NewServer(opts Options) *Server {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 4
	}
	return &Server{
		pipeline:      opts.Pipeline,
		knowledge:     opts.Knowledge,
		images:        opts.Images,
		cache:         opts.Cache,
		maxImageBytes: opts.MaxImageBytes,
		defaultK:      opts.DefaultK,
		log:           opts.Log.With().Str("component", "api").Logger(),
		now:           time.Now,
	}
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.requestID, cors, s.observe)

	router.HandleFunc("/", s.handleRoot).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/chat", s.handleChat).Methods("POST", "OPTIONS")
	router.HandleFunc("/ingest", s.handleIngest).Methods("POST", "OPTIONS")
	router.HandleFunc("/knowledge-graph/query", s.handleGraphQuery).Methods("GET")
	router.HandleFunc("/knowledge-graph/search", s.handleHybridSearch).Methods("GET")
	router.HandleFunc("/images", s.handleListImages).Methods("GET")
	router.HandleFunc("/images/{id}", s.handleGetImage).Methods("GET")
	router.HandleFunc("/images/{id}", s.handleDeleteImage).Methods("DELETE", "OPTIONS")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(router, "triage-api")
}

// bodyLimit leaves room for a base64 image of MaxImageBytes plus JSON.
func (s *Server) bodyLimit() int64 {
	if s.maxImageBytes <= 0 {
		return 32 << 20
	}
	return s.maxImageBytes*4/3 + 1<<20
}
