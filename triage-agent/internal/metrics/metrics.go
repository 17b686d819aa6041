package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_pipeline_runs_total",
			Help: "Pipeline runs by terminal stage",
		},
		[]string{"terminal"},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_stage_duration_seconds",
			Help:    "Duration of each workflow stage",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)
	DegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_degraded_total",
			Help: "Pipeline runs that continued after a non-fatal dependency failure",
		},
		[]string{"reason"},
	)
	RiskBandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_risk_band_total",
			Help: "Reported risk bands",
		},
		[]string{"band"},
	)
	RevisionsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_revisions",
			Help:    "Number of EVALUATE -> ROUTE loops per run",
			Buckets: []float64{0, 1, 2, 3, 5},
		},
	)
	IngestedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_ingested_chunks_total",
			Help: "Text chunks written to the vector index",
		},
		[]string{"kind"},
	)
	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_external_calls_total",
			Help: "Calls to hosted models and stores",
		},
		[]string{"provider", "status"},
	)
	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)
	EmbeddingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(DegradedTotal)
	prometheus.MustRegister(RiskBandsTotal)
	prometheus.MustRegister(RevisionsHistogram)
	prometheus.MustRegister(IngestedChunksTotal)
	prometheus.MustRegister(ExternalCallsTotal)
	prometheus.MustRegister(EmbeddingCacheHits)
	prometheus.MustRegister(EmbeddingCacheMisses)
}

// ObserveExternal records the outcome of one call to an external dependency.
func ObserveExternal(provider string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ExternalCallsTotal.WithLabelValues(provider, status).Inc()
}
