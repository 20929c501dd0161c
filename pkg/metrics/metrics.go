// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	UploadsTotal         *prometheus.CounterVec
	JobsTotal            *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	ChunksPersisted      prometheus.Counter
	ExternalCallCost     *prometheus.CounterVec
	ExternalCallsTotal   *prometheus.CounterVec
	QuotaRejections      *prometheus.CounterVec
	LedgerErrors         prometheus.Counter
	RateLimitDecisions   *prometheus.CounterVec
	RetrievalResults     prometheus.Histogram
	QueryCacheTotal      *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_uploads_total",
				Help: "Accepted and rejected uploads by media type and outcome.",
			},
			[]string{"media_type", "outcome"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processing_jobs_total",
				Help: "Processing jobs that reached a terminal state, by media type and status.",
			},
			[]string{"media_type", "status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Duration of each worker pipeline stage.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180, 600},
			},
			[]string{"stage"},
		),
		ChunksPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_persisted_total",
				Help: "Total chunks committed to the store.",
			},
		),
		ExternalCallCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_call_cost_usd_total",
				Help: "Metered cost of paid external calls in USD.",
			},
			[]string{"service", "model"},
		),
		ExternalCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_calls_total",
				Help: "Paid external calls by service and outcome.",
			},
			[]string{"service", "outcome"},
		),
		QuotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quota_rejections_total",
				Help: "Paid calls rejected because a quota dimension was exceeded.",
			},
			[]string{"dimension"},
		),
		LedgerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "usage_ledger_errors_total",
				Help: "Usage ledger store failures.",
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Rate limiter decisions by endpoint class and outcome (allowed, limited, fail_open).",
			},
			[]string{"class", "outcome"},
		),
		RetrievalResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_results_count",
				Help:    "Number of chunks returned per query.",
				Buckets: []float64{0, 1, 3, 5, 10, 25, 50},
			},
		),
		QueryCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_embedding_cache_total",
				Help: "Query embedding cache lookups by result (hit, miss).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UploadsTotal,
		m.JobsTotal,
		m.StageDuration,
		m.ChunksPersisted,
		m.ExternalCallCost,
		m.ExternalCallsTotal,
		m.QuotaRejections,
		m.LedgerErrors,
		m.RateLimitDecisions,
		m.RetrievalResults,
		m.QueryCacheTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
