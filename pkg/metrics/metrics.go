// Package metrics defines the Prometheus metric collectors used across the
// search service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	IndexQueriesTotal    *prometheus.CounterVec
	IndexWindowSize      prometheus.Histogram
	ListCacheHitsTotal   prometheus.Counter
	ListCacheMissesTotal prometheus.Counter
	HydrationDropped     prometheus.Counter
	DocsIndexedTotal     prometheus.Counter
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Activity searches by strategy (all, list, scoped) and result (full, short, empty, error).",
			},
			[]string{"strategy", "result"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Activity search latency in seconds, including hydration.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"strategy"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of activities returned per page.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		IndexQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_queries_total",
				Help: "Index queries by outcome: ok, error, rejected (invalid query) or retry.",
			},
			[]string{"status"},
		),
		IndexWindowSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_window_size",
				Help:    "Rows requested from the index per round-trip.",
				Buckets: prometheus.ExponentialBuckets(10, 2, 8),
			},
		),
		ListCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "list_cache_hits_total",
				Help: "Available-id list reads served from redis.",
			},
		),
		ListCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "list_cache_misses_total",
				Help: "Available-id list reads that fell through to postgres.",
			},
		),
		HydrationDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hydration_dropped_total",
				Help: "Activity ids dropped from a page because no record could be loaded.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total activities written to the index.",
			},
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
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.IndexQueriesTotal,
		m.IndexWindowSize,
		m.ListCacheHitsTotal,
		m.ListCacheMissesTotal,
		m.HydrationDropped,
		m.DocsIndexedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
