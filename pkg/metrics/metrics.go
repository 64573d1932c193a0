// Package metrics defines the Prometheus metric collectors used across the
// intake and query services and exposes an HTTP handler for scraping.
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
	DocsIngestedTotal    prometheus.Counter
	IngestErrorsTotal    prometheus.Counter
	BatchesRejectedTotal *prometheus.CounterVec
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	RateLimitedTotal     *prometheus.CounterVec
	ThreatLevelTotal     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
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
		DocsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_ingested_total",
				Help: "Total documents accepted and written to the store.",
			},
		),
		IngestErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_errors_total",
				Help: "Total per-document failures during batch ingestion.",
			},
		),
		BatchesRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batches_rejected_total",
				Help: "Total ingest batches rejected before any write, by reason.",
			},
			[]string{"reason"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "searches_total",
				Help: "Total search-class requests by kind (search, count, aggregate).",
			},
			[]string{"kind"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limited_total",
				Help: "Total requests rejected by admission control, by route class.",
			},
			[]string{"class"},
		),
		ThreatLevelTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_level_total",
				Help: "Documents scored at ingestion time, by threat level.",
			},
			[]string{"level"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.DocsIngestedTotal,
		m.IngestErrorsTotal,
		m.BatchesRejectedTotal,
		m.SearchesTotal,
		m.SearchLatency,
		m.RateLimitedTotal,
		m.ThreatLevelTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
