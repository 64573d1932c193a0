package server

import (
	"net/http"
	"time"

	"github.com/duskwatch/duskwatch/pkg/health"
	"github.com/duskwatch/duskwatch/pkg/metrics"
	"github.com/duskwatch/duskwatch/pkg/middleware"
)

// NewRouter assembles the route table and middleware chain. The event
// stream, health probes, and metrics scrape bypass the request timeout;
// everything else is bounded by requestTimeout.
func NewRouter(
	h *Handler,
	limiters *Limiters,
	checker *health.Checker,
	m *metrics.Metrics,
	metricsEnabled bool,
	requestTimeout time.Duration,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/documents", h.IngestDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)

	mux.HandleFunc("GET /api/v1/search", h.SearchDocuments)
	mux.HandleFunc("GET /api/v1/keywords", h.KeywordCounts)

	mux.HandleFunc("GET /api/v1/analytics/domains", h.Domains)
	mux.HandleFunc("GET /api/v1/analytics/onion-ratio", h.OnionRatio)
	mux.HandleFunc("GET /api/v1/analytics/timeline", h.Timeline)
	mux.HandleFunc("GET /api/v1/analytics/threat-distribution", h.ThreatDistribution)

	mux.HandleFunc("POST /api/v1/score", h.Score)
	mux.HandleFunc("GET /api/v1/lexicon/stats", h.LexiconStats)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)

	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
	mux.HandleFunc("POST /api/v1/status/start", h.StartRun)
	mux.HandleFunc("POST /api/v1/status/stop", h.StopRun)
	mux.HandleFunc("POST /api/v1/status/check", h.CheckRun)
	mux.HandleFunc("POST /api/v1/status/cooldown", h.CooldownRun)

	mux.HandleFunc("GET /api/v1/events", h.Events)

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if metricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = selectiveTimeout(requestTimeout, mux)
	chain = limiters.Middleware(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}

// selectiveTimeout applies the request timeout to every path except the
// long-lived streaming and probe endpoints.
func selectiveTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	bounded := middleware.Timeout(timeout)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/events", "/metrics":
			next.ServeHTTP(w, r)
		default:
			bounded.ServeHTTP(w, r)
		}
	})
}
