package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duskwatch/duskwatch/internal/ratelimit"
	"github.com/duskwatch/duskwatch/pkg/config"
	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/logger"
	"github.com/duskwatch/duskwatch/pkg/metrics"
)

// Route classes for admission control. Every API route falls under the
// general limit; search and ingest routes additionally carry their own
// tighter windows.
const (
	classGeneral = "general"
	classSearch  = "search"
	classIngest  = "ingest"
)

// Limiters is the admission-control middleware state: one fixed-window
// limiter per route class.
type Limiters struct {
	general *ratelimit.Limiter
	search  *ratelimit.Limiter
	ingest  *ratelimit.Limiter
	cfg     config.LimitsConfig
	metrics *metrics.Metrics
}

// NewLimiters creates the per-class limiters from configuration.
func NewLimiters(cfg config.LimitsConfig, m *metrics.Metrics) *Limiters {
	return &Limiters{
		general: ratelimit.New(cfg.GeneralWindow),
		search:  ratelimit.New(cfg.SearchWindow),
		ingest:  ratelimit.New(cfg.IngestWindow),
		cfg:     cfg,
		metrics: m,
	}
}

// Close stops the limiters' background reapers.
func (l *Limiters) Close() {
	l.general.Close()
	l.search.Close()
	l.ingest.Close()
}

// Middleware enforces the rate limits. Health and metrics probes are exempt.
func (l *Limiters) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		key := callerKey(r)
		if !l.general.Allow(key, l.cfg.GeneralLimit) {
			l.reject(w, r, classGeneral, l.general.Retry(key))
			return
		}
		switch classify(r) {
		case classSearch:
			if !l.search.Allow(key, l.cfg.SearchLimit) {
				l.reject(w, r, classSearch, l.search.Retry(key))
				return
			}
		case classIngest:
			if !l.ingest.Allow(key, l.cfg.IngestLimit) {
				l.reject(w, r, classIngest, l.ingest.Retry(key))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiters) reject(w http.ResponseWriter, r *http.Request, class string, retry time.Duration) {
	if l.metrics != nil {
		l.metrics.RateLimitedTotal.WithLabelValues(class).Inc()
	}
	logger.FromContext(r.Context()).Warn("request rate limited",
		"class", class, "method", r.Method, "path", r.URL.Path)

	seconds := int(retry.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests,
		map[string]string{"error": apperrors.ErrRateLimited.Error()})
}

func exemptPath(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// classify maps a request to its admission class.
func classify(r *http.Request) string {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/api/v1/documents":
		return classIngest
	case path == "/api/v1/search",
		path == "/api/v1/keywords",
		strings.HasPrefix(path, "/api/v1/analytics/"):
		return classSearch
	default:
		return classGeneral
	}
}

// callerKey identifies the caller: the API key when presented, otherwise the
// client IP.
func callerKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
