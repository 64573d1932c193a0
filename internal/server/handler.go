// Package server wires the HTTP API: request handlers, admission control,
// and the middleware chain around them.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/duskwatch/duskwatch/internal/ingest"
	"github.com/duskwatch/duskwatch/internal/scoring"
	"github.com/duskwatch/duskwatch/internal/search"
	"github.com/duskwatch/duskwatch/internal/status"
	"github.com/duskwatch/duskwatch/internal/store"
	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/logger"
	"github.com/duskwatch/duskwatch/pkg/metrics"
)

// Handler holds the dependencies of the API handlers.
type Handler struct {
	pipeline   *ingest.Pipeline
	search     *search.Service
	store      *store.Store
	analyzer   *scoring.Analyzer
	cell       *status.Cell
	broker     *status.Broker
	metrics    *metrics.Metrics
	production bool
}

// NewHandler creates the API handler set. metrics may be nil.
func NewHandler(
	pipeline *ingest.Pipeline,
	searchSvc *search.Service,
	st *store.Store,
	analyzer *scoring.Analyzer,
	cell *status.Cell,
	broker *status.Broker,
	m *metrics.Metrics,
	production bool,
) *Handler {
	return &Handler{
		pipeline:   pipeline,
		search:     searchSvc,
		store:      st,
		analyzer:   analyzer,
		cell:       cell,
		broker:     broker,
		metrics:    m,
		production: production,
	}
}

// IngestDocuments accepts a JSON array of documents and runs the ingestion
// pipeline over it.
func (h *Handler) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var docs []store.Document
	if err := decodeJSON(r, &docs); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.pipeline.Ingest(r.Context(), docs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SearchDocuments serves paginated full-text search.
func (h *Handler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize, err := queryInt(r, "pageSize", search.DefaultPageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	start := time.Now()
	result, hit, err := h.search.Search(r.Context(), r.URL.Query().Get("q"), page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.observeSearch("search", hit, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// GetDocument fetches one document by id.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument removes one document by id.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("document deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// KeywordCounts returns per-keyword document frequencies for the repeated
// k query parameter.
func (h *Handler) KeywordCounts(w http.ResponseWriter, r *http.Request) {
	keywords := r.URL.Query()["k"]
	if len(keywords) == 0 {
		h.writeError(w, r, apperrors.New(apperrors.ErrValidation, 400, "at least one k parameter is required"))
		return
	}
	start := time.Now()
	counts, err := h.search.KeywordCounts(r.Context(), keywords)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.observeSearch("count", false, time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{"keywords": counts})
}

// Domains serves the top source domains aggregation.
func (h *Handler) Domains(w http.ResponseWriter, r *http.Request) {
	topN, err := queryInt(r, "top", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	buckets, err := h.search.Domains(r.Context(), topN)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.countSearch("aggregate")
	writeJSON(w, http.StatusOK, map[string]any{"domains": buckets})
}

// OnionRatio serves the onion vs clearnet split.
func (h *Handler) OnionRatio(w http.ResponseWriter, r *http.Request) {
	ratio, err := h.search.OnionRatio(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.countSearch("aggregate")
	writeJSON(w, http.StatusOK, ratio)
}

// Timeline serves the time-bucketed document histogram.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "day"
	}
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	buckets, err := h.search.Timeline(r.Context(), interval, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.countSearch("aggregate")
	writeJSON(w, http.StatusOK, map[string]any{"interval": interval, "days": days, "timeline": buckets})
}

// ThreatDistribution serves document counts per threat tier.
func (h *Handler) ThreatDistribution(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.search.ThreatDistribution(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.countSearch("aggregate")
	writeJSON(w, http.StatusOK, map[string]any{"distribution": buckets})
}

// scoreRequest is the ad-hoc scoring payload: either named fields or a bare
// text shortcut.
type scoreRequest struct {
	Fields []scoring.Field `json:"fields"`
	Text   string          `json:"text"`
}

// scoreResponse mirrors the fields stamped on documents at ingestion time.
type scoreResponse struct {
	Score        int      `json:"score"`
	Comparative  float64  `json:"comparative"`
	MatchedTerms []string `json:"matched_terms"`
	ThreatLevel  string   `json:"threat_level"`
}

// Score runs the scoring engine over arbitrary caller-supplied text.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Text != "" {
		req.Fields = append(req.Fields, scoring.Field{Name: "text", Text: req.Text})
	}
	if len(req.Fields) == 0 {
		h.writeError(w, r, apperrors.New(apperrors.ErrValidation, 400, "fields or text is required"))
		return
	}
	res := h.analyzer.ScoreFields(req.Fields)
	writeJSON(w, http.StatusOK, scoreResponse{
		Score:        res.Score,
		Comparative:  res.Comparative,
		MatchedTerms: res.MatchedTerms,
		ThreatLevel:  scoring.ThreatLevel(res.Score),
	})
}

// LexiconStats reports the loaded term-table summary.
func (h *Handler) LexiconStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analyzer.Lexicon().Stats())
}

// Stats reports store, cache, and broadcast statistics in one payload.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	storeStats, err := h.store.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hits, misses := h.search.CacheStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"store": storeStats,
		"cache": map[string]int64{
			"hits":   hits,
			"misses": misses,
		},
		"subscribers": h.broker.SubscriberCount(),
	})
}

func (h *Handler) observeSearch(kind string, cacheHit bool, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchesTotal.WithLabelValues(kind).Inc()
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
}

func (h *Handler) countSearch(kind string) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchesTotal.WithLabelValues(kind).Inc()
}

// writeError logs the full error and sends the external-safe message with
// the mapped status code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if code >= 500 {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	} else {
		log.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": apperrors.ExternalMessage(err, h.production)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// decodeJSON reads the request body as JSON into v, mapping malformed input
// to a validation error.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Newf(apperrors.ErrValidation, 400, "malformed json body: %v", err)
	}
	return nil
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrValidation, 400, "parameter %s must be an integer", name)
	}
	return n, nil
}
