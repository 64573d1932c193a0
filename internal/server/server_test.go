package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duskwatch/duskwatch/internal/ingest"
	"github.com/duskwatch/duskwatch/internal/scoring"
	"github.com/duskwatch/duskwatch/internal/status"
	"github.com/duskwatch/duskwatch/internal/store"
	"github.com/duskwatch/duskwatch/pkg/config"
	"github.com/duskwatch/duskwatch/pkg/health"
)

type memStore struct {
	indexed int
}

func (m *memStore) BulkUpsert(ctx context.Context, docs []store.Document, maxBatch int) (int, int, error) {
	m.indexed += len(docs)
	return len(docs), 0, nil
}

func newTestRouter(t *testing.T, limits config.LimitsConfig) (http.Handler, *status.Cell) {
	t.Helper()
	analyzer := scoring.NewAnalyzer(scoring.NewLexicon(nil))
	broker := status.NewBroker()
	cell := status.NewCell(broker)
	pipeline := ingest.New(&memStore{}, analyzer, broker, nil, nil, limits.MaxBatchSize)

	h := NewHandler(pipeline, nil, nil, analyzer, cell, broker, nil, false)
	limiters := NewLimiters(limits, nil)
	t.Cleanup(limiters.Close)

	return NewRouter(h, limiters, health.NewChecker(), nil, false, 5*time.Second), cell
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxBatchSize:  100,
		GeneralLimit:  100,
		GeneralWindow: 15 * time.Minute,
		SearchLimit:   30,
		SearchWindow:  time.Minute,
		IngestLimit:   10,
		IngestWindow:  time.Minute,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/status/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	var s status.RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if !s.Active || s.Message != "run started" {
		t.Errorf("after start: %+v", s)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/status/cooldown", `{"minutes":5}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.Active {
		t.Error("cooldown should deactivate")
	}
	if s.Message != "5 minutes cooldown" {
		t.Errorf("message = %q, want %q", s.Message, "5 minutes cooldown")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/status", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.Message != "5 minutes cooldown" {
		t.Errorf("persisted message = %q", s.Message)
	}
}

func TestCooldownValidation(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())

	for _, body := range []string{`{}`, `{"minutes":0}`, `{"minutes":-3}`, `{"minutes":2000}`, `not json`} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/status/cooldown", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("cooldown body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCheckEndpoint(t *testing.T) {
	router, cell := newTestRouter(t, defaultLimits())
	cell.Start()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/status/check", "")
	var s status.RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if !s.Checked {
		t.Error("check did not set checked")
	}
	if !s.Active {
		t.Error("check changed the run state")
	}
}

func TestScoreEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/score", `{"text":"leaked passwords for sale"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res scoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Score != -10 {
		t.Errorf("score = %d, want -10", res.Score)
	}
	if res.ThreatLevel != scoring.LevelMedium {
		t.Errorf("threat_level = %q, want %q", res.ThreatLevel, scoring.LevelMedium)
	}
}

func TestScoreEndpointRejectsEmpty(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())
	rec := doJSON(t, router, http.MethodPost, "/api/v1/score", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())

	body := `[{"url":"http://example.onion/x","title":"leaked passwords"}]`
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Indexed != 1 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestEndpointRejectsEmptyAndMalformed(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents", `[]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/documents", `{"not":"an array"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestIngestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())
	body := `[{"url":"http://example.onion/x","title":"t"}]`

	for i := 0; i < 10; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/documents", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/documents", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("11th ingest status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}

	// Other route classes remain unaffected.
	rec = doJSON(t, router, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Errorf("general route status = %d after ingest throttle", rec.Code)
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())
	body := `[{"url":"http://example.onion/x","title":"t"}]`

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", strings.NewReader(body))
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < 10; i++ {
		if code := send("alpha"); code != http.StatusOK {
			t.Fatalf("alpha request %d status = %d", i+1, code)
		}
	}
	if code := send("alpha"); code != http.StatusTooManyRequests {
		t.Errorf("alpha over limit status = %d, want 429", code)
	}
	if code := send("beta"); code != http.StatusOK {
		t.Errorf("beta status = %d, want 200", code)
	}
}

func TestHealthExemptFromLimits(t *testing.T) {
	limits := defaultLimits()
	limits.GeneralLimit = 1
	router, _ := newTestRouter(t, limits)

	doJSON(t, router, http.MethodGet, "/api/v1/status", "")
	for i := 0; i < 5; i++ {
		rec := doJSON(t, router, http.MethodGet, "/health/live", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("health probe %d status = %d", i+1, rec.Code)
		}
	}
}

func TestLexiconStatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())
	rec := doJSON(t, router, http.MethodGet, "/api/v1/lexicon/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats scoring.LexiconStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalTerms == 0 || stats.ThreatTerms == 0 {
		t.Errorf("stats = %+v, want populated tables", stats)
	}
}

func TestEventsStreamSendsSnapshot(t *testing.T) {
	router, cell := newTestRouter(t, defaultLimits())
	cell.Start()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not terminate on disconnect")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, fmt.Sprintf("event: %s", status.TopicStatusUpdates)) {
		t.Errorf("stream body missing status snapshot: %q", body)
	}
	if !strings.Contains(body, "run started") {
		t.Errorf("snapshot payload missing run state: %q", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, defaultLimits())
	rec := doJSON(t, router, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
