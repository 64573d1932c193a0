// Package ingest implements the write path: batch admission, per-document
// scoring, atomic persistence, cache invalidation, and the data-update
// broadcast that follows every accepted batch.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/duskwatch/duskwatch/internal/scoring"
	"github.com/duskwatch/duskwatch/internal/status"
	"github.com/duskwatch/duskwatch/internal/store"
	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
	"github.com/duskwatch/duskwatch/pkg/metrics"
)

// DocumentStore is the slice of the store the pipeline writes through.
type DocumentStore interface {
	BulkUpsert(ctx context.Context, docs []store.Document, maxBatch int) (indexed, failed int, err error)
}

// Invalidator drops cached query results after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Result is the ingestion acknowledgment returned to the submitter.
type Result struct {
	Indexed int `json:"indexed"`
	Errors  int `json:"errors"`
}

// Pipeline carries a batch from admission through scoring, persistence, and
// the post-write broadcast.
type Pipeline struct {
	store    DocumentStore
	analyzer *scoring.Analyzer
	broker   *status.Broker
	cache    Invalidator
	metrics  *metrics.Metrics
	maxBatch int
	logger   *slog.Logger
}

// New creates a Pipeline. broker, cache, and metrics may be nil; maxBatch
// falls back to the store default when non-positive.
func New(st DocumentStore, analyzer *scoring.Analyzer, broker *status.Broker, cache Invalidator, m *metrics.Metrics, maxBatch int) *Pipeline {
	if maxBatch <= 0 {
		maxBatch = store.DefaultMaxBatch
	}
	return &Pipeline{
		store:    st,
		analyzer: analyzer,
		broker:   broker,
		cache:    cache,
		metrics:  m,
		maxBatch: maxBatch,
		logger:   slog.Default().With("component", "ingest-pipeline"),
	}
}

// MaxBatch returns the configured batch cap.
func (p *Pipeline) MaxBatch() int {
	return p.maxBatch
}

// Ingest admits, scores, and persists one batch. Empty and oversized batches
// are rejected before any scoring or store work. Per-document failures are
// counted in the result rather than failing the batch; the accepted
// documents are written atomically. On success the query cache is flushed
// and a data-update event is broadcast.
func (p *Pipeline) Ingest(ctx context.Context, docs []store.Document) (*Result, error) {
	if len(docs) == 0 {
		p.rejectBatch("empty")
		return nil, apperrors.New(apperrors.ErrEmptyBatch, 400, "batch contains no documents")
	}
	if len(docs) > p.maxBatch {
		p.rejectBatch("too_large")
		return nil, apperrors.Newf(apperrors.ErrBatchTooLarge, 400,
			"batch of %d exceeds limit of %d", len(docs), p.maxBatch)
	}

	for i := range docs {
		p.score(&docs[i])
	}

	indexed, failed, err := p.store.BulkUpsert(ctx, docs, p.maxBatch)
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.DocsIngestedTotal.Add(float64(indexed))
		p.metrics.IngestErrorsTotal.Add(float64(failed))
	}
	p.logger.Info("batch ingested", "indexed", indexed, "errors", failed)

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			p.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	if p.broker != nil {
		p.broker.Publish(status.TopicDataUpdates, status.DataUpdate{
			Indexed:   indexed,
			Errors:    failed,
			Timestamp: time.Now().UTC(),
		})
	}
	return &Result{Indexed: indexed, Errors: failed}, nil
}

// score runs the analyzer over the document's text fields and stamps the
// sentiment fields in place.
func (p *Pipeline) score(doc *store.Document) {
	res := p.analyzer.ScoreFields([]scoring.Field{
		{Name: "title", Text: doc.Title},
		{Name: "content", Text: doc.Content},
		{Name: "author", Text: doc.Author},
	})
	doc.SentimentScore = float64(res.Score)
	doc.SentimentComparative = res.Comparative
	doc.KeywordsFound = res.MatchedTerms
	if p.metrics != nil {
		p.metrics.ThreatLevelTotal.WithLabelValues(scoring.ThreatLevel(res.Score)).Inc()
	}
}

func (p *Pipeline) rejectBatch(reason string) {
	if p.metrics != nil {
		p.metrics.BatchesRejectedTotal.WithLabelValues(reason).Inc()
	}
}
