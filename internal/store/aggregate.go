package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	apperrors "github.com/duskwatch/duskwatch/pkg/errors"
)

// termColumns is the allow-list of keyword-typed columns usable for
// term-frequency aggregation.
var termColumns = map[string]struct{}{
	"domain":      {},
	"source":      {},
	"fetch_layer": {},
}

// timelineIntervals maps the accepted histogram intervals to date_trunc
// arguments. The values are interpolated into SQL, so only entries from this
// table may ever reach the query text.
var timelineIntervals = map[string]string{
	"hour":  "hour",
	"day":   "day",
	"week":  "week",
	"month": "month",
}

// TermBucket is one term-frequency aggregation bucket.
type TermBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// OnionRatio is the boolean-split bucket shape for onion vs clearnet.
type OnionRatio struct {
	Onion    int64 `json:"onion"`
	Clearnet int64 `json:"clearnet"`
}

// TimelineBucket is one time-histogram bucket with the nested score average.
type TimelineBucket struct {
	Bucket       Timestamp `json:"bucket"`
	Count        int64     `json:"count"`
	AvgSentiment float64   `json:"avg_sentiment"`
}

// ThreatBucket is one named score-range bucket.
type ThreatBucket struct {
	Level string `json:"level"`
	Count int64  `json:"count"`
}

// TermFrequency returns the topN most frequent values of an allow-listed
// keyword column.
func (s *Store) TermFrequency(ctx context.Context, column string, topN int) ([]TermBucket, error) {
	if _, ok := termColumns[column]; !ok {
		return nil, apperrors.Newf(apperrors.ErrValidation, 400, "field %q is not aggregatable", column)
	}
	if topN < 1 || topN > 1000 {
		topN = 100
	}
	query, args, err := psql.
		Select(column, "COUNT(*)").
		From("documents").
		Where(sq.NotEq{column: ""}).
		GroupBy(column).
		OrderBy("COUNT(*) DESC").
		Limit(uint64(topN)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building term aggregation: %w", err)
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.client.DB.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, storeErr("aggregating terms", err)
	}
	defer rows.Close()

	buckets := make([]TermBucket, 0, topN)
	for rows.Next() {
		var b TermBucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, storeErr("scanning term bucket", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating term buckets", err)
	}
	return buckets, nil
}

// OnionSplit returns how many documents came from onion services versus the
// clear web.
func (s *Store) OnionSplit(ctx context.Context) (*OnionRatio, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.client.DB.QueryContext(qctx,
		`SELECT is_onion, COUNT(*) FROM documents GROUP BY is_onion`)
	if err != nil {
		return nil, storeErr("aggregating onion ratio", err)
	}
	defer rows.Close()

	var ratio OnionRatio
	for rows.Next() {
		var isOnion bool
		var count int64
		if err := rows.Scan(&isOnion, &count); err != nil {
			return nil, storeErr("scanning onion bucket", err)
		}
		if isOnion {
			ratio.Onion = count
		} else {
			ratio.Clearnet = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating onion buckets", err)
	}
	return &ratio, nil
}

// Timeline returns a time-bucketed histogram over the trailing window, with
// the average sentiment score nested in each bucket. The interval must be one
// of hour, day, week, or month; days is clamped to [1, 365].
func (s *Store) Timeline(ctx context.Context, interval string, days int) ([]TimelineBucket, error) {
	trunc, ok := timelineIntervals[interval]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrValidation, 400, "interval %q is not supported", interval)
	}
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	query := fmt.Sprintf(`SELECT date_trunc('%s', scraped_at) AS bucket,
			COUNT(*), COALESCE(AVG(sentiment_score), 0)
		FROM documents
		WHERE scraped_at >= NOW() - $1::interval
		GROUP BY bucket
		ORDER BY bucket ASC`, trunc)

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.client.DB.QueryContext(qctx, query, fmt.Sprintf("%d days", days))
	if err != nil {
		return nil, storeErr("aggregating timeline", err)
	}
	defer rows.Close()

	var buckets []TimelineBucket
	for rows.Next() {
		var b TimelineBucket
		if err := rows.Scan(&b.Bucket.Time, &b.Count, &b.AvgSentiment); err != nil {
			return nil, storeErr("scanning timeline bucket", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating timeline buckets", err)
	}
	return buckets, nil
}

// ThreatDistribution buckets all documents into the named threat tiers by
// sentiment score. Every tier appears in the result, zero-filled when empty.
// The range boundaries mirror scoring.ThreatLevel.
func (s *Store) ThreatDistribution(ctx context.Context) ([]ThreatBucket, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.client.DB.QueryContext(qctx,
		`SELECT CASE
			WHEN sentiment_score <= -50 THEN 'critical'
			WHEN sentiment_score <= -25 THEN 'high'
			WHEN sentiment_score <= -10 THEN 'medium'
			WHEN sentiment_score < 0 THEN 'low'
			ELSE 'neutral'
		END AS level, COUNT(*)
		FROM documents
		GROUP BY level`)
	if err != nil {
		return nil, storeErr("aggregating threat distribution", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, storeErr("scanning threat bucket", err)
		}
		counts[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating threat buckets", err)
	}

	levels := []string{"critical", "high", "medium", "low", "neutral"}
	buckets := make([]ThreatBucket, 0, len(levels))
	for _, level := range levels {
		buckets = append(buckets, ThreatBucket{Level: level, Count: counts[level]})
	}
	return buckets, nil
}
