package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/duskwatch/duskwatch/internal/store"
)

// Page size bounds for paginated search.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// documentStore is the slice of the store the read path uses.
type documentStore interface {
	Search(ctx context.Context, sanitizedQuery string, fields []string, page, pageSize int) ([]store.Document, error)
	Count(ctx context.Context, sanitizedQuery string, fields []string) (int64, error)
	TermFrequency(ctx context.Context, column string, topN int) ([]store.TermBucket, error)
	OnionSplit(ctx context.Context) (*store.OnionRatio, error)
	Timeline(ctx context.Context, interval string, days int) ([]store.TimelineBucket, error)
	ThreatDistribution(ctx context.Context) ([]store.ThreatBucket, error)
}

// resultCache is the cache surface the service relies on. *Cache satisfies
// it, including as a nil pass-through.
type resultCache interface {
	GetOrCompute(ctx context.Context, key string, compute func() ([]byte, error)) ([]byte, bool, error)
	Invalidate(ctx context.Context) error
	Stats() (hits, misses int64)
}

// Service is the read path: it sanitizes caller text, serves paginated
// search, keyword counts, and aggregations, and fronts the store with the
// optional query cache.
type Service struct {
	store  documentStore
	cache  resultCache
	logger *slog.Logger
}

// NewService creates a Service. cache may be nil.
func NewService(st *store.Store, cache *Cache) *Service {
	return &Service{
		store:  st,
		cache:  cache,
		logger: slog.Default().With("component", "query-service"),
	}
}

// Result is one page of search results.
type Result struct {
	Query    string           `json:"query"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int64            `json:"total"`
	Results  []store.Document `json:"results"`
}

// KeywordCount is the per-keyword document frequency.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int64  `json:"count"`
}

// Search returns the requested page of documents matching rawQuery, newest
// first. Pages are zero-based; pageSize is clamped to [1, MaxPageSize] with
// DefaultPageSize for the zero value. The bool reports a cache hit.
func (s *Service) Search(ctx context.Context, rawQuery string, page, pageSize int) (*Result, bool, error) {
	if page < 0 {
		page = 0
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	sanitized := Sanitize(rawQuery)

	var result Result
	key := fmt.Sprintf("search|%s|%d|%d", sanitized, page, pageSize)
	hit, err := s.cachedJSON(ctx, key, &result, func() (any, error) {
		docs, err := s.store.Search(ctx, sanitized, store.DefaultSearchFields, page, pageSize)
		if err != nil {
			return nil, err
		}
		total, err := s.store.Count(ctx, sanitized, store.DefaultSearchFields)
		if err != nil {
			return nil, err
		}
		return &Result{
			Query:    rawQuery,
			Page:     page,
			PageSize: pageSize,
			Total:    total,
			Results:  docs,
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, hit, nil
}

// KeywordCounts returns how many documents mention each keyword in their
// title or content. Keywords that sanitize to empty are skipped. Cache
// entries are keyed by the raw keyword so each caller gets its own label
// back even when distinct inputs sanitize to the same lookup.
func (s *Service) KeywordCounts(ctx context.Context, keywords []string) ([]KeywordCount, error) {
	fields := []string{"title", "content"}
	counts := make([]KeywordCount, 0, len(keywords))
	for _, raw := range keywords {
		sanitized := SanitizeKeyword(raw)
		if sanitized == "" {
			continue
		}
		var kc KeywordCount
		_, err := s.cachedJSON(ctx, "keyword|"+raw, &kc, func() (any, error) {
			n, err := s.store.Count(ctx, sanitized, fields)
			if err != nil {
				return nil, err
			}
			return &KeywordCount{Keyword: raw, Count: n}, nil
		})
		if err != nil {
			return nil, err
		}
		counts = append(counts, kc)
	}
	return counts, nil
}

// Domains returns the most frequent source domains.
func (s *Service) Domains(ctx context.Context, topN int) ([]store.TermBucket, error) {
	var buckets []store.TermBucket
	key := fmt.Sprintf("agg|domains|%d", topN)
	_, err := s.cachedJSON(ctx, key, &buckets, func() (any, error) {
		return s.store.TermFrequency(ctx, "domain", topN)
	})
	return buckets, err
}

// OnionRatio returns the onion vs clearnet document split.
func (s *Service) OnionRatio(ctx context.Context) (*store.OnionRatio, error) {
	var ratio store.OnionRatio
	_, err := s.cachedJSON(ctx, "agg|onion-ratio", &ratio, func() (any, error) {
		return s.store.OnionSplit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &ratio, nil
}

// Timeline returns the time-bucketed document histogram over the trailing
// window.
func (s *Service) Timeline(ctx context.Context, interval string, days int) ([]store.TimelineBucket, error) {
	var buckets []store.TimelineBucket
	key := fmt.Sprintf("agg|timeline|%s|%d", interval, days)
	_, err := s.cachedJSON(ctx, key, &buckets, func() (any, error) {
		return s.store.Timeline(ctx, interval, days)
	})
	return buckets, err
}

// ThreatDistribution returns document counts per threat tier.
func (s *Service) ThreatDistribution(ctx context.Context) ([]store.ThreatBucket, error) {
	var buckets []store.ThreatBucket
	_, err := s.cachedJSON(ctx, "agg|threat-distribution", &buckets, func() (any, error) {
		return s.store.ThreatDistribution(ctx)
	})
	return buckets, err
}

// InvalidateCache drops all cached query results.
func (s *Service) InvalidateCache(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// CacheStats returns cumulative cache hit and miss counters.
func (s *Service) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

// cachedJSON runs compute through the query cache with JSON as the cached
// representation, decoding the payload into out. The bool reports a cache
// hit.
func (s *Service) cachedJSON(ctx context.Context, key string, out any, compute func() (any, error)) (bool, error) {
	payload, hit, err := s.cache.GetOrCompute(ctx, key, func() ([]byte, error) {
		value, err := compute()
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return hit, fmt.Errorf("decoding cached payload for %s: %w", key, err)
	}
	return hit, nil
}
