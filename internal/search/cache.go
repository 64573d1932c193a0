package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/duskwatch/duskwatch/pkg/redis"
)

const cacheKeyPrefix = "query:"

// Cache is a read-through cache over serialized query results, backed by
// Redis. Concurrent misses for the same key are collapsed through
// singleflight so the store sees one query per distinct key. A nil Cache is
// a valid pass-through.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a Cache with the given entry TTL. Returns nil when the
// Redis client is nil, so callers can treat the cache as strictly optional.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// GetOrCompute returns the cached payload for key, or runs compute and
// stores its result. The bool reports whether the payload came from cache.
// Redis failures degrade to computing directly.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func() ([]byte, error)) ([]byte, bool, error) {
	if c == nil {
		payload, err := compute()
		return payload, false, err
	}
	full := cacheKey(key)

	if cached, err := c.client.Get(ctx, full); err == nil {
		c.hits.Add(1)
		return []byte(cached), true, nil
	} else if !redis.IsNilError(err) {
		c.logger.Warn("cache read failed", "error", err)
	}
	c.misses.Add(1)

	payload, err, _ := c.group.Do(full, func() (any, error) {
		fresh, err := compute()
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, full, string(fresh), c.ttl); err != nil {
			c.logger.Warn("cache write failed", "error", err)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, false, err
	}
	return payload.([]byte), false, nil
}

// Invalidate drops every cached query result. Called after each accepted
// ingest batch so readers never see stale pages longer than one request.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return err
	}
	if deleted > 0 {
		c.logger.Debug("query cache invalidated", "keys", deleted)
	}
	return nil
}

// Stats returns the cumulative hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

// cacheKey hashes the logical key so arbitrary query text never becomes a
// raw Redis key.
func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
