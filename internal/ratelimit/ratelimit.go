// Package ratelimit implements a fixed-window request limiter keyed by
// caller identity. Each Limiter covers one route class with its own window;
// counters for idle callers are reaped in the background.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per caller key inside a fixed window. The zero
// count is lazily created on first sight of a key.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	period  time.Duration
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates a Limiter with the given window length and starts its
// background reaper.
func New(period time.Duration) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		period:  period,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.reap()
	return l
}

// Allow reports whether the caller identified by key may proceed under the
// given per-window limit. The request is counted when admitted.
func (l *Limiter) Allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.period)}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Retry returns how long the caller must wait before the window resets.
// Zero means the caller is not currently limited.
func (l *Limiter) Retry(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	until := time.Until(w.resetAt)
	if until < 0 {
		return 0
	}
	return until
}

// Close stops the background reaper.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// reap drops windows that expired more than one period ago so idle callers
// do not accumulate.
func (l *Limiter) reap() {
	interval := l.period
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, w := range l.windows {
				if now.Sub(w.resetAt) > l.period {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
