// Package ratelimit implements fixed-window request limits keyed by client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

// Limiter manages rate limiting for multiple keys
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket is one key's window.
type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter allows limit requests per key in each interval. A nil clock
// means wall time.
func NewLimiter(limit int, interval time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    clock.OrReal(clk),
		buckets:  make(map[string]*bucket),
	}
}

// Allow reports whether a request for key fits in the current window.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN takes n tokens from key's window if all n are available.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.lastFill) >= l.interval {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// RetryAfter returns how long until key's window refills.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	if d := l.interval - l.clock.Since(b.lastFill); d > 0 {
		return d
	}
	return 0
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired drops windows older than maxAge and returns how many.
func (l *Limiter) CleanupExpired(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	n := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (l *Limiter) RunCleanup(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CleanupExpired(maxAge)
		}
	}
}
