package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the per-process sliding window used when Redis is unreachable.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an in-memory limiter implementation.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string][]time.Time), now: time.Now}
}

// Check enforces a sliding-window limit for the provided key.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := keepRecent(m.buckets[key], now.Add(-window))
	resetAt := now.Add(window)
	if len(hits) > 0 {
		resetAt = hits[0].Add(window)
	}

	if len(hits) >= limit {
		m.buckets[key] = hits
		return &Result{Allowed: false, ResetAt: resetAt}, nil
	}

	hits = append(hits, now)
	m.buckets[key] = hits
	return &Result{Allowed: true, Remaining: limit - len(hits), ResetAt: resetAt}, nil
}

// Cleanup drops buckets whose newest hit is older than maxAge and reports how many went.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, hits := range m.buckets {
		if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// keepRecent drops hits before windowStart; hits are in ascending order.
func keepRecent(hits []time.Time, windowStart time.Time) []time.Time {
	first := 0
	for first < len(hits) && hits[first].Before(windowStart) {
		first++
	}
	if first == 0 {
		return hits
	}
	return append(hits[:0], hits[first:]...)
}
