package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryTokenBucket is the redis-less token bucket, one x/time/rate limiter
// per key with idle cleanup.
type MemoryTokenBucket struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	limit   int
	burst   int
	window  time.Duration
	rps     rate.Limit
	idleTTL time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemoryTokenBucket(limit, burst int, window time.Duration) *MemoryTokenBucket {
	rps := rate.Limit(float64(limit) / window.Seconds())
	if rps <= 0 {
		rps = 1
	}

	return &MemoryTokenBucket{
		entries: make(map[string]*bucketEntry),
		limit:   limit,
		burst:   burst,
		window:  window,
		rps:     rps,
		idleTTL: 15 * time.Minute,
	}
}

func (m *MemoryTokenBucket) get(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if ent, ok := m.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(m.rps, m.limit+m.burst)
	m.entries[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

func (m *MemoryTokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *MemoryTokenBucket) AllowN(ctx context.Context, key string, n int) (bool, error) {
	return m.get(key).AllowN(time.Now(), n), nil
}

func (m *MemoryTokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	tokens := m.get(key).Tokens()
	if tokens < 0 {
		tokens = 0
	}
	return int(tokens), nil
}

func (m *MemoryTokenBucket) Limit() int {
	return m.limit
}

func (m *MemoryTokenBucket) Window() time.Duration {
	return m.window
}

func (m *MemoryTokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	lim := m.get(key)
	tokensNeeded := float64(m.limit+m.burst) - lim.Tokens()
	if tokensNeeded <= 0 {
		return time.Now(), nil
	}
	secondsToFull := tokensNeeded / float64(m.rps)
	return time.Now().Add(time.Duration(math.Ceil(secondsToFull)) * time.Second), nil
}

// Cleanup drops limiters not seen within the idle TTL.
func (m *MemoryTokenBucket) Cleanup() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}
