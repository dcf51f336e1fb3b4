package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryFixedWindow is the redis-less fixed window. Per-key state is a
// {startedAt, count} value rewritten wholesale under the lock; the window
// epoch travels with the counter so a reset can never be skipped.
type MemoryFixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]windowState
	now     func() time.Time
}

type windowState struct {
	startedAt time.Time
	count     int
}

func NewMemoryFixedWindow(limit int, window time.Duration) *MemoryFixedWindow {
	return &MemoryFixedWindow{
		limit:   limit,
		window:  window,
		windows: make(map[string]windowState),
		now:     time.Now,
	}
}

func (m *MemoryFixedWindow) current(key string, now time.Time) windowState {
	st, ok := m.windows[key]
	if !ok || now.Sub(st.startedAt) >= m.window {
		st = windowState{startedAt: now}
	}
	return st
}

func (m *MemoryFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *MemoryFixedWindow) AllowN(ctx context.Context, key string, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := m.current(key, now)

	if st.count+n > m.limit {
		m.windows[key] = st
		return false, nil
	}

	st.count += n
	m.windows[key] = st
	return true, nil
}

func (m *MemoryFixedWindow) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.current(key, m.now())
	remaining := m.limit - st.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (m *MemoryFixedWindow) Limit() int {
	return m.limit
}

func (m *MemoryFixedWindow) Window() time.Duration {
	return m.window
}

func (m *MemoryFixedWindow) Reset(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := m.current(key, now)
	if st.count == 0 {
		return now, nil
	}
	return st.startedAt.Add(m.window), nil
}

// MemorySlidingWindow keeps per-key admission timestamps and prunes entries
// older than the trailing window.
type MemorySlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

func NewMemorySlidingWindow(limit int, window time.Duration) *MemorySlidingWindow {
	return &MemorySlidingWindow{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (m *MemorySlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-m.window)
	kept := m.events[key][:0]
	for _, ts := range m.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.events[key] = kept
	return kept
}

func (m *MemorySlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *MemorySlidingWindow) AllowN(ctx context.Context, key string, n int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.prune(key, now)

	if len(kept)+n > m.limit {
		return false, nil
	}

	for i := 0; i < n; i++ {
		kept = append(kept, now)
	}
	m.events[key] = kept
	return true, nil
}

func (m *MemorySlidingWindow) Remaining(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.prune(key, m.now())
	remaining := m.limit - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (m *MemorySlidingWindow) Limit() int {
	return m.limit
}

func (m *MemorySlidingWindow) Window() time.Duration {
	return m.window
}

func (m *MemorySlidingWindow) Reset(ctx context.Context, key string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.prune(key, now)
	if len(kept) == 0 {
		return now, nil
	}
	return kept[0].Add(m.window), nil
}
