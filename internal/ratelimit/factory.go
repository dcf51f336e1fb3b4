package ratelimit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
	"github.com/opsdeck/quotagate/internal/storage"
)

// Provider hands out one limiter per policy, rebuilt when the policy's
// limit parameters change. Memory-backed limiters keep their counters in
// the limiter itself, so they must be cached rather than recreated per check.
type Provider struct {
	redis    *storage.RedisClient
	mu       sync.Mutex
	limiters map[uuid.UUID]providerEntry
}

type providerEntry struct {
	fingerprint string
	limiter     Limiter
}

func NewProvider(rdb *storage.RedisClient) *Provider {
	return &Provider{
		redis:    rdb,
		limiters: make(map[uuid.UUID]providerEntry),
	}
}

func (p *Provider) For(policy *models.RateLimitPolicy) Limiter {
	fp := fmt.Sprintf("%s|%d|%d|%d", policy.Strategy, policy.RequestsPerWindow, policy.BurstSize, policy.WindowSizeSeconds)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ent, ok := p.limiters[policy.ID]; ok && ent.fingerprint == fp {
		return ent.limiter
	}

	lim := p.build(policy)
	p.limiters[policy.ID] = providerEntry{fingerprint: fp, limiter: lim}
	return lim
}

func (p *Provider) build(policy *models.RateLimitPolicy) Limiter {
	limit := policy.RequestsPerWindow
	window := policy.Window()

	if p.redis != nil {
		switch policy.Strategy {
		case models.StrategyTokenBucket:
			return NewTokenBucket(p.redis, limit, policy.BurstSize, window)
		case models.StrategySlidingWindowLog:
			return NewSlidingWindowLimiter(p.redis, limit, window)
		default:
			return NewFixedWindow(p.redis, limit, window)
		}
	}

	switch policy.Strategy {
	case models.StrategyTokenBucket:
		return NewMemoryTokenBucket(limit, policy.BurstSize, window)
	case models.StrategySlidingWindowLog:
		return NewMemorySlidingWindow(limit, window)
	default:
		return NewMemoryFixedWindow(limit, window)
	}
}
