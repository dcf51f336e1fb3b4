package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdeck/quotagate/internal/storage"
)

// SlidingWindowLimiter keeps one timestamp per admitted unit in a redis
// sorted set and counts entries within the trailing window.
type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewSlidingWindowLimiter(rdb *storage.RedisClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  rdb,
		limit:  limit,
		window: window,
	}
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return s.AllowN(ctx, key, 1)
}

func (s *SlidingWindowLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := time.Now()
	windowStart := now.Add(-s.window)

	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	count := countCmd.Val()

	if count+int64(n) > int64(s.limit) {
		return false, nil
	}

	members := make([]redis.Z, n)
	for i := 0; i < n; i++ {
		members[i] = redis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d-%d", now.UnixNano(), i),
		}
	}

	if err := s.redis.ZAdd(ctx, redisKey, members...); err != nil {
		return false, err
	}
	s.redis.Expire(ctx, redisKey, s.window)

	return true, nil
}

func (s *SlidingWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)
	now := time.Now()
	windowStart := now.Add(-s.window)

	count, err := s.redis.ZCount(ctx, redisKey, fmt.Sprintf("%d", windowStart.UnixNano()), fmt.Sprintf("%d", now.UnixNano()))
	if err != nil {
		return 0, err
	}

	remaining := s.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

func (s *SlidingWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)

	oldest, err := s.redis.ZRange(ctx, redisKey, 0, 0)
	if err != nil || len(oldest) == 0 {
		return time.Now(), nil
	}

	var oldestNano int64
	fmt.Sscanf(oldest[0], "%d", &oldestNano)

	// The oldest entry ages out at oldest + window.
	return time.Unix(0, oldestNano).Add(s.window), nil
}
