package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdeck/quotagate/internal/storage"
)

// FixedWindowLimiter counts admissions in epoch-aligned windows. The window
// epoch is part of the redis key, so the counter starts from zero every
// window and a policy can never lock itself out permanently.
type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
}

func NewFixedWindow(redis *storage.RedisClient, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
	}
}

func (f *FixedWindowLimiter) epoch(now time.Time) int64 {
	return now.Unix() / int64(f.window.Seconds())
}

func (f *FixedWindowLimiter) key(key string, now time.Time) string {
	return fmt.Sprintf("ratelimit:fixed:%s:%d", key, f.epoch(now))
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return f.AllowN(ctx, key, 1)
}

func (f *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	redisKey := f.key(key, time.Now())

	count, err := f.redis.IncrBy(ctx, redisKey, int64(n))
	if err != nil {
		return false, err
	}

	if count == int64(n) {
		f.redis.Expire(ctx, redisKey, f.window)
	}

	return count <= int64(f.limit), nil
}

func (f *FixedWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := f.key(key, time.Now())

	val, err := f.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return f.limit, nil
	}

	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	remaining := f.limit - count

	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

// Returns the time at which the current window ends
func (f *FixedWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	nextEpoch := (f.epoch(time.Now()) + 1) * int64(f.window.Seconds())
	return time.Unix(nextEpoch, 0), nil
}
