package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdeck/quotagate/internal/storage"
)

// TokenBucket refills requests_per_window tokens per window up to a ceiling
// of requests_per_window + burst. State lives in redis as a JSON blob and is
// updated inside a WATCH transaction so concurrent checks on the same key
// cannot lose a consumed token.
type TokenBucket struct {
	redis      *storage.RedisClient
	capacity   int     // limit + burst
	refillRate float64 // tokens per second
	window     time.Duration
	limit      int
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(rdb *storage.RedisClient, limit, burst int, window time.Duration) *TokenBucket {
	refillRate := float64(limit) / window.Seconds()
	if refillRate <= 0 {
		refillRate = 1
	}

	return &TokenBucket{
		redis:      rdb,
		capacity:   limit + burst,
		refillRate: refillRate,
		window:     window,
		limit:      limit,
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	return t.AllowN(ctx, key, 1)
}

func (t *TokenBucket) AllowN(ctx context.Context, key string, n int) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)
	var allowed bool

	txn := func(tx *redis.Tx) error {
		state, err := t.loadState(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		now := time.Now()
		t.refill(&state, now)

		if state.Tokens >= float64(n) {
			state.Tokens -= float64(n)
			allowed = true
		} else {
			allowed = false
		}

		stateJson, err := json.Marshal(state)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, stateJson, time.Hour)
			return nil
		})
		return err
	}

	// Retry on contention; WATCH aborts the pipeline if another check
	// rewrote the bucket first.
	for attempt := 0; attempt < 5; attempt++ {
		err := t.redis.Watch(ctx, txn, redisKey)
		if err == nil {
			return allowed, nil
		}
		if err != redis.TxFailedErr {
			return false, err
		}
	}

	return false, redis.TxFailedErr
}

func (t *TokenBucket) loadState(ctx context.Context, tx *redis.Tx, redisKey string) (bucketState, error) {
	data, err := tx.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return bucketState{
			Tokens:     float64(t.capacity),
			LastRefill: time.Now(),
		}, nil
	}
	if err != nil {
		return bucketState{}, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// Corrupt state: start over with a full bucket.
		return bucketState{
			Tokens:     float64(t.capacity),
			LastRefill: time.Now(),
		}, nil
	}
	return state, nil
}

func (t *TokenBucket) refill(state *bucketState, now time.Time) {
	elapsed := now.Sub(state.LastRefill)
	tokensToAdd := elapsed.Seconds() * t.refillRate
	state.Tokens = math.Min(state.Tokens+tokensToAdd, float64(t.capacity))
	state.LastRefill = now
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return t.capacity, nil
	}
	if err != nil {
		return 0, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return t.capacity, nil
	}

	t.refill(&state, time.Now())
	return int(state.Tokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.limit
}

func (t *TokenBucket) Window() time.Duration {
	return t.window
}

// Reset reports when the bucket would be full again at the current drain.
func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	redisKey := fmt.Sprintf("ratelimit:bucket:%s", key)

	data, err := t.redis.Get(ctx, redisKey)
	if err == redis.Nil {
		return time.Now(), nil
	}
	if err != nil {
		return time.Time{}, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return time.Now(), nil
	}

	tokensNeeded := float64(t.capacity) - state.Tokens
	secondsToFull := tokensNeeded / t.refillRate

	return time.Now().Add(time.Duration(secondsToFull * float64(time.Second))), nil
}
