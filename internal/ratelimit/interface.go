package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN admits n units at once; all-or-nothing.
	AllowN(ctx context.Context, key string, n int) (bool, error)

	Remaining(ctx context.Context, key string) (int, error)

	Limit() int

	Window() time.Duration

	Reset(ctx context.Context, key string) (time.Time, error)
}
