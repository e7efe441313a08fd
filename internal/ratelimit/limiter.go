// Package ratelimit implements fixed-window request counters shared between
// the front door and worker processes through Redis, so limits hold across
// independent processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one CheckAndIncrement call.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// CheckAndIncrement counts one request against the (action, session, caller)
// window. The expiry is set exactly once, on the increment that opens the
// window; INCR keeps concurrent callers consistent. A limit <= 0 disables
// limiting for the action.
func (l *Limiter) CheckAndIncrement(ctx context.Context, action, sessionID, caller string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}

	key := counterKey(action, sessionID, caller)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate counter: %w", err)
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("setting rate window: %w", err)
		}
	}

	if count <= int64(limit) {
		return Result{Allowed: true}, nil
	}

	retryAfter, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || retryAfter <= 0 {
		// TTL unavailable, report the full window
		retryAfter = window
	}
	return Result{Allowed: false, RetryAfter: retryAfter}, nil
}

func counterKey(action, sessionID, caller string) string {
	return fmt.Sprintf("rate:%s:%s:%s", action, sessionID, caller)
}
