// Package ratelimit throttles message sends per user with Redis counters.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rl:send:"

// Limiter is a fixed window counter. A nil *Limiter allows everything.
type Limiter struct {
	rdb    redis.UniversalClient
	log    *slog.Logger
	limit  int64
	window time.Duration
}

func New(rdb redis.UniversalClient, log *slog.Logger, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, log: log, limit: int64(limit), window: window}
}

// Allow counts one hit for key and reports whether it is inside the limit.
// Redis failures let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}

	k := keyPrefix + key
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	return incr.Val() <= l.limit
}
