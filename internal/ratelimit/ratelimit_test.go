package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiter_NilAllows(t *testing.T) {
	var l *Limiter

	require.True(t, l.Allow(context.Background(), "1"))
}

func TestLimiter_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, discardLogger(), 1, time.Minute)

	for range 3 {
		require.True(t, l.Allow(context.Background(), "1"))
	}
}

func TestLimiter_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	req := require.New(t)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, discardLogger(), 2, time.Minute)
	key := uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), keyPrefix+key) })

	req.True(l.Allow(context.Background(), key))
	req.True(l.Allow(context.Background(), key))
	req.False(l.Allow(context.Background(), key))
	req.True(l.Allow(context.Background(), uuid.NewString()))

	ttl, err := rdb.TTL(context.Background(), keyPrefix+key).Result()
	req.NoError(err)
	req.Greater(ttl, time.Duration(0))
}
