package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		addr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestLimiter_Allow(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewLimiter(rdb, nil)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	id := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, rule.Key+id) })

	for i := range 3 {
		ok, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	ttl, err := rdb.TTL(ctx, rule.Key+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestLimiter_FailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	l := NewLimiter(rdb, nil)

	ok, err := l.Allow(context.Background(), "mod", RuleReportAction)
	assert.Error(t, err)
	assert.True(t, ok)

	remaining, err := l.Remaining(context.Background(), "mod", RuleReportAction)
	assert.Error(t, err)
	assert.Equal(t, RuleReportAction.Limit, remaining)
}

func TestMemLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemLimiter(func() time.Time { return now })
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Minute}

	for _, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "mod", rule)
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}

	// Other identifiers and rules have their own windows.
	ok, _ := l.Allow(ctx, "other", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "mod", RuleReportOpen)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "mod", rule)
	assert.True(t, ok, "window elapsed")

	assert.Equal(t, 3, l.Len())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 3, l.Sweep())
	assert.Zero(t, l.Len())
}
