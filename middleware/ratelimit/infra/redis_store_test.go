package infra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-gateway/middleware/ratelimit/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	clk := newFakeClock()
	s := NewRedisStore(rdb, WithRedisClock(clk.Now), WithRedisTimeout(time.Second))

	start := clk.Now()
	for i := int64(1); i <= 3; i++ {
		ent, err := s.IncrementAndGet(ctx, "api:u1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, ent.Count)
		assert.Equal(t, start.UnixMilli(), ent.WindowStart.UnixMilli())
		clk.Advance(10 * time.Second)
	}

	require.True(t, mr.Exists("ratelimit:window:api:u1"))
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:window:api:u1"))

	clk.Advance(time.Minute)
	ent, err := s.IncrementAndGet(ctx, "api:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ent.Count)
	assert.Equal(t, clk.Now().UnixMilli(), ent.WindowStart.UnixMilli())
}

func TestRedisStore_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	clk := newFakeClock()
	s := NewRedisStore(rdb, WithRedisClock(clk.Now), WithRedisPrefix("rl:"), WithRedisTimeout(time.Second))

	_, ok, err := s.Get(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.IncrementAndGet(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.True(t, mr.Exists("rl:auth:1.2.3.4"))

	ent, ok, err := s.Get(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), ent.Count)

	clk.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "window already closed")

	require.NoError(t, s.Delete(ctx, "auth:1.2.3.4"))
	assert.False(t, mr.Exists("rl:auth:1.2.3.4"))
}

func TestRedisStore_Release(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	clk := newFakeClock()
	s := NewRedisStore(rdb, WithRedisClock(clk.Now), WithRedisTimeout(time.Second))

	ent, err := s.IncrementAndGet(ctx, "auth:ip", time.Minute)
	require.NoError(t, err)
	_, err = s.IncrementAndGet(ctx, "auth:ip", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, "auth:ip", ent.WindowStart))
	assert.Equal(t, "1", mr.HGet("ratelimit:window:auth:ip", "count"))

	require.NoError(t, s.Release(ctx, "auth:ip", ent.WindowStart.Add(-time.Minute)))
	assert.Equal(t, "1", mr.HGet("ratelimit:window:auth:ip", "count"), "stale window is a no-op")

	require.NoError(t, s.Release(ctx, "auth:ip", ent.WindowStart))
	require.NoError(t, s.Release(ctx, "auth:ip", ent.WindowStart))
	assert.Equal(t, "0", mr.HGet("ratelimit:window:auth:ip", "count"), "never negative")

	next, err := s.IncrementAndGet(ctx, "auth:ip", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.Count)

	require.NoError(t, s.Release(ctx, "auth:missing", ent.WindowStart))
}

func TestRedisStore_IgnoresCallerCancellation(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, WithRedisTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ent, err := s.IncrementAndGet(ctx, "api:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ent.Count)
}

func TestRedisStore_UnavailableIsClassified(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisStore(rdb, WithRedisTimeout(time.Second))
	mr.Close()

	_, err := s.IncrementAndGet(ctx, "api:u1", time.Minute)
	require.Error(t, err)
	assert.True(t, domain.IsStoreUnavailable(err), "got %v", err)

	_, _, err = s.Get(ctx, "api:u1", time.Minute)
	assert.True(t, domain.IsStoreUnavailable(err), "got %v", err)

	assert.True(t, domain.IsStoreUnavailable(s.Delete(ctx, "api:u1")))
	assert.True(t, domain.IsStoreUnavailable(s.Release(ctx, "api:u1", time.Now())))
	assert.True(t, domain.IsStoreUnavailable(s.Ping(ctx)))
}

func TestRedisStore_NilClient(t *testing.T) {
	s := NewRedisStore(nil)
	_, err := s.IncrementAndGet(context.Background(), "api:u1", time.Minute)
	assert.True(t, domain.IsStoreUnavailable(err))
}
