package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"admission-gateway/middleware/ratelimit/domain"
)

func apiPolicy() domain.PolicyConfig {
	return domain.PolicyConfig{
		Name:               "api",
		WindowDuration:     time.Minute,
		MaxRequests:        10,
		SlowDownDelayStart: 100 * time.Millisecond,
		SlowDownDelayStep:  100 * time.Millisecond,
		SlowDownDelayMax:   time.Second,
		ViolationThreshold: 3,
		BanDuration:        time.Hour,
		CountOnlyOn:        domain.CountAll,
	}
}

func TestWindowLimiter_AllowsUpToMaxThenDenies(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	l := NewWindowLimiter(newFakeStore(clk.Now), zaptest.NewLogger(t), clk.Now)
	cfg := apiPolicy()
	start := clk.Now()

	prevRemaining := cfg.MaxRequests
	for i := 1; i <= 10; i++ {
		v := l.Evaluate(ctx, cfg, "u1", cfg.MaxRequests)
		require.True(t, v.Allowed, "request %d", i)
		assert.Equal(t, int64(i), v.Count)
		assert.Equal(t, 10-i, v.Remaining)
		assert.Less(t, v.Remaining, prevRemaining)
		prevRemaining = v.Remaining
	}

	v := l.Evaluate(ctx, cfg, "u1", cfg.MaxRequests)
	assert.False(t, v.Allowed)
	assert.Equal(t, 0, v.Remaining)
	assert.Equal(t, int64(11), v.Count)
	assert.True(t, v.ResetAt.Equal(start.Add(time.Minute)))
}

func TestWindowLimiter_NewWindowAfterReset(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	l := NewWindowLimiter(newFakeStore(clk.Now), nil, clk.Now)
	cfg := apiPolicy()

	for i := 0; i < 11; i++ {
		l.Evaluate(ctx, cfg, "u1", cfg.MaxRequests)
	}
	clk.Advance(time.Minute)

	v := l.Evaluate(ctx, cfg, "u1", cfg.MaxRequests)
	assert.True(t, v.Allowed)
	assert.Equal(t, int64(1), v.Count)
	assert.True(t, v.ResetAt.Equal(clk.Now().Add(time.Minute)))
}

func TestWindowLimiter_PoliciesDoNotShareCounters(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFakeStore(clk.Now)
	l := NewWindowLimiter(store, nil, clk.Now)

	auth := apiPolicy()
	auth.Name = "auth"
	l.Evaluate(ctx, apiPolicy(), "k", 10)
	v := l.Evaluate(ctx, auth, "k", 10)
	assert.Equal(t, int64(1), v.Count)
}

func TestWindowLimiter_FailsOpenWhenStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFakeStore(clk.Now)
	store.err = domain.ErrStoreUnavailable.New("connection refused")
	l := NewWindowLimiter(store, zaptest.NewLogger(t), clk.Now)

	for i := 0; i < 50; i++ {
		v := l.Evaluate(ctx, apiPolicy(), "u1", 10)
		require.True(t, v.Allowed)
		assert.True(t, v.Degraded)
		assert.Equal(t, 10, v.Remaining)
	}

	l.Release(ctx, apiPolicy(), "u1", clk.Now())
}

func TestWindowLimiter_ReleaseReturnsReservation(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFakeStore(clk.Now)
	l := NewWindowLimiter(store, nil, clk.Now)
	cfg := apiPolicy()

	first := l.Evaluate(ctx, cfg, "u1", 2)
	second := l.Evaluate(ctx, cfg, "u1", 2)
	require.True(t, second.Allowed)
	assert.True(t, second.WindowStart.Equal(first.WindowStart))

	l.Release(ctx, cfg, "u1", second.WindowStart)
	v := l.Evaluate(ctx, cfg, "u1", 2)
	assert.True(t, v.Allowed, "released unit is available again")
	assert.Equal(t, int64(2), v.Count)
}

func TestWindowLimiter_ReleaseIgnoresOldWindow(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	store := newFakeStore(clk.Now)
	l := NewWindowLimiter(store, nil, clk.Now)
	cfg := apiPolicy()

	old := l.Evaluate(ctx, cfg, "u1", 10)
	clk.Advance(time.Minute)
	l.Evaluate(ctx, cfg, "u1", 10)

	l.Release(ctx, cfg, "u1", old.WindowStart)
	assert.Equal(t, int64(1), store.count(domain.StorageKey("api", "u1")))
}
