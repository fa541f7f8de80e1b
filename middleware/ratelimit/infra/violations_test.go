package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"admission-gateway/middleware/ratelimit/domain"
)

func newTestTracker(t *testing.T, clk *fakeClock, opts ...ViolationOption) *ViolationTracker {
	t.Helper()
	opts = append([]ViolationOption{
		WithViolationClock(clk.Now),
		WithViolationLogger(zaptest.NewLogger(t)),
	}, opts...)
	tr := NewViolationTracker(0, opts...)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestViolationTracker_BansAtThreshold(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(t, clk)
	key := domain.Key("10.0.0.1")

	for i := 1; i < 5; i++ {
		v := tr.RecordDenial(key, 5, time.Hour)
		assert.Equal(t, i, v.Violations)
		banned, _ := tr.IsBanned(key)
		require.False(t, banned, "banned after %d violations", i)
	}

	v := tr.RecordDenial(key, 5, time.Hour)
	assert.Equal(t, 5, v.Violations)
	banned, until := tr.IsBanned(key)
	require.True(t, banned)
	assert.True(t, until.Equal(clk.Now().Add(time.Hour)))
}

func TestViolationTracker_BanExpiryResetsCounting(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(t, clk)
	key := domain.Key("user:42")

	for i := 0; i < 3; i++ {
		tr.RecordDenial(key, 3, time.Hour)
	}
	banned, _ := tr.IsBanned(key)
	require.True(t, banned)

	clk.Advance(3601 * time.Second)
	banned, _ = tr.IsBanned(key)
	require.False(t, banned)
	_, ok := tr.Get(key)
	assert.False(t, ok, "expired ban must clear the record")

	tr.RecordDenial(key, 3, time.Hour)
	tr.RecordDenial(key, 3, time.Hour)
	banned, _ = tr.IsBanned(key)
	assert.False(t, banned, "a fresh threshold is required after a ban ends")

	tr.RecordDenial(key, 3, time.Hour)
	banned, _ = tr.IsBanned(key)
	assert.True(t, banned)
}

func TestViolationTracker_ExtraDenialsDoNotExtendBan(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(t, clk)
	key := domain.Key("k")

	tr.RecordDenial(key, 1, time.Minute)
	_, first := tr.IsBanned(key)

	clk.Advance(30 * time.Second)
	tr.RecordDenial(key, 1, time.Minute)
	_, second := tr.IsBanned(key)
	assert.True(t, first.Equal(second))
}

func TestViolationTracker_KeysAreIndependent(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(t, clk)

	tr.RecordDenial("a", 1, time.Minute)
	banned, _ := tr.IsBanned("b")
	assert.False(t, banned)
}

func TestViolationTracker_Sweep(t *testing.T) {
	clk := newFakeClock()
	tr := newTestTracker(t, clk, WithRetention(time.Hour))

	tr.RecordDenial("flagged-old", 10, time.Minute)
	tr.RecordDenial("banned", 1, 10*time.Minute)
	clk.Advance(30 * time.Minute)
	tr.RecordDenial("flagged-new", 10, time.Minute)

	assert.Equal(t, 1, tr.Sweep(), "expired ban removed")
	assert.Equal(t, 2, tr.Len())

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 1, tr.Sweep(), "old flag removed")
	_, ok := tr.Get("flagged-new")
	assert.True(t, ok)
}

func TestViolationTracker_PeriodicSweep(t *testing.T) {
	clk := newFakeClock()
	tr := NewViolationTracker(5*time.Millisecond, WithViolationClock(clk.Now))
	t.Cleanup(func() { _ = tr.Close() })
	tr.Start(context.Background())

	tr.RecordDenial("x", 1, time.Second)
	clk.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
}
