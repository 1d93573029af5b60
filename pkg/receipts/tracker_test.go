package receipts_test

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alitto/pond/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openmonetize/receipt-verifier/pkg/receipts"
	store "github.com/openmonetize/receipt-verifier/pkg/redis"
)

func newTestTracker(t *testing.T) (*receipts.Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := store.NewClientFromRedis(rdb, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })

	return receipts.NewTracker(client, zaptest.NewLogger(t)), mr
}

func TestWatermarkAdvances(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), delta)

	delta, err = tracker.CreditableAmount(ctx, "r1", "s1", 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), delta)

	// Replay of an older cumulative total yields nothing and leaves the
	// watermark untouched.
	delta, err = tracker.CreditableAmount(ctx, "r1", "s1", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), delta)

	assert.Equal(t, "15", mr.HGet("receipt:r1", "s1"))
}

func TestEqualTotalYieldsZero(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	_, err := tracker.CreditableAmount(ctx, "r1", "s1", 42)
	require.NoError(t, err)

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), delta)
	assert.Equal(t, "42", mr.HGet("receipt:r1", "s1"))
}

func TestStreamsAreIndependent(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), delta)

	delta, err = tracker.CreditableAmount(ctx, "r1", "s2", 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), delta)
}

func TestUnregisteredReceiptYieldsZero(t *testing.T) {
	tracker, mr := newTestTracker(t)

	delta, err := tracker.CreditableAmount(context.Background(), "never-seen", "s1", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), delta)

	// No record is created as a side effect.
	assert.False(t, mr.Exists("receipt:never-seen"))
}

func TestExpiredReceiptYieldsZero(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), delta)

	mr.FastForward(301 * time.Second)

	delta, err = tracker.CreditableAmount(ctx, "r1", "s1", 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), delta)
	assert.False(t, mr.Exists("receipt:r1"))
}

func TestRegisterRefreshesExpiry(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 100*time.Second))

	_, err := tracker.CreditableAmount(ctx, "r1", "s1", 10)
	require.NoError(t, err)

	mr.FastForward(60 * time.Second)
	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 100*time.Second))
	mr.FastForward(60 * time.Second)

	// Still alive, and the watermark survived re-registration.
	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), delta)
}

func TestRegisterElapsedWindowRemovesRecord(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))
	require.True(t, mr.Exists("receipt:r1"))

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 0))
	assert.False(t, mr.Exists("receipt:r1"))
}

func TestRegisterSubSecondWindowRoundsUp(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	// A window with time still left on the clock must not be truncated to
	// an immediate expiry.
	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 500*time.Millisecond))
	require.True(t, mr.Exists("receipt:r1"))
	assert.Equal(t, time.Second, mr.TTL("receipt:r1"))

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), delta)

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r2", 1500*time.Millisecond))
	assert.Equal(t, 2*time.Second, mr.TTL("receipt:r2"))
}

func TestAmountOverflowRejected(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	_, err := tracker.CreditableAmount(ctx, "r1", "s1", uint64(1)<<63)
	require.ErrorIs(t, err, receipts.ErrAmountOverflow)
}

func TestFullRangePrecision(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	max := uint64(9223372036854775807)

	delta, err := tracker.CreditableAmount(ctx, "r1", "s1", max-1)
	require.NoError(t, err)
	assert.Equal(t, max-1, delta)

	// The increment of one at the top of the range must come back exact.
	delta, err = tracker.CreditableAmount(ctx, "r1", "s1", max)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), delta)

	assert.Equal(t, "9223372036854775807", mr.HGet("receipt:r1", "s1"))
}

func TestSumOfDeltasEqualsFinalWatermark(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.RegisterValidityWindow(ctx, "r1", 300*time.Second))

	totals := make([]uint64, 100)
	for i := range totals {
		totals[i] = uint64(i + 1)
	}
	rand.Shuffle(len(totals), func(i, j int) { totals[i], totals[j] = totals[j], totals[i] })

	var sum atomic.Uint64
	pool := pond.NewPool(8)
	for _, total := range totals {
		pool.Submit(func() {
			delta, err := tracker.CreditableAmount(ctx, "r1", "s1", total)
			assert.NoError(t, err)
			sum.Add(delta)
		})
	}
	pool.StopAndWait()

	assert.Equal(t, "100", mr.HGet("receipt:r1", "s1"))
	assert.Equal(t, uint64(100), sum.Load())
}

func TestRemainingTTL(t *testing.T) {
	window := 300 * time.Second

	fresh := &receipts.Receipt{StreamStartTime: time.Now()}
	assert.InDelta(t, window.Seconds(), fresh.RemainingTTL(window).Seconds(), 1)

	stale := &receipts.Receipt{StreamStartTime: time.Now().Add(-2 * window)}
	assert.Equal(t, time.Duration(0), stale.RemainingTTL(window))
}
