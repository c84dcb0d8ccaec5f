package ginsilog

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestRateLimiter(t testing.TB, jitter float64) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(DefaultBackoffInitial, DefaultBackoffMax, slog.Default())
	r.now = clock.Now
	r.jitter = func() float64 { return jitter }
	return r, clock
}

func TestRateLimiter_FirstFailure(t *testing.T) {
	t.Parallel()
	r, _ := newTestRateLimiter(t, 0.1)

	backoff := r.RecordFailure()
	assert.Equal(t, 132*time.Second, backoff)

	status := r.Status()
	assert.Equal(t, RateLimiterStateBackingOff, status.State)
	assert.Equal(t, 1, status.ConsecutiveFailures)
}

func TestRateLimiter_MonotonicAndCapped(t *testing.T) {
	t.Parallel()

	for _, jitter := range []float64{0.1, 0.15, 0.2} {
		r, _ := newTestRateLimiter(t, jitter)
		var previous time.Duration
		for i := 0; i < 20; i++ {
			backoff := r.RecordFailure()
			assert.GreaterOrEqual(t, backoff, previous)
			assert.GreaterOrEqual(t, backoff, DefaultBackoffInitial)
			assert.LessOrEqual(t, backoff, DefaultBackoffMax)
			previous = backoff
		}
		assert.Equal(t, DefaultBackoffMax, previous)
	}
}

func TestRateLimiter_CheckBackoff(t *testing.T) {
	t.Parallel()
	r, clock := newTestRateLimiter(t, 0.2)

	wait, remaining := r.CheckBackoff()
	assert.False(t, wait)
	assert.Zero(t, remaining)

	backoff := r.RecordFailure()
	require.Equal(t, 144*time.Second, backoff)

	clock.Advance(100 * time.Second)
	wait, remaining = r.CheckBackoff()
	assert.True(t, wait)
	assert.Equal(t, 44*time.Second, remaining)

	clock.Advance(44 * time.Second)
	wait, remaining = r.CheckBackoff()
	assert.False(t, wait)
	assert.Zero(t, remaining)

	status := r.Status()
	assert.Equal(t, RateLimiterStateRecovering, status.State)
	assert.Equal(t, 1, status.ConsecutiveFailures)
}

func TestRateLimiter_Reset(t *testing.T) {
	t.Parallel()
	r, _ := newTestRateLimiter(t, 0.15)

	for i := 0; i < 5; i++ {
		r.RecordFailure()
	}
	require.Greater(t, r.Backoff(), DefaultBackoffInitial)

	r.Reset()
	assert.Equal(t, DefaultBackoffInitial, r.Backoff())
	assert.Equal(t, RateLimiterStatus{State: RateLimiterStateNormal}, r.Status())

	wait, _ := r.CheckBackoff()
	assert.False(t, wait)
}
