package ginsilog

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type RateLimiterState string

const (
	RateLimiterStateNormal     RateLimiterState = "normal"
	RateLimiterStateRecovering RateLimiterState = "recovering"
	RateLimiterStateBackingOff RateLimiterState = "backing_off"
)

// RateLimiter tracks consecutive rate limit failures when connecting to
// Discord, and computes an exponential backoff with 10-20% jitter.
// It never sleeps; callers use CheckBackoff to decide whether to wait.
type RateLimiter struct {
	mu                  sync.Mutex
	consecutiveFailures int
	currentBackoff      time.Duration
	lastFailure         time.Time
	isBackingOff        bool

	minBackoff time.Duration
	maxBackoff time.Duration

	logger *slog.Logger
	now    func() time.Time
	jitter func() float64
}

// RateLimiterStatus is a point-in-time view of a RateLimiter
type RateLimiterStatus struct {
	State               RateLimiterState `json:"state"`
	ConsecutiveFailures int              `json:"consecutive_failures,omitempty"`
	Backoff             time.Duration    `json:"backoff,omitempty"`
	Remaining           time.Duration    `json:"remaining,omitempty"`
}

func NewRateLimiter(minBackoff, maxBackoff time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &RateLimiter{
		currentBackoff: minBackoff,
		minBackoff:     minBackoff,
		maxBackoff:     maxBackoff,
		logger:         logger,
		now:            time.Now,
		jitter: func() float64 {
			return 0.1 + rand.Float64()*0.1
		},
	}
}

// RecordFailure registers a rate limit and returns the new backoff.
// The backoff doubles up to the maximum, then jitter is added and the
// result is clamped to [min, max].
func (r *RateLimiter) RecordFailure() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures++
	r.lastFailure = r.now()
	r.isBackingOff = true

	backoff := min(r.currentBackoff*2, r.maxBackoff)
	backoff += time.Duration(float64(backoff) * r.jitter())
	r.currentBackoff = max(r.minBackoff, min(backoff, r.maxBackoff))

	r.logger.Warn(
		"rate limit encountered",
		"consecutive_failures", r.consecutiveFailures,
		"backoff", r.currentBackoff,
	)
	return r.currentBackoff
}

// CheckBackoff reports whether callers should keep waiting, and for how
// long. The backing-off state is cleared once the backoff has elapsed.
func (r *RateLimiter) CheckBackoff() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isBackingOff {
		return false, 0
	}
	remaining := r.currentBackoff - r.now().Sub(r.lastFailure)
	if remaining <= 0 {
		r.isBackingOff = false
		r.logger.Info("backoff period completed")
		return false, 0
	}
	return true, remaining
}

// Reset clears failures after a successful operation
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consecutiveFailures > 0 {
		r.logger.Info("rate limiter reset", "previous_failures", r.consecutiveFailures)
	}
	r.consecutiveFailures = 0
	r.currentBackoff = r.minBackoff
	r.isBackingOff = false
}

func (r *RateLimiter) Backoff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBackoff
}

func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.isBackingOff:
		return RateLimiterStatus{
			State:               RateLimiterStateBackingOff,
			ConsecutiveFailures: r.consecutiveFailures,
			Backoff:             r.currentBackoff,
			Remaining:           max(0, r.currentBackoff-r.now().Sub(r.lastFailure)),
		}
	case r.consecutiveFailures > 0:
		return RateLimiterStatus{
			State:               RateLimiterStateRecovering,
			ConsecutiveFailures: r.consecutiveFailures,
		}
	default:
		return RateLimiterStatus{State: RateLimiterStateNormal}
	}
}
