package ginsilog

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestStatusMonitor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	s := newStatusMonitor(func() time.Time { return now })

	s.RecordCommand("daily", false)
	s.RecordCommand("toss", true)
	s.RecordCommand("daily", false)
	s.RecordRateLimit("connect", time.Minute)

	now = now.Add(90 * time.Minute)
	assert.Equal(t, 90*time.Minute, s.Uptime())

	report := s.Report()
	assert.Equal(t, "1h30m0s", report.Uptime)
	assert.Equal(t, map[string]int64{"daily": 2, "toss": 1}, report.Commands)
	assert.Equal(t, int64(1), report.CommandErrors)
	assert.Equal(
		t,
		[]RateLimitEvent{{At: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC), Backoff: time.Minute, Source: "connect"}},
		report.RateLimitEvents,
	)

	// the report is a copy
	report.Commands["daily"] = 100
	assert.Equal(t, int64(2), s.Report().Commands["daily"])
}

func TestStatusMonitor_RateLimitEventsCapped(t *testing.T) {
	t.Parallel()
	s := newStatusMonitor(nil)
	for i := 0; i < statusMaxRateLimitEvents+10; i++ {
		s.RecordRateLimit("connect", time.Duration(i)*time.Second)
	}

	events := s.Report().RateLimitEvents
	assert.Len(t, events, statusMaxRateLimitEvents)
	assert.Equal(t, 10*time.Second, events[0].Backoff)
	assert.Equal(t, time.Duration(statusMaxRateLimitEvents+9)*time.Second, events[len(events)-1].Backoff)
}
