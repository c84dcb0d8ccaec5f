package ginsilog

import (
	"maps"
	"sync"
	"time"
)

const statusMaxRateLimitEvents = 50

// RateLimitEvent is a recorded Discord rate limit
type RateLimitEvent struct {
	At      time.Time     `json:"at"`
	Backoff time.Duration `json:"backoff"`
	Source  string        `json:"source"`
}

// StatusMonitor counts commands and keeps recent rate limit events for
// the status endpoint
type StatusMonitor struct {
	startedAt time.Time
	now       func() time.Time

	mu              sync.Mutex
	commandCounts   map[string]int64
	commandErrors   int64
	rateLimitEvents []RateLimitEvent
}

func newStatusMonitor(now func() time.Time) *StatusMonitor {
	if now == nil {
		now = time.Now
	}
	return &StatusMonitor{
		startedAt:     now(),
		now:           now,
		commandCounts: map[string]int64{},
	}
}

func (s *StatusMonitor) RecordCommand(name string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandCounts[name]++
	if failed {
		s.commandErrors++
	}
}

// RecordRateLimit keeps the event, discarding the oldest past
// statusMaxRateLimitEvents
func (s *StatusMonitor) RecordRateLimit(source string, backoff time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitEvents = append(
		s.rateLimitEvents,
		RateLimitEvent{At: s.now(), Backoff: backoff, Source: source},
	)
	if over := len(s.rateLimitEvents) - statusMaxRateLimitEvents; over > 0 {
		s.rateLimitEvents = append([]RateLimitEvent(nil), s.rateLimitEvents[over:]...)
	}
}

func (s *StatusMonitor) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}

// StatusReport is served as JSON from the status endpoint
type StatusReport struct {
	Version         string            `json:"version"`
	StartedAt       time.Time         `json:"started_at"`
	Uptime          string            `json:"uptime"`
	Connected       bool              `json:"connected"`
	Connects        int64             `json:"connects"`
	Disconnects     int64             `json:"disconnects"`
	Maintenance     bool              `json:"maintenance"`
	CustomStatus    string            `json:"custom_status,omitempty"`
	RateLimiter     RateLimiterStatus `json:"rate_limiter"`
	RateLimitEvents []RateLimitEvent  `json:"rate_limit_events"`
	Commands        map[string]int64  `json:"commands"`
	CommandErrors   int64             `json:"command_errors"`
	Voice           []VoiceSnapshot   `json:"voice"`
}

// Report returns the monitor's counters. The caller fills in the
// connection and voice state.
func (s *StatusMonitor) Report() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusReport{
		Version:         Version,
		StartedAt:       s.startedAt,
		Uptime:          s.now().Sub(s.startedAt).Round(time.Second).String(),
		RateLimitEvents: append([]RateLimitEvent{}, s.rateLimitEvents...),
		Commands:        maps.Clone(s.commandCounts),
		CommandErrors:   s.commandErrors,
	}
}

// Status reports the bot's current state
func (b *Bot) Status() StatusReport {
	report := b.status.Report()
	state := b.RuntimeConfig()
	report.Maintenance = b.Maintenance()
	report.CustomStatus = state.CustomStatus
	if b.discord != nil {
		report.Connected = b.discord.connected.Load()
		report.Connects = b.discord.metricConnects.Load()
		report.Disconnects = b.discord.metricDisconnects.Load()
	}
	if b.rateLimiter != nil {
		report.RateLimiter = b.rateLimiter.Status()
	}
	report.Voice = []VoiceSnapshot{}
	if b.voice != nil {
		report.Voice = b.voice.Snapshot()
	}
	return report
}
