package ginsilog

import (
	"sync"
	"sync/atomic"
	"time"
)

// UtteranceEvent is the outcome of checking an utterance for trailing
// silence
type UtteranceEvent int

const (
	UtteranceNone UtteranceEvent = iota
	// UtteranceFlushed means a complete utterance is ready to transcribe
	UtteranceFlushed
	// UtteranceDiscarded means the speaker went quiet before saying
	// enough to transcribe
	UtteranceDiscarded
	// UtteranceDropped means a complete utterance was thrown away
	// because the previous one is still being processed
	UtteranceDropped
)

func (e UtteranceEvent) String() string {
	switch e {
	case UtteranceFlushed:
		return "flushed"
	case UtteranceDiscarded:
		return "discarded"
	case UtteranceDropped:
		return "dropped"
	default:
		return "none"
	}
}

// UtteranceBuffer accumulates one speaker's voiced audio until they
// pause. Only voiced frames are kept.
type UtteranceBuffer struct {
	mu         sync.Mutex
	pcm        []int16
	voiced     time.Duration
	lastVoiced time.Time
	speaking   bool

	processing atomic.Bool

	silenceThreshold time.Duration
	minUtterance     time.Duration
}

func NewUtteranceBuffer(silenceThreshold, minUtterance time.Duration) *UtteranceBuffer {
	return &UtteranceBuffer{
		silenceThreshold: silenceThreshold,
		minUtterance:     minUtterance,
	}
}

// Push records a decoded 48kHz stereo frame received at the given time.
// Frames that aren't voiced are ignored; silence is measured by Tick
// from the last voiced frame.
func (u *UtteranceBuffer) Push(frame []int16, voiced bool, at time.Time) {
	if !voiced {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	d := pcmDuration(len(frame), voiceSampleRate, voiceChannels)
	u.pcm = append(u.pcm, frame...)
	u.voiced += d
	u.lastVoiced = at.Add(d)
	u.speaking = true
}

// Tick checks for trailing silence at now. When the silence threshold
// has passed, the buffer is reset and either the utterance is returned
// for transcription (UtteranceFlushed, with the processing flag set),
// or it is thrown away.
func (u *UtteranceBuffer) Tick(now time.Time) ([]int16, UtteranceEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.speaking || now.Sub(u.lastVoiced) < u.silenceThreshold {
		return nil, UtteranceNone
	}

	pcm := u.pcm
	enough := u.voiced >= u.minUtterance
	u.pcm = nil
	u.voiced = 0
	u.speaking = false

	switch {
	case !enough:
		return nil, UtteranceDiscarded
	case !u.processing.CompareAndSwap(false, true):
		return nil, UtteranceDropped
	default:
		return pcm, UtteranceFlushed
	}
}

// Speaking reports whether voiced audio is buffered
func (u *UtteranceBuffer) Speaking() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.speaking
}

// Processing reports whether a flushed utterance hasn't been marked Done
func (u *UtteranceBuffer) Processing() bool {
	return u.processing.Load()
}

// Done marks the flushed utterance as processed, allowing the next one
// to be flushed
func (u *UtteranceBuffer) Done() {
	u.processing.Store(false)
}

// Reset clears buffered audio
func (u *UtteranceBuffer) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pcm = nil
	u.voiced = 0
	u.speaking = false
}
