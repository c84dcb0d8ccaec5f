package ginsilog

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// pushFrames pushes count 20ms frames starting at start, returning the
// time after the last frame
func pushFrames(u *UtteranceBuffer, start time.Time, count int, voiced bool) time.Time {
	at := start
	for i := 0; i < count; i++ {
		frame := make([]int16, voiceFrameSamples)
		if voiced {
			for j := range frame {
				frame[j] = int16(j % 3000)
			}
		}
		u.Push(frame, voiced, at)
		at = at.Add(voiceFrameDuration)
	}
	return at
}

func TestUtteranceBuffer_FlushAfterSilence(t *testing.T) {
	t.Parallel()
	u := NewUtteranceBuffer(800*time.Millisecond, time.Second)
	start := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	// 1.2s of speech
	end := pushFrames(u, start, 60, true)
	assert.True(t, u.Speaking())

	pcm, event := u.Tick(end.Add(500 * time.Millisecond))
	assert.Equal(t, UtteranceNone, event)
	assert.Nil(t, pcm)

	// 0.9s of silence
	silenceEnd := pushFrames(u, end, 45, false)
	pcm, event = u.Tick(silenceEnd)
	require.Equal(t, UtteranceFlushed, event)
	assert.Len(t, pcm, 60*voiceFrameSamples)
	assert.Equal(t, 1200*time.Millisecond, pcmDuration(len(pcm), voiceSampleRate, voiceChannels))
	assert.True(t, u.Processing())
	assert.False(t, u.Speaking())

	// nothing further until more speech arrives
	_, event = u.Tick(silenceEnd.Add(time.Second))
	assert.Equal(t, UtteranceNone, event)
}

func TestUtteranceBuffer_DropWhileProcessing(t *testing.T) {
	t.Parallel()
	u := NewUtteranceBuffer(800*time.Millisecond, time.Second)
	start := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	end := pushFrames(u, start, 60, true)
	_, event := u.Tick(end.Add(900 * time.Millisecond))
	require.Equal(t, UtteranceFlushed, event)

	// a second utterance before the first is transcribed is discarded
	next := end.Add(time.Second)
	end = pushFrames(u, next, 60, true)
	pcm, event := u.Tick(end.Add(900 * time.Millisecond))
	assert.Equal(t, UtteranceDropped, event)
	assert.Nil(t, pcm)
	assert.False(t, u.Speaking())

	u.Done()
	assert.False(t, u.Processing())

	next = end.Add(2 * time.Second)
	end = pushFrames(u, next, 60, true)
	pcm, event = u.Tick(end.Add(900 * time.Millisecond))
	assert.Equal(t, UtteranceFlushed, event)
	assert.Len(t, pcm, 60*voiceFrameSamples)
}

func TestUtteranceBuffer_DiscardShort(t *testing.T) {
	t.Parallel()
	u := NewUtteranceBuffer(800*time.Millisecond, time.Second)
	start := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

	// 0.4s of voiced audio spread over pauses
	at := start
	for i := 0; i < 4; i++ {
		at = pushFrames(u, at, 5, true)
		at = pushFrames(u, at, 10, false)
	}
	pcm, event := u.Tick(at.Add(time.Second))
	assert.Equal(t, UtteranceDiscarded, event)
	assert.Nil(t, pcm)
	assert.False(t, u.Processing())
}

func TestUtteranceBuffer_Reset(t *testing.T) {
	t.Parallel()
	u := NewUtteranceBuffer(800*time.Millisecond, time.Second)
	end := pushFrames(u, time.Now(), 60, true)
	u.Reset()
	assert.False(t, u.Speaking())

	_, event := u.Tick(end.Add(time.Hour))
	assert.Equal(t, UtteranceNone, event)
}

func TestUtteranceEvent_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "flushed", UtteranceFlushed.String())
	assert.Equal(t, "dropped", UtteranceDropped.String())
	assert.Equal(t, "discarded", UtteranceDiscarded.String())
	assert.Equal(t, "none", UtteranceNone.String())
}
