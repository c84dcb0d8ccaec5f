package ginsilog

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// countingEncoder "encodes" a frame as its first sample's low byte,
// recording the frames it's given
type countingEncoder struct {
	frames [][]int16
	err    error
}

func (c *countingEncoder) Encode(pcm []int16, data []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.frames = append(c.frames, append([]int16(nil), pcm...))
	data[0] = byte(pcm[0])
	return 1, nil
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 1234}

	wav := encodeWAV(samples, 24000, 1)
	assert.Len(t, wav, wavHeaderSize+len(samples)*2)

	decoded, rate, channels, err := decodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, 1, channels)
}

func TestDecodeWAV_StreamingDataSize(t *testing.T) {
	t.Parallel()
	wav := encodeWAV([]int16{5, 6, 7, 8}, 16000, 2)
	// streaming encoders write 0xFFFFFFFF as the data size
	copy(wav[40:44], []byte{0xff, 0xff, 0xff, 0xff})

	decoded, _, _, err := decodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, []int16{5, 6, 7, 8}, decoded)
}

func TestDecodeWAV_Unsupported(t *testing.T) {
	t.Parallel()
	_, _, _, err := decodeWAV([]byte("ID3\x04 this is an mp3"))
	assert.ErrorIs(t, err, ErrUnsupportedAudio)

	wav := encodeWAV([]int16{1, 2}, 16000, 1)
	wav[34] = 8 // 8-bit samples
	_, _, _, err = decodeWAV(wav)
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
}

func TestToVoicePCM(t *testing.T) {
	t.Parallel()

	stereo := []int16{100, -100, 200, -200}
	out, err := toVoicePCM(stereo, voiceSampleRate, 2)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.InDelta(t, 100, out[0], 1)
	assert.InDelta(t, -200, out[3], 1)

	mono := make([]int16, 2400)
	for i := range mono {
		mono[i] = 1000
	}
	out, err = toVoicePCM(mono, 24000, 1)
	require.NoError(t, err)
	frames := len(out) / voiceChannels
	assert.InDelta(t, 4800, frames, 200)
	// upmixed channels are identical
	mid := (frames / 2) * voiceChannels
	assert.Equal(t, out[mid], out[mid+1])

	_, err = toVoicePCM(mono, 24000, 3)
	assert.ErrorIs(t, err, ErrUnsupportedAudio)
}

func TestEncodeOpusFrames(t *testing.T) {
	t.Parallel()
	pcm := make([]int16, voiceFrameSamples*2+10)
	pcm[0] = 1
	pcm[voiceFrameSamples] = 2
	pcm[voiceFrameSamples*2] = 3

	enc := &countingEncoder{}
	frames, err := encodeOpusFrames(enc, pcm)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []byte{3}, frames[2])
	for _, f := range enc.frames {
		assert.Len(t, f, voiceFrameSamples)
	}
	// the last frame is padded with silence
	assert.Zero(t, enc.frames[2][10])

	enc.err = errors.New("bad frame")
	_, err = encodeOpusFrames(enc, pcm)
	assert.ErrorIs(t, err, enc.err)
}

func TestPCMHelpers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Second, pcmDuration(96000, voiceSampleRate, voiceChannels))
	assert.Equal(t, voiceFrameDuration, pcmDuration(voiceFrameSamples, voiceSampleRate, voiceChannels))
	assert.Zero(t, pcmDuration(100, 0, 2))

	assert.Zero(t, rms(nil))
	assert.InDelta(t, 100, rms([]int16{100, -100, 100, -100}), 0.001)
}
