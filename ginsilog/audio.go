package ginsilog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/oov/audio/resampler"
	"gopkg.in/hraban/opus.v2"
	"math"
	"time"
)

// Discord voice audio is 48kHz stereo, sent as 20ms opus frames
const (
	voiceSampleRate    = 48000
	voiceChannels      = 2
	voiceFrameSize     = 960
	voiceFrameSamples  = voiceFrameSize * voiceChannels
	voiceFrameDuration = 20 * time.Millisecond
	opusMaxPacketSize  = 4000
	resamplerQuality   = 4
	wavHeaderSize      = 44
	wavFormatPCM       = 1
	wavBitsPerSample   = 16
)

var ErrUnsupportedAudio = errors.New("unsupported audio format")

// opusFrameEncoder is satisfied by *opus.Encoder
type opusFrameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// opusFrameDecoder is satisfied by *opus.Decoder
type opusFrameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

func newOpusEncoder() (opusFrameEncoder, error) {
	enc, err := opus.NewEncoder(voiceSampleRate, voiceChannels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("error creating opus encoder: %w", err)
	}
	if err = enc.SetMaxBandwidth(opus.Fullband); err != nil {
		return nil, err
	}
	return enc, nil
}

func newOpusDecoder() (opusFrameDecoder, error) {
	dec, err := opus.NewDecoder(voiceSampleRate, voiceChannels)
	if err != nil {
		return nil, fmt.Errorf("error creating opus decoder: %w", err)
	}
	return dec, nil
}

// pcmDuration returns the length of interleaved PCM audio
func pcmDuration(samples int, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := samples / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// encodeWAV wraps 16-bit interleaved PCM in a RIFF/WAVE container
func encodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataLen := len(samples) * 2
	blockAlign := channels * wavBitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavBitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// decodeWAV reads 16-bit PCM from a RIFF/WAVE file. Streaming TTS
// services may write a placeholder data size, in which case the rest
// of the file is used.
func decodeWAV(data []byte) (samples []int16, sampleRate int, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("%w: not a WAV file", ErrUnsupportedAudio)
	}

	var haveFormat bool
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if chunkLen < 0 || body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedAudio)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != wavFormatPCM || bits != wavBitsPerSample {
				return nil, 0, 0, fmt.Errorf(
					"%w: format=%d bits=%d (want 16-bit PCM)",
					ErrUnsupportedAudio,
					format,
					bits,
				)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, 0, 0, fmt.Errorf("%w: data before fmt", ErrUnsupportedAudio)
			}
			raw := data[body : body+chunkLen-chunkLen%2]
			samples = make([]int16, len(raw)/2)
			if err = binary.Read(bytes.NewReader(raw), binary.LittleEndian, samples); err != nil {
				return nil, 0, 0, err
			}
			return samples, sampleRate, channels, nil
		}
		pos = body + chunkLen + chunkLen%2
	}
	return nil, 0, 0, fmt.Errorf("%w: no data chunk", ErrUnsupportedAudio)
}

// toVoicePCM converts interleaved PCM to 48kHz stereo, resampling and
// upmixing as needed.
func toVoicePCM(samples []int16, sampleRate, channels int) ([]int16, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedAudio, channels)
	}
	frames := len(samples) / channels

	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, frames)
		for i := 0; i < frames; i++ {
			planes[c][i] = float32(samples[i*channels+c]) / math.MaxInt16
		}
	}

	if sampleRate != voiceSampleRate {
		r := resampler.New(channels, sampleRate, voiceSampleRate, resamplerQuality)
		outLen := frames*voiceSampleRate/sampleRate + voiceFrameSize
		for c := range planes {
			out := make([]float32, outLen)
			_, written := r.ProcessFloat32(c, planes[c], out)
			planes[c] = out[:written]
		}
	}
	if channels == 1 {
		planes = append(planes, planes[0])
	}

	n := len(planes[0])
	if len(planes[1]) < n {
		n = len(planes[1])
	}
	out := make([]int16, n*voiceChannels)
	for i := 0; i < n; i++ {
		out[i*2] = floatToPCM(planes[0][i])
		out[i*2+1] = floatToPCM(planes[1][i])
	}
	return out, nil
}

func floatToPCM(f float32) int16 {
	v := float64(f) * math.MaxInt16
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// rms returns the root-mean-square amplitude of the samples
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// encodeOpusFrames splits 48kHz stereo PCM into 20ms frames and encodes
// each one. The last frame is padded with silence.
func encodeOpusFrames(enc opusFrameEncoder, pcm []int16) ([][]byte, error) {
	frames := make([][]byte, 0, len(pcm)/voiceFrameSamples+1)
	for i := 0; i < len(pcm); i += voiceFrameSamples {
		frame := make([]int16, voiceFrameSamples)
		copy(frame, pcm[i:min(i+voiceFrameSamples, len(pcm))])
		buf := make([]byte, opusMaxPacketSize)
		n, err := enc.Encode(frame, buf)
		if err != nil {
			return nil, fmt.Errorf("error encoding opus frame: %w", err)
		}
		frames = append(frames, buf[:n])
	}
	return frames, nil
}
