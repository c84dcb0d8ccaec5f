package ginsilog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
)

var ErrClipTooShort = errors.New("audio clip is too short to transcribe")

const (
	speechRetryAttempts  = 3
	speechRetryBaseDelay = 200 * time.Millisecond
	speechMaxResponse    = 32 << 20
)

// Language is the detected language of text to be spoken
type Language string

const (
	LanguageFilipino Language = "fil"
	LanguageEnglish  Language = "en"
)

var tagalogMarkers = map[string]struct{}{
	"ako": {}, "ikaw": {}, "siya": {}, "kami": {}, "tayo": {}, "kayo": {},
	"sila": {}, "na": {}, "at": {}, "ang": {}, "mga": {},
}

// detectLanguage treats text with at least two common Tagalog words as
// Filipino, and anything else as English.
func detectLanguage(text string) Language {
	var matches int
	for _, word := range normalizeWords(text) {
		if _, ok := tagalogMarkers[word]; ok {
			matches++
			if matches >= 2 {
				return LanguageFilipino
			}
		}
	}
	return LanguageEnglish
}

func normalizeWords(text string) []string {
	return strings.FieldsFunc(
		strings.ToLower(text),
		func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		},
	)
}

// normalizePhrase lowercases text and collapses punctuation and spacing
func normalizePhrase(text string) string {
	return strings.Join(normalizeWords(text), " ")
}

// Voice identifies a synthesizer voice
type Voice struct {
	Name     string
	Gender   VoiceGender
	Language Language
}

// selectVoice picks the neural voice for the language and gender
func selectVoice(lang Language, gender VoiceGender) Voice {
	v := Voice{Gender: gender, Language: lang}
	switch {
	case lang == LanguageFilipino && gender == VoiceGenderMale:
		v.Name = "fil-PH-AngeloNeural"
	case lang == LanguageFilipino:
		v.Name = "fil-PH-BlessicaNeural"
	case gender == VoiceGenderMale:
		v.Name = "en-US-GuyNeural"
	default:
		v.Name = "en-US-JennyNeural"
	}
	return v
}

var stopPhrases = map[string]struct{}{
	"stop": {}, "tigil": {}, "tama na": {}, "umalis ka": {}, "leave": {}, "bye": {},
}

// isStopPhrase reports whether a transcript asks the bot to stop
// listening
func isStopPhrase(text string) bool {
	_, ok := stopPhrases[normalizePhrase(text)]
	return ok
}

var (
	voiceChangePhrases = []string{
		"palit voice", "palit boses", "palit ka voice", "palit ka boses",
		"gawin mong lalaki", "gusto ko lalaki", "gusto ko babae",
		"lalaki na voice", "babae na voice", "babae voice", "lalaki voice",
		"maging lalaki ka", "maging babae ka",
		"change voice", "change your voice", "voice to male", "voice to female",
		"male voice", "female voice", "use male voice", "use female voice",
		"switch to male", "switch to female", "speak as a man", "speak as a woman",
	}
	femaleVoiceWords = []string{"babae", "female", "girl", "woman"}
	maleVoiceWords   = []string{"lalaki", "male", "guy", "boy", "man"}
)

// detectVoiceChange reports whether a transcript asks for a different
// voice, and which one. Female words are checked first, since "female"
// contains "male"; with neither, male is assumed.
func detectVoiceChange(text string) (VoiceGender, bool) {
	phrase := normalizePhrase(text)
	var matched bool
	for _, p := range voiceChangePhrases {
		if strings.Contains(phrase, p) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}
	words := normalizeWords(phrase)
	hasWord := func(candidates []string) bool {
		for _, w := range words {
			for _, c := range candidates {
				if w == c {
					return true
				}
			}
		}
		return false
	}
	if hasWord(femaleVoiceWords) {
		return VoiceGenderFemale, true
	}
	return VoiceGenderMale, true
}

// Synthesizer converts text to WAV audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// newSynthesizer returns the configured Synthesizer
func newSynthesizer(
	config *VoiceConfig,
	openaiClient *openai.Client,
	httpClient *http.Client,
	logger *slog.Logger,
) (Synthesizer, error) {
	switch config.SpeechProvider {
	case speechProviderHTTP:
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		return &httpSynthesizer{
			client: httpClient,
			config: config,
			logger: logger,
			sleep:  sleepContext,
		}, nil
	case speechProviderOpenAI:
		if openaiClient == nil {
			return nil, errors.New("openai speech provider requires an AI client")
		}
		return &openaiSynthesizer{
			config: config,
			logger: logger,
			createSpeech: func(ctx context.Context, req openai.CreateSpeechRequest) (io.ReadCloser, error) {
				return openaiClient.CreateSpeech(ctx, req)
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown speech provider: %q", config.SpeechProvider)
	}
}

// speechRequest is the JSON body accepted by edge-tts compatible
// services
type speechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Rate   string `json:"rate,omitempty"`
	Volume string `json:"volume,omitempty"`
	Format string `json:"format"`
}

// httpSynthesizer requests speech from an edge-tts compatible HTTP
// service
type httpSynthesizer struct {
	client *http.Client
	config *VoiceConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func (h *httpSynthesizer) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	body, err := json.Marshal(
		speechRequest{
			Text:   text,
			Voice:  voice.Name,
			Rate:   h.config.SpeechRate,
			Volume: h.config.SpeechVolume,
			Format: "wav",
		},
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.SpeechTimeout)
	defer cancel()

	var errs []error
	for attempt := 0; attempt < speechRetryAttempts; attempt++ {
		if attempt > 0 {
			if err = h.sleep(ctx, speechRetryBaseDelay<<(attempt-1)); err != nil {
				errs = append(errs, err)
				break
			}
		}
		audio, e := h.post(ctx, body)
		if e == nil {
			return audio, nil
		}
		h.logger.WarnContext(
			ctx,
			"speech request failed",
			tint.Err(e),
			"attempt", attempt+1,
			"voice", voice.Name,
		)
		errs = append(errs, e)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("error synthesizing speech: %w", errors.Join(errs...))
}

func (h *httpSynthesizer) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.SpeechURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	if h.config.SpeechToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.SpeechToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech service returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, speechMaxResponse))
}

// openaiSynthesizer uses an OpenAI-compatible speech endpoint
type openaiSynthesizer struct {
	config       *VoiceConfig
	logger       *slog.Logger
	createSpeech func(ctx context.Context, req openai.CreateSpeechRequest) (io.ReadCloser, error)
}

func (o *openaiSynthesizer) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.SpeechTimeout)
	defer cancel()

	speechVoice := openai.VoiceNova
	if voice.Gender == VoiceGenderMale {
		speechVoice = openai.VoiceOnyx
	}
	resp, err := o.createSpeech(
		ctx,
		openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(o.config.SpeechModel),
			Input:          text,
			Voice:          speechVoice,
			ResponseFormat: openai.SpeechResponseFormat("wav"),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating speech: %w", err)
	}
	defer func() {
		_ = resp.Close()
	}()
	return io.ReadAll(io.LimitReader(resp, speechMaxResponse))
}

// Transcriber converts captured voice audio to text
type Transcriber struct {
	client      TranscriptionClient
	config      *AIConfig
	minDuration time.Duration
	logger      *slog.Logger
}

func newTranscriber(
	client TranscriptionClient,
	config *AIConfig,
	minDuration time.Duration,
	logger *slog.Logger,
) *Transcriber {
	return &Transcriber{
		client:      client,
		config:      config,
		minDuration: minDuration,
		logger:      logger,
	}
}

// Transcribe sends 48kHz stereo PCM for transcription. Clips shorter
// than the minimum utterance return ErrClipTooShort without a request.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	duration := pcmDuration(len(pcm), voiceSampleRate, voiceChannels)
	if duration < t.minDuration {
		return "", fmt.Errorf("%w: %s", ErrClipTooShort, duration)
	}

	correlationID := uuid.NewString()
	log := t.logger.With("correlation_id", correlationID, "duration", duration)

	ctx, cancel := context.WithTimeout(ctx, t.config.TranscriptionTimeout)
	defer cancel()

	started := time.Now()
	resp, err := t.client.CreateTranscription(
		ctx,
		openai.AudioRequest{
			Model:    t.config.TranscriptionModel,
			FilePath: correlationID + ".wav",
			Reader:   bytes.NewReader(encodeWAV(pcm, voiceSampleRate, voiceChannels)),
			Prompt:   "",
		},
	)
	if err != nil {
		log.ErrorContext(ctx, "transcription failed", tint.Err(err))
		return "", fmt.Errorf("error transcribing audio: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	log.InfoContext(ctx, "transcribed audio", "elapsed", time.Since(started), "text", text)
	return text, nil
}
