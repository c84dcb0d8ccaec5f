package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ErrChatRateLimited = errors.New("chat rate limit reached")
	ErrEmptyResponse   = errors.New("empty response from AI")
)

var thinkBlockPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)

// stripThinkBlocks removes <think>...</think> reasoning blocks some
// models include in their output
func stripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkBlockPattern.ReplaceAllString(s, ""))
}

// ChatClient is the subset of the go-openai client used for chat
type ChatClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// TranscriptionClient is the subset of the go-openai client used for
// speech recognition
type TranscriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// newOpenAIClient returns a go-openai client for the configured
// OpenAI-compatible endpoint (Groq by default)
func newOpenAIClient(config *AIConfig, httpClient *http.Client) *openai.Client {
	clientCfg := openai.DefaultConfig(config.Token)
	clientCfg.BaseURL = config.BaseURL
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// AI generates persona replies, with per-channel conversation context
// and a per-user request limit.
type AI struct {
	client        ChatClient
	config        *AIConfig
	logger        *slog.Logger
	persona       string
	conversations *ConversationManager

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAI(
	config *AIConfig,
	client ChatClient,
	conversations *ConversationManager,
	logger *slog.Logger,
) *AI {
	return &AI{
		client:        client,
		config:        config,
		logger:        logger,
		persona:       DefaultPersona,
		conversations: conversations,
		limiters:      map[string]*rate.Limiter{},
	}
}

// Allow reports whether the user may make another chat request, and
// consumes a token if so. Each user gets ChatRateLimit requests per
// ChatRateWindow.
func (a *AI) Allow(userID string) bool {
	a.mu.Lock()
	limiter, ok := a.limiters[userID]
	if !ok {
		every := a.config.ChatRateWindow / time.Duration(a.config.ChatRateLimit)
		limiter = rate.NewLimiter(rate.Every(every), a.config.ChatRateLimit)
		a.limiters[userID] = limiter
	}
	a.mu.Unlock()
	return limiter.Allow()
}

// Complete sends the persona, prior messages and prompt to the model,
// returning the reply with reasoning blocks removed.
func (a *AI) Complete(ctx context.Context, history []ConversationMessage, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: a.persona},
	)
	for _, m := range history {
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: m.Role(), Content: m.Content},
		)
	}
	messages = append(
		messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt},
	)

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       a.config.Model,
			Messages:    messages,
			MaxTokens:   a.config.MaxTokens,
			Temperature: a.config.Temperature,
			TopP:        1,
		},
	)
	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	a.logger.DebugContext(
		ctx,
		"chat completion",
		"model", resp.Model,
		"elapsed", time.Since(started),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	reply := stripThinkBlocks(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

// Chat answers a user's prompt in the context of the channel's recent
// conversation, and records both sides of the exchange.
// ErrChatRateLimited is returned if the user is over their limit.
func (a *AI) Chat(ctx context.Context, channelID, userID, prompt string) (string, error) {
	if !a.Allow(userID) {
		return "", ErrChatRateLimited
	}

	var history []ConversationMessage
	if a.conversations != nil && a.config.ContextMessages > 0 {
		history = a.conversations.Recent(ctx, channelID)
		if len(history) > a.config.ContextMessages {
			history = history[len(history)-a.config.ContextMessages:]
		}
	}

	reply, err := a.Complete(ctx, history, prompt)
	if err != nil {
		a.logger.ErrorContext(
			ctx,
			"error getting AI response",
			"channel_id", channelID,
			"user_id", userID,
			tint.Err(err),
		)
		return "", err
	}

	if a.conversations != nil {
		a.conversations.Append(ctx, channelID, userID, true, prompt)
		a.conversations.Append(ctx, channelID, "", false, reply)
	}
	return reply, nil
}
