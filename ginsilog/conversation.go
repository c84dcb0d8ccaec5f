package ginsilog

import (
	"context"
	"github.com/lmittmann/tint"
	"github.com/sashabaranov/go-openai"
	"log/slog"
	"slices"
	"sync"
)

// ConversationMessage is one chat turn in a channel
type ConversationMessage struct {
	ModelUintID
	ChannelID string `json:"channel_id" gorm:"index;type:string;not null"`
	UserID    string `json:"user_id" gorm:"type:string"`
	IsUser    bool   `json:"is_user"`
	Content   string `json:"content" gorm:"type:text"`
	ModelUnixTime
}

// Role returns the chat completion role for the message
func (m ConversationMessage) Role() string {
	if m.IsUser {
		return openai.ChatMessageRoleUser
	}
	return openai.ChatMessageRoleAssistant
}

// ConversationManager keeps the most recent messages for each channel
// in memory, mirrored to the database. Windows evicted from memory (or
// lost on restart) are reloaded from the database on first use.
type ConversationManager struct {
	writeDB DBI
	limit   int
	logger  *slog.Logger

	mu      sync.Mutex
	windows map[string][]ConversationMessage
}

func newConversationManager(writeDB DBI, limit int, logger *slog.Logger) *ConversationManager {
	return &ConversationManager{
		writeDB: writeDB,
		limit:   limit,
		logger:  logger,
		windows: map[string][]ConversationMessage{},
	}
}

// window returns the channel's messages, loading them from the database
// if they aren't cached. Callers must hold mu.
func (c *ConversationManager) window(ctx context.Context, channelID string) []ConversationMessage {
	if w, ok := c.windows[channelID]; ok {
		return w
	}
	var w []ConversationMessage
	if c.writeDB != nil && c.limit > 0 {
		var rows []ConversationMessage
		err := c.writeDB.DB().WithContext(ctx).Where(
			"channel_id = ?",
			channelID,
		).Order("id desc").Limit(c.limit).Find(&rows).Error
		if err != nil {
			c.logger.WarnContext(
				ctx,
				"error loading conversation history",
				"channel_id", channelID,
				tint.Err(err),
			)
		}
		slices.Reverse(rows)
		w = rows
	}
	c.windows[channelID] = w
	return w
}

// Append adds a message to the channel's window, evicting the oldest
// when it's full. Persistence errors are logged.
func (c *ConversationManager) Append(
	ctx context.Context,
	channelID string,
	userID string,
	isUser bool,
	content string,
) {
	msg := ConversationMessage{
		ChannelID: channelID,
		UserID:    userID,
		IsUser:    isUser,
		Content:   content,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// loaded before saving, so the new message isn't read back
	w := c.window(ctx, channelID)
	if c.writeDB != nil {
		if _, err := c.writeDB.Create(ctx, &msg); err != nil {
			c.logger.WarnContext(
				ctx,
				"error saving conversation message",
				"channel_id", channelID,
				tint.Err(err),
			)
		}
	}
	w = append(w, msg)
	if c.limit >= 0 && len(w) > c.limit {
		w = w[len(w)-c.limit:]
	}
	c.windows[channelID] = w
}

// Recent returns a copy of the channel's window, oldest first
func (c *ConversationManager) Recent(ctx context.Context, channelID string) []ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.window(ctx, channelID))
}

// Clear removes the channel's history from memory and the database
func (c *ConversationManager) Clear(ctx context.Context, channelID string) error {
	c.mu.Lock()
	c.windows[channelID] = nil
	c.mu.Unlock()

	if c.writeDB == nil {
		return nil
	}
	_, err := c.writeDB.Delete(ctx, &ConversationMessage{}, "channel_id = ?", channelID)
	return err
}
