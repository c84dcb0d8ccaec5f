package ginsilog

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

// Violation is a banned word found in a message
type Violation struct {
	Word   string
	Action ModerationAction
}

// Moderator deletes messages containing banned words and punishes the
// author: a temporary server mute, a voice disconnect, or both.
type Moderator struct {
	discord  *Discord
	settings SettingsStore
	config   *ModerationConfig
	logger   *slog.Logger

	// announcementsChannelID also receives a notice of each violation
	announcementsChannelID string

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func newModerator(
	discord *Discord,
	settings SettingsStore,
	config *ModerationConfig,
	announcementsChannelID string,
	logger *slog.Logger,
) *Moderator {
	return &Moderator{
		discord:                discord,
		settings:               settings,
		config:                 config,
		logger:                 logger,
		announcementsChannelID: announcementsChannelID,
		now:                    time.Now,
		afterFunc:              time.AfterFunc,
	}
}

// Detect returns the first banned word (in sorted order) contained in
// content, case-insensitively.
func (m *Moderator) Detect(content string) (Violation, bool) {
	content = strings.ToLower(content)
	if content == "" {
		return Violation{}, false
	}
	words := m.settings.BannedWords()
	for _, word := range sortedKeys(words) {
		if word != "" && strings.Contains(content, word) {
			return Violation{Word: word, Action: words[word]}, true
		}
	}
	return Violation{}, false
}

// Check moderates the message, returning true if it contained a banned
// word. Failures to punish are logged and don't stop the remaining
// steps.
func (m *Moderator) Check(ctx context.Context, msg *discordgo.Message) bool {
	if !m.config.Enabled || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return false
	}
	violation, found := m.Detect(msg.Content)
	if !found {
		return false
	}

	log := m.logger.With(
		slog.Group("message", messageLogAttrs(msg)...),
		"word", violation.Word,
		"action", violation.Action,
	)
	log.WarnContext(ctx, "banned word detected")
	userID := msg.Author.ID

	if err := m.discord.session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
		log.WarnContext(ctx, "unable to delete message", tint.Err(err))
	}
	_ = m.discord.sendEmbed(
		ctx,
		msg.ChannelID,
		violationWarningEmbed(userID, violation.Word, violation.Action, m.config.MuteDuration),
	)

	if violation.Action.mutes() {
		m.mute(ctx, log, msg.GuildID, userID)
	}
	if violation.Action.disconnects() {
		if err := m.discord.session.GuildMemberMove(msg.GuildID, userID, nil); err != nil {
			log.WarnContext(ctx, "unable to disconnect member from voice", tint.Err(err))
		}
	}

	_ = m.discord.sendDM(ctx, userID, "", violationDMEmbed(violation.Word, violation.Action))

	if channelID := m.announcementsChannelID; channelID != "" {
		_ = m.discord.sendEmbed(
			ctx,
			channelID,
			violationAnnouncementEmbed(userID, msg.ChannelID, violation.Word, violation.Action, m.now()),
		)
	}
	return true
}

// mute server mutes the member, and unmutes them after MuteDuration
func (m *Moderator) mute(ctx context.Context, log *slog.Logger, guildID, userID string) {
	if err := m.discord.session.GuildMemberMute(guildID, userID, true); err != nil {
		log.WarnContext(ctx, "unable to mute member", tint.Err(err))
		return
	}
	log.InfoContext(ctx, "muted member", "duration", m.config.MuteDuration)

	unmuteCtx := context.WithoutCancel(ctx)
	m.afterFunc(
		m.config.MuteDuration, func() {
			defer func() {
				if rc := recover(); rc != nil {
					logRecover(unmuteCtx, log, rc)
				}
			}()
			m.unmute(unmuteCtx, log, guildID, userID)
		},
	)
}

func (m *Moderator) unmute(ctx context.Context, log *slog.Logger, guildID, userID string) {
	if err := m.discord.session.GuildMemberMute(guildID, userID, false); err != nil {
		log.WarnContext(ctx, "unable to unmute member", tint.Err(err))
		return
	}
	log.InfoContext(ctx, "unmuted member")
	_ = m.discord.sendDM(ctx, userID, "", unmutedEmbed())
}
