package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidToken   = errors.New("invalid discord token")
	ErrAuthentication = errors.New("discord authentication failed")
)

// Discord owns the gateway session and helpers for talking to the
// Discord API.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	rateLimiter                 *RateLimiter
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()

	userMu    sync.RWMutex
	botUserID string
	guildIDs  map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error

	// onRateLimited is called with each rate limit backoff
	onRateLimited func(source string, backoff time.Duration)
}

func newDiscord(config *DiscordConfig, rateLimiter *RateLimiter, logger *slog.Logger) *Discord {
	return &Discord{
		config:                      config,
		logger:                      logger,
		rateLimiter:                 rateLimiter,
		discordgoRemoveHandlerFuncs: []func(){},
		guildIDs:                    map[string]struct{}{},
		sleep:                       sleepContext,
	}
}

// newSession creates a discordgo session. State tracking is enabled,
// since voice states, presences and roles are read from it.
func (d *Discord) newSession(httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.StateEnabled = true
	disc.State.TrackVoice = true
	disc.State.TrackPresences = true
	disc.State.TrackMembers = true
	disc.State.TrackRoles = true
	disc.Identify.Intents = d.config.GatewayIntents
	if httpClient != nil {
		disc.Client = httpClient
	}
	session.session = disc

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// validateToken checks the token looks like a bot token before trying
// to connect with it.
func validateToken(token string) error {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return fmt.Errorf("%w: token is empty", ErrInvalidToken)
	case len(token) < 50:
		return fmt.Errorf("%w: token is too short (%d characters)", ErrInvalidToken, len(token))
	case !strings.Contains(token, "."):
		return fmt.Errorf("%w: token is malformed", ErrInvalidToken)
	}
	return nil
}

type connectErrorKind int

const (
	connectErrorOther connectErrorKind = iota
	connectErrorAuth
	connectErrorRateLimit
)

// classifyConnectError sorts a session error into authentication
// failures (fatal), rate limits and everything else.
func classifyConnectError(err error) connectErrorKind {
	if err == nil {
		return connectErrorOther
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return connectErrorAuth
		case http.StatusTooManyRequests:
			return connectErrorRateLimit
		}
	}
	var rateLimitErr *discordgo.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return connectErrorRateLimit
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "4004"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "401 unauthorized"),
		strings.Contains(msg, "improper token"):
		return connectErrorAuth
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "cloudflare"),
		strings.Contains(msg, "429"):
		return connectErrorRateLimit
	}
	return connectErrorOther
}

// connect opens the gateway connection, retrying until it succeeds, ctx
// is done, or authentication fails. Each cycle makes up to
// ConnectAttempts direct attempts. Rate limits back off through the
// RateLimiter, other errors wait ConnectRetryDelay.
func (d *Discord) connect(ctx context.Context) error {
	if err := validateToken(d.config.Token); err != nil {
		return err
	}

	for cycle := 1; ctx.Err() == nil; cycle++ {
		if wait, remaining := d.rateLimiter.CheckBackoff(); wait {
			d.logger.WarnContext(ctx, "waiting for rate limit backoff", "remaining", remaining)
			if err := d.sleep(ctx, remaining); err != nil {
				return err
			}
			continue
		}

		var lastErr error
		var rateLimited bool
		for attempt := 1; attempt <= d.config.ConnectAttempts; attempt++ {
			d.logger.InfoContext(ctx, "connecting to discord", "cycle", cycle, "attempt", attempt)
			err := d.session.Open()
			if err == nil {
				d.rateLimiter.Reset()
				return nil
			}
			lastErr = err

			switch classifyConnectError(err) {
			case connectErrorAuth:
				return fmt.Errorf("%w: %w", ErrAuthentication, err)
			case connectErrorRateLimit:
				rateLimited = true
			default:
				//
			}
			d.logger.ErrorContext(
				ctx,
				"error connecting to discord",
				tint.Err(err),
				"attempt", attempt,
				"rate_limited", rateLimited,
			)
			if rateLimited {
				break
			}
		}

		if rateLimited {
			backoff := d.rateLimiter.RecordFailure()
			if d.onRateLimited != nil {
				d.onRateLimited("gateway", backoff)
			}
			d.logger.WarnContext(
				ctx,
				"rate limited by discord, backing off",
				"backoff", backoff,
				"status", d.rateLimiter.Status(),
			)
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		d.logger.WarnContext(
			ctx,
			"unable to connect, retrying",
			tint.Err(lastErr),
			"delay", d.config.ConnectRetryDelay,
		)
		if err := d.sleep(ctx, d.config.ConnectRetryDelay); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Discord) BotUserID() string {
	d.userMu.RLock()
	defer d.userMu.RUnlock()
	return d.botUserID
}

func (d *Discord) setBotUserID(id string) {
	d.userMu.Lock()
	defer d.userMu.Unlock()
	d.botUserID = id
}

// Guilds returns the IDs of the guilds the bot is in, sorted
func (d *Discord) Guilds() []string {
	d.userMu.RLock()
	defer d.userMu.RUnlock()
	return sortedKeys(d.guildIDs)
}

func (d *Discord) addGuild(guildID string) {
	d.userMu.Lock()
	defer d.userMu.Unlock()
	d.guildIDs[guildID] = struct{}{}
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.setBotUserID(r.User.ID)
		}
		for _, g := range r.Guilds {
			d.addGuild(g.ID)
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
			slog.Group("user", "id", d.BotUserID()),
		)
	}
}

func (d *Discord) handlerGuildCreate() func(s *discordgo.Session, g *discordgo.GuildCreate) {
	return func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Guild == nil {
			return
		}
		d.addGuild(g.ID)
		d.logger.Info("joined guild", "guild_id", g.ID, "name", g.Name)
	}
}

func (d *Discord) handlerGuildDelete() func(s *discordgo.Session, g *discordgo.GuildDelete) {
	return func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Guild == nil || g.Unavailable {
			return
		}
		d.userMu.Lock()
		delete(d.guildIDs, g.ID)
		d.userMu.Unlock()
		d.logger.Info("removed from guild", "guild_id", g.ID)
	}
}

func (d *Discord) handlerRateLimit() func(s *discordgo.Session, r *discordgo.RateLimit) {
	return func(_ *discordgo.Session, r *discordgo.RateLimit) {
		if r.TooManyRequests == nil {
			return
		}
		d.logger.Warn(
			"rate limited",
			"url", r.URL,
			"retry_after", r.RetryAfter,
		)
		if d.onRateLimited != nil {
			d.onRateLimited("rest", r.RetryAfter)
		}
	}
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, c *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected", "connects", d.metricConnects.Load())
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, c *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Warn("disconnected", "disconnects", d.metricDisconnects.Load())
	}
}

// isAdmin reports whether the member has one of the admin roles
func (d *Discord) isAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if slices.Contains(d.config.AdminRoleIDs, roleID) {
			return true
		}
	}
	return false
}

// sendDM sends a direct message. Failures are logged and returned.
func (d *Discord) sendDM(ctx context.Context, userID string, content string, embed *discordgo.MessageEmbed) error {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		d.logger.WarnContext(ctx, "unable to open DM channel", "user_id", userID, tint.Err(err))
		return err
	}
	msg := &discordgo.MessageSend{Content: content}
	if embed != nil {
		msg.Embeds = []*discordgo.MessageEmbed{embed}
	}
	if _, err = d.session.ChannelMessageSendComplex(ch.ID, msg); err != nil {
		d.logger.WarnContext(ctx, "unable to send DM", "user_id", userID, tint.Err(err))
	}
	return err
}

// reply sends content to the channel as a reply to m, split into
// chunks under Discord's message length limit.
func (d *Discord) reply(ctx context.Context, m *discordgo.Message, content string) {
	for i, chunk := range splitMessage(content, discordMaxMessageLength) {
		msg := &discordgo.MessageSend{Content: chunk}
		if i == 0 && m.ID != "" {
			msg.Reference = m.Reference()
			msg.AllowedMentions = &discordgo.MessageAllowedMentions{RepliedUser: false}
		}
		if _, err := d.session.ChannelMessageSendComplex(m.ChannelID, msg); err != nil {
			d.logger.ErrorContext(ctx, "error sending reply", tint.Err(err), "channel_id", m.ChannelID)
			return
		}
	}
}

func (d *Discord) sendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		d.logger.ErrorContext(ctx, "error sending embed", tint.Err(err), "channel_id", channelID)
	}
	return err
}

// guild returns the guild from state, falling back to the API
func (d *Discord) guild(guildID string) (*discordgo.Guild, error) {
	if g, err := d.session.StateGuild(guildID); err == nil && g != nil {
		return g, nil
	}
	return d.session.Guild(guildID)
}

// channel returns the channel from state, falling back to the API
func (d *Discord) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := d.session.StateChannel(channelID); err == nil && ch != nil {
		return ch, nil
	}
	return d.session.Channel(channelID)
}

// member returns the guild member from state, falling back to the API
func (d *Discord) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := d.session.StateMember(guildID, userID); err == nil && m != nil {
		return m, nil
	}
	return d.session.GuildMember(guildID, userID)
}

// DiscordSessionHandler defines the methods of discordgo.Session used by
// the bot, so they can be mocked in tests.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	AddHandler(handler any) func()

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error

	ChannelMessages(
		channelID string,
		limit int,
		beforeID, afterID, aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	ChannelMessagesBulkDelete(
		channelID string,
		messages []string,
		options ...discordgo.RequestOption,
	) error

	// UserChannelCreate opens a DM channel with the user
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMembers(
		guildID string,
		after string,
		limit int,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Member, error)
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
	GuildMemberMute(guildID, userID string, mute bool, options ...discordgo.RequestOption) error

	// GuildMemberMove moves a member to a voice channel. A nil channel
	// disconnects them.
	GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error

	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error

	ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)

	UpdateCustomStatus(status string) error
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// StateGuild returns the guild from the session state cache
	StateGuild(guildID string) (*discordgo.Guild, error)

	// StateChannel returns a channel from the session state cache
	StateChannel(channelID string) (*discordgo.Channel, error)

	// StateMember returns a member from the session state cache
	StateMember(guildID, userID string) (*discordgo.Member, error)

	// StateVoiceState returns a member's voice state from the cache
	StateVoiceState(guildID, userID string) (*discordgo.VoiceState, error)

	// StatePresence returns a member's presence from the cache
	StatePresence(guildID, userID string) (*discordgo.Presence, error)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID, messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, afterID, aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (d DiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessagesBulkDelete(channelID, messages, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, options...)
}

func (d DiscordSession) GuildRoles(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	return d.session.GuildRoles(guildID, options...)
}

func (d DiscordSession) GuildMember(
	guildID, userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) GuildMembers(
	guildID string,
	after string,
	limit int,
	options ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	return d.session.GuildMembers(guildID, after, limit, options...)
}

func (d DiscordSession) GuildMemberNickname(
	guildID, userID, nickname string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.GuildMemberNickname(guildID, userID, nickname, options...)
	if err != nil {
		d.logger.Warn("error updating nickname", tint.Err(err), "user_id", userID)
	}
	return err
}

func (d DiscordSession) GuildMemberMute(
	guildID, userID string,
	mute bool,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberMute(guildID, userID, mute, options...)
}

func (d DiscordSession) GuildMemberMove(
	guildID, userID string,
	channelID *string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberMove(guildID, userID, channelID, options...)
}

func (d DiscordSession) MessageReactionAdd(
	channelID, messageID, emojiID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.MessageReactionAdd(channelID, messageID, emojiID, options...)
}

func (d DiscordSession) ChannelVoiceJoin(
	guildID, channelID string,
	mute, deaf bool,
) (*discordgo.VoiceConnection, error) {
	return d.session.ChannelVoiceJoin(guildID, channelID, mute, deaf)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

func (d DiscordSession) StateGuild(guildID string) (*discordgo.Guild, error) {
	return d.session.State.Guild(guildID)
}

func (d DiscordSession) StateChannel(channelID string) (*discordgo.Channel, error) {
	return d.session.State.Channel(channelID)
}

func (d DiscordSession) StateMember(guildID, userID string) (*discordgo.Member, error) {
	return d.session.State.Member(guildID, userID)
}

func (d DiscordSession) StateVoiceState(guildID, userID string) (*discordgo.VoiceState, error) {
	return d.session.State.VoiceState(guildID, userID)
}

func (d DiscordSession) StatePresence(guildID, userID string) (*discordgo.Presence, error) {
	return d.session.State.Presence(guildID, userID)
}
