package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"
)

type sentMessage struct {
	ChannelID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Reference *discordgo.MessageReference
}

// mockDiscordSession implements DiscordSessionHandler with in-memory
// guild state, recording what the bot sends.
type mockDiscordSession struct {
	mu sync.Mutex

	Calls      []string
	LastStatus string
	Sent       []sentMessage
	Deleted    []string
	Mutes      map[string]bool
	Moved      []string
	Nicknames  map[string]string
	Reactions  []string

	// openErrs are returned by successive calls to Open
	openErrs []error
	sendErr  error

	guilds      map[string]*discordgo.Guild
	channels    map[string]*discordgo.Channel
	members     map[string]*discordgo.Member
	voiceStates map[string]*discordgo.VoiceState
	history     map[string][]*discordgo.Message
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{
		Mutes:       map[string]bool{},
		Nicknames:   map[string]string{},
		guilds:      map[string]*discordgo.Guild{},
		channels:    map[string]*discordgo.Channel{},
		members:     map[string]*discordgo.Member{},
		voiceStates: map[string]*discordgo.VoiceState{},
		history:     map[string][]*discordgo.Message{},
	}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func (m *mockDiscordSession) call(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, name)
}

func (m *mockDiscordSession) addGuild(g *discordgo.Guild) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[g.ID] = g
	for _, ch := range g.Channels {
		ch.GuildID = g.ID
		m.channels[ch.ID] = ch
	}
	for _, member := range g.Members {
		member.GuildID = g.ID
		m.members[memberKey(g.ID, member.User.ID)] = member
	}
}

func (m *mockDiscordSession) addMember(guildID string, member *discordgo.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member.GuildID = guildID
	m.members[memberKey(guildID, member.User.ID)] = member
	if g := m.guilds[guildID]; g != nil {
		g.Members = append(g.Members, member)
	}
}

func (m *mockDiscordSession) setVoiceState(guildID, userID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := &discordgo.VoiceState{GuildID: guildID, UserID: userID, ChannelID: channelID}
	m.voiceStates[memberKey(guildID, userID)] = vs
	if g := m.guilds[guildID]; g != nil {
		g.VoiceStates = append(g.VoiceStates, vs)
	}
}

// addHistory adds messages to a channel, newest first
func (m *mockDiscordSession) addHistory(channelID string, msgs ...*discordgo.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[channelID] = append(m.history[channelID], msgs...)
}

func (m *mockDiscordSession) sentTo(channelID string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sent []sentMessage
	for _, s := range m.Sent {
		if s.ChannelID == channelID {
			sent = append(sent, s)
		}
	}
	return sent
}

func (m *mockDiscordSession) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func (m *mockDiscordSession) lastSent(t testing.TB) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.Sent, "no messages sent")
	return m.Sent[len(m.Sent)-1]
}

func (m *mockDiscordSession) record(s sentMessage) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.Sent = append(m.Sent, s)
	return &discordgo.Message{
		ID:        fmt.Sprintf("sent-%d", len(m.Sent)),
		ChannelID: s.ChannelID,
		Content:   s.Content,
	}, nil
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "Open")
	if len(m.openErrs) == 0 {
		return nil
	}
	err := m.openErrs[0]
	m.openErrs = m.openErrs[1:]
	return err
}

func (m *mockDiscordSession) Close() error {
	m.call("Close")
	return nil
}

func (m *mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.record(sentMessage{ChannelID: channelID, Content: content})
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.record(sentMessage{ChannelID: channelID, Embeds: []*discordgo.MessageEmbed{embed}})
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return m.record(
		sentMessage{
			ChannelID: channelID,
			Content:   data.Content,
			Embeds:    data.Embeds,
			Reference: data.Reference,
		},
	)
}

func (m *mockDiscordSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, messageID)
	msgs := m.history[channelID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			m.history[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, _, _ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[channelID]
	start := 0
	if beforeID != "" {
		start = len(msgs)
		for i, msg := range msgs {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(msgs))
	return append([]*discordgo.Message(nil), msgs[start:end]...), nil
}

func (m *mockDiscordSession) ChannelMessagesBulkDelete(
	_ string,
	messages []string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, messages...)
	return nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *mockDiscordSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return m.StateChannel(channelID)
}

func (m *mockDiscordSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return m.StateGuild(guildID)
}

func (m *mockDiscordSession) GuildChannels(
	guildID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	g, err := m.StateGuild(guildID)
	if err != nil {
		return nil, err
	}
	return g.Channels, nil
}

func (m *mockDiscordSession) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	g, err := m.StateGuild(guildID)
	if err != nil {
		return nil, err
	}
	return g.Roles, nil
}

func (m *mockDiscordSession) GuildMember(
	guildID, userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return m.StateMember(guildID, userID)
}

func (m *mockDiscordSession) GuildMembers(
	guildID string,
	after string,
	limit int,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []*discordgo.Member
	for _, member := range m.members {
		if member.GuildID == guildID && member.User.ID > after {
			members = append(members, member)
		}
	}
	sort.Slice(
		members, func(i, j int) bool {
			return members[i].User.ID < members[j].User.ID
		},
	)
	if len(members) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (m *mockDiscordSession) GuildMemberNickname(
	guildID, userID, nickname string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Nicknames[userID] = nickname
	if member := m.members[memberKey(guildID, userID)]; member != nil {
		member.Nick = nickname
	}
	return nil
}

func (m *mockDiscordSession) GuildMemberMute(_, userID string, mute bool, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mutes[userID] = mute
	return nil
}

func (m *mockDiscordSession) GuildMemberMove(
	_, userID string,
	channelID *string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channelID == nil {
		m.Moved = append(m.Moved, userID)
	}
	return nil
}

func (m *mockDiscordSession) MessageReactionAdd(_, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reactions = append(m.Reactions, messageID+":"+emojiID)
	return nil
}

func (m *mockDiscordSession) ChannelVoiceJoin(_, _ string, _, _ bool) (*discordgo.VoiceConnection, error) {
	return nil, errors.New("voice connections aren't supported in tests")
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "UpdateCustomStatus")
	m.LastStatus = status
	return nil
}

func (m *mockDiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "UpdateStatusComplex")
	m.LastStatus = data.Status
	return nil
}

func (m *mockDiscordSession) StateGuild(guildID string) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guilds[guildID]; ok {
		return g, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) StateChannel(channelID string) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) StateMember(guildID, userID string) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[memberKey(guildID, userID)]; ok {
		return member, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) StateVoiceState(guildID, userID string) (*discordgo.VoiceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vs, ok := m.voiceStates[memberKey(guildID, userID)]; ok {
		return vs, nil
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) StatePresence(guildID, userID string) (*discordgo.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.guilds[guildID]; ok {
		for _, p := range g.Presences {
			if p.User != nil && p.User.ID == userID {
				return p, nil
			}
		}
	}
	return nil, discordgo.ErrStateNotFound
}

func (m *mockDiscordSession) SetLogLevel(slog.Level) error {
	return nil
}

// newTestDiscord returns a Discord backed by a mock session, with
// sleeps recorded instead of waited on
func newTestDiscord(t testing.TB) (*Discord, *mockDiscordSession, *[]time.Duration) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	session := newMockDiscordSession()
	d := newDiscord(
		cfg.Discord,
		NewRateLimiter(cfg.Discord.BackoffInitial, cfg.Discord.BackoffMax, slog.Default()),
		slog.Default(),
	)
	d.session = session
	d.setBotUserID(testBotUserID)

	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, dur)
		return ctx.Err()
	}
	return d, session, sleeps
}

func TestValidateToken(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateToken(testDiscordToken))
	assert.ErrorIs(t, validateToken(""), ErrInvalidToken)
	assert.ErrorIs(t, validateToken("short.token"), ErrInvalidToken)
	assert.ErrorIs(t, validateToken("abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz0123"), ErrInvalidToken)
}

func TestClassifyConnectError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected connectErrorKind
	}{
		{"nil", nil, connectErrorOther},
		{"generic", errors.New("connection reset by peer"), connectErrorOther},
		{"auth close code", errors.New("websocket: close 4004: Authentication failed."), connectErrorAuth},
		{
			"rest unauthorized",
			&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}},
			connectErrorAuth,
		},
		{
			"rest too many requests",
			&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}},
			connectErrorRateLimit,
		},
		{"rate limit text", errors.New("HTTP 429 Too Many Requests"), connectErrorRateLimit},
		{"cloudflare", errors.New("blocked by Cloudflare"), connectErrorRateLimit},
		{
			"wrapped rate limit",
			fmt.Errorf("open: %w", &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{}}),
			connectErrorRateLimit,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, classifyConnectError(tc.err))
			},
		)
	}
}

func TestDiscord_Connect(t *testing.T) {
	t.Parallel()
	d, session, sleeps := newTestDiscord(t)

	require.NoError(t, d.connect(context.Background()))
	assert.Equal(t, []string{"Open"}, session.Calls)
	assert.Empty(t, *sleeps)
}

func TestDiscord_Connect_AuthFailure(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)
	session.openErrs = []error{errors.New("websocket: close 4004: Authentication failed.")}

	err := d.connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Len(t, session.Calls, 1)
}

func TestDiscord_Connect_InvalidToken(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)
	d.config.Token = "nope"

	assert.ErrorIs(t, d.connect(context.Background()), ErrInvalidToken)
	assert.Empty(t, session.Calls)
}

func TestDiscord_Connect_RetriesOtherErrors(t *testing.T) {
	t.Parallel()
	d, session, sleeps := newTestDiscord(t)
	d.config.ConnectAttempts = 2
	session.openErrs = []error{
		errors.New("dial tcp: i/o timeout"),
		errors.New("dial tcp: i/o timeout"),
	}

	require.NoError(t, d.connect(context.Background()))
	assert.Len(t, session.Calls, 3)
	assert.Equal(t, []time.Duration{d.config.ConnectRetryDelay}, *sleeps)
}

func TestDiscord_Connect_RateLimitBackoff(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	d.rateLimiter.now = clock.Now
	d.rateLimiter.jitter = func() float64 { return 0.1 }

	var sleeps []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		clock.Advance(dur)
		return nil
	}
	var events []string
	d.onRateLimited = func(source string, backoff time.Duration) {
		events = append(events, fmt.Sprintf("%s:%s", source, backoff))
	}
	session.openErrs = []error{errors.New("429 Too Many Requests")}

	require.NoError(t, d.connect(context.Background()))
	assert.Equal(t, []time.Duration{132 * time.Second}, sleeps)
	assert.Equal(t, []string{"gateway:2m12s"}, events)
	assert.Equal(t, RateLimiterStateNormal, d.rateLimiter.Status().State)
}

func TestDiscord_Connect_Cancelled(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)
	session.openErrs = []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}
	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	assert.ErrorIs(t, d.connect(ctx), context.Canceled)
}

func TestDiscord_IsAdmin(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDiscord(t)

	assert.False(t, d.isAdmin(nil))
	assert.False(t, d.isAdmin(&discordgo.Member{Roles: []string{testMemberRoleID}}))
	assert.True(t, d.isAdmin(&discordgo.Member{Roles: []string{testMemberRoleID, testAdminRoleID}}))
}

func TestDiscord_Handlers(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDiscord(t)

	d.handlerReady()(
		nil, &discordgo.Ready{
			User:   &discordgo.User{ID: "bot-2"},
			Guilds: []*discordgo.Guild{{ID: "g2"}, {ID: "g1"}},
		},
	)
	assert.Equal(t, "bot-2", d.BotUserID())
	assert.Equal(t, []string{"g1", "g2"}, d.Guilds())

	d.handlerGuildCreate()(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g3"}})
	d.handlerGuildDelete()(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})
	d.handlerGuildDelete()(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g2", Unavailable: true}})
	assert.Equal(t, []string{"g2", "g3"}, d.Guilds())

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.connected.Load())
	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())

	var events []time.Duration
	d.onRateLimited = func(_ string, backoff time.Duration) {
		events = append(events, backoff)
	}
	d.handlerRateLimit()(
		nil, &discordgo.RateLimit{
			TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 3 * time.Second},
			URL:             "https://discord.com/api/v9/channels",
		},
	)
	d.handlerRateLimit()(nil, &discordgo.RateLimit{})
	assert.Equal(t, []time.Duration{3 * time.Second}, events)
}

func TestDiscord_Reply(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)
	msg := &discordgo.Message{ID: "m1", ChannelID: testTextChannelID, GuildID: testGuildID}

	long := ""
	for len(long) < 2500 {
		long += "kumain ka na ba?\n"
	}
	d.reply(context.Background(), msg, long)

	sent := session.sentTo(testTextChannelID)
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].Reference)
	assert.Equal(t, "m1", sent[0].Reference.MessageID)
	assert.Nil(t, sent[1].Reference)
}

func TestDiscord_SendDM(t *testing.T) {
	t.Parallel()
	d, session, _ := newTestDiscord(t)

	require.NoError(t, d.sendDM(context.Background(), testUserID, "hello", unmutedEmbed()))
	sent := session.lastSent(t)
	assert.Equal(t, "dm-"+testUserID, sent.ChannelID)
	assert.Equal(t, "hello", sent.Content)
	assert.Len(t, sent.Embeds, 1)
}
