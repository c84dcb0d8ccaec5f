package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrListenerBusy  = errors.New("someone else is already talking to the bot")
	ErrNotConnected  = errors.New("not connected to a voice channel")
	ErrNotInVoice    = errors.New("you need to be in a voice channel first")
	ErrVoiceDisabled = errors.New("voice features are disabled")
)

const (
	voiceCaptureTick = 100 * time.Millisecond
	// opus packets carry at most 120ms of audio
	voiceMaxFrameSamples = voiceFrameSamples * 6
)

type VoiceState int

const (
	VoiceStateDisconnected VoiceState = iota
	VoiceStateConnecting
	VoiceStateIdle
	VoiceStateListening
	VoiceStateSpeaking
)

func (s VoiceState) String() string {
	switch s {
	case VoiceStateConnecting:
		return "connecting"
	case VoiceStateIdle:
		return "idle"
	case VoiceStateListening:
		return "listening"
	case VoiceStateSpeaking:
		return "speaking"
	default:
		return "disconnected"
	}
}

// voiceLink is a guild voice connection
type voiceLink interface {
	Ready() bool
	ChannelID() string
	ChangeChannel(channelID string) error
	Speaking(speaking bool) error
	OpusSend() chan<- []byte
	OpusRecv() <-chan *discordgo.Packet
	OnSpeakingUpdate(f func(userID string, ssrc uint32))
	Disconnect() error
}

type voiceDialer func(guildID, channelID string) (voiceLink, error)

// discordVoiceLink implements voiceLink with a discordgo voice
// connection
type discordVoiceLink struct {
	vc *discordgo.VoiceConnection
}

func (d *discordVoiceLink) Ready() bool {
	d.vc.RLock()
	defer d.vc.RUnlock()
	return d.vc.Ready
}

func (d *discordVoiceLink) ChannelID() string {
	d.vc.RLock()
	defer d.vc.RUnlock()
	return d.vc.ChannelID
}

func (d *discordVoiceLink) ChangeChannel(channelID string) error {
	return d.vc.ChangeChannel(channelID, false, false)
}

func (d *discordVoiceLink) Speaking(speaking bool) error {
	return d.vc.Speaking(speaking)
}

func (d *discordVoiceLink) OpusSend() chan<- []byte {
	return d.vc.OpusSend
}

func (d *discordVoiceLink) OpusRecv() <-chan *discordgo.Packet {
	return d.vc.OpusRecv
}

func (d *discordVoiceLink) OnSpeakingUpdate(f func(userID string, ssrc uint32)) {
	d.vc.AddHandler(
		func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
			f(vs.UserID, uint32(vs.SSRC))
		},
	)
}

func (d *discordVoiceLink) Disconnect() error {
	return d.vc.Disconnect()
}

// chatResponder answers a prompt on behalf of a user
type chatResponder interface {
	Chat(ctx context.Context, channelID, userID, prompt string) (string, error)
}

type speechToText interface {
	Transcribe(ctx context.Context, pcm []int16) (string, error)
}

type voicePreferences interface {
	VoiceGender(ctx context.Context, userID string) VoiceGender
	SetVoiceGender(ctx context.Context, userID string, gender VoiceGender) error
}

// GuildVoiceSession is the bot's voice presence in one guild. At most
// one user is listened to at a time, and queued speech is played one
// item at a time, oldest first.
type GuildVoiceSession struct {
	guildID string
	queue   *SpeechQueue

	// ctx is cancelled when the session ends, stopping listening and
	// playback
	ctx    context.Context
	cancel context.CancelFunc

	// joinMu serializes connection attempts
	joinMu sync.Mutex

	mu             sync.Mutex
	link           voiceLink
	state          VoiceState
	priorState     VoiceState
	listenerUserID string
	replyChannelID string
	cancelListen   context.CancelFunc
	playing        bool
	ssrcUsers      map[uint32]string
}

func newGuildVoiceSession(ctx context.Context, guildID string, queueSize int) *GuildVoiceSession {
	ctx, cancel := context.WithCancel(ctx)
	return &GuildVoiceSession{
		guildID:   guildID,
		queue:     NewSpeechQueue(queueSize),
		ctx:       ctx,
		cancel:    cancel,
		state:     VoiceStateDisconnected,
		ssrcUsers: map[uint32]string{},
	}
}

func (s *GuildVoiceSession) State() VoiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *GuildVoiceSession) ListenerUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenerUserID
}

// setState moves to the given connected state. While speaking, the
// state to return to afterward is updated instead. Callers must hold mu.
func (s *GuildVoiceSession) setState(state VoiceState) {
	if s.state == VoiceStateSpeaking {
		s.priorState = state
		return
	}
	s.state = state
}

func (s *GuildVoiceSession) setSSRC(userID string, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssrcUsers[ssrc] = userID
}

func (s *GuildVoiceSession) userForSSRC(ssrc uint32) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrcUsers[ssrc]
}

// VoiceSnapshot describes a guild voice session for status reporting
type VoiceSnapshot struct {
	GuildID        string `json:"guild_id"`
	ChannelID      string `json:"channel_id,omitempty"`
	State          string `json:"state"`
	Ready          bool   `json:"ready"`
	ListenerUserID string `json:"listener_user_id,omitempty"`
	QueueLength    int    `json:"queue_length"`
	Playing        bool   `json:"playing"`
}

// VoiceController manages voice sessions across guilds: joining,
// listening, transcribing, replying, and speaking.
type VoiceController struct {
	discord     *Discord
	config      *VoiceConfig
	prefs       voicePreferences
	chat        chatResponder
	synth       Synthesizer
	transcriber speechToText
	logger      *slog.Logger

	dial       voiceDialer
	newEncoder func() (opusFrameEncoder, error)
	newDecoder func() (opusFrameDecoder, error)
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	sessions map[string]*GuildVoiceSession
	wg       sync.WaitGroup
}

func newVoiceController(
	discord *Discord,
	config *VoiceConfig,
	prefs voicePreferences,
	chat chatResponder,
	synth Synthesizer,
	transcriber speechToText,
	logger *slog.Logger,
) *VoiceController {
	c := &VoiceController{
		discord:     discord,
		config:      config,
		prefs:       prefs,
		chat:        chat,
		synth:       synth,
		transcriber: transcriber,
		logger:      logger,
		newEncoder:  newOpusEncoder,
		newDecoder:  newOpusDecoder,
		sleep:       sleepContext,
		now:         time.Now,
		ctx:         context.Background(),
		sessions:    map[string]*GuildVoiceSession{},
	}
	c.dial = c.dialDiscord
	return c
}

func (c *VoiceController) dialDiscord(guildID, channelID string) (voiceLink, error) {
	vc, err := c.discord.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		if vc != nil {
			_ = vc.Disconnect()
		}
		return nil, err
	}
	return &discordVoiceLink{vc: vc}, nil
}

// Session returns the guild's voice session, or nil
func (c *VoiceController) Session(guildID string) *GuildVoiceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[guildID]
}

func (c *VoiceController) allSessions() []*GuildVoiceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessions := make([]*GuildVoiceSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// UserVoiceChannel returns the voice channel the user is in, or
// ErrNotInVoice
func (c *VoiceController) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := c.discord.session.StateVoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

// Join connects to the voice channel, or moves there if already
// connected in the guild. Failed connections are retried with a
// growing delay.
func (c *VoiceController) Join(ctx context.Context, guildID, channelID string) (*GuildVoiceSession, error) {
	c.mu.Lock()
	sess, existed := c.sessions[guildID]
	if !existed {
		sess = newGuildVoiceSession(c.ctx, guildID, c.config.QueueSize)
		c.sessions[guildID] = sess
	}
	c.mu.Unlock()

	log := c.logger.With("guild_id", guildID, "channel_id", channelID)

	// sess.mu isn't held while connecting, so status reads and the
	// speech queue aren't blocked by the retry delays
	sess.joinMu.Lock()
	defer sess.joinMu.Unlock()

	sess.mu.Lock()
	current := sess.link
	sess.mu.Unlock()

	if current != nil && current.Ready() {
		if current.ChannelID() == channelID {
			return sess, nil
		}
		err := current.ChangeChannel(channelID)
		if err == nil {
			log.InfoContext(ctx, "moved voice channel")
			return sess, nil
		}
		log.WarnContext(ctx, "unable to move voice channel, reconnecting", tint.Err(err))
	}

	sess.mu.Lock()
	stale := sess.link
	sess.link = nil
	sess.state = VoiceStateConnecting
	sess.mu.Unlock()
	if stale != nil {
		_ = stale.Disconnect()
	}

	link, err := c.dialWithRetry(ctx, guildID, channelID)

	sess.mu.Lock()
	if err == nil && sess.ctx.Err() != nil {
		// left while connecting
		sess.mu.Unlock()
		_ = link.Disconnect()
		return nil, ErrNotConnected
	}
	if err != nil {
		sess.state = VoiceStateDisconnected
		sess.queue.Clear()
		sess.mu.Unlock()
		if !existed {
			sess.cancel()
			c.mu.Lock()
			if c.sessions[guildID] == sess {
				delete(c.sessions, guildID)
			}
			c.mu.Unlock()
		}
		return nil, err
	}
	defer sess.mu.Unlock()

	sess.link = link
	link.OnSpeakingUpdate(sess.setSSRC)
	sess.state = VoiceStateIdle
	if sess.listenerUserID != "" {
		sess.state = VoiceStateListening
		c.startListenLoop(sess)
	}
	switch {
	case sess.playing:
		sess.priorState = sess.state
		sess.state = VoiceStateSpeaking
	case sess.queue.Len() > 0:
		c.startDrainLocked(sess)
	}
	log.InfoContext(ctx, "joined voice channel")
	return sess, nil
}

func (c *VoiceController) dialWithRetry(ctx context.Context, guildID, channelID string) (voiceLink, error) {
	var errs []error
	for attempt := 0; attempt <= c.config.JoinRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
		}
		link, err := c.dial(guildID, channelID)
		if err == nil {
			return link, nil
		}
		errs = append(errs, err)
		c.logger.WarnContext(
			ctx,
			"error joining voice channel",
			tint.Err(err),
			"guild_id", guildID,
			"channel_id", channelID,
			"attempt", attempt+1,
		)
	}
	return nil, fmt.Errorf(
		"unable to join voice channel after %d attempts: %w",
		len(errs),
		errors.Join(errs...),
	)
}

// StartListening starts capturing the user's speech. Only one user per
// guild may be listened to; others get ErrListenerBusy until they stop.
// Replies are recorded against textChannelID's conversation.
func (c *VoiceController) StartListening(guildID, userID, textChannelID string) error {
	sess := c.Session(guildID)
	if sess == nil {
		return ErrNotConnected
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.link == nil {
		return ErrNotConnected
	}
	switch sess.listenerUserID {
	case "":
	case userID:
		sess.replyChannelID = textChannelID
		return nil
	default:
		return ErrListenerBusy
	}

	sess.listenerUserID = userID
	sess.replyChannelID = textChannelID
	sess.setState(VoiceStateListening)
	c.startListenLoop(sess)
	c.logger.Info("listening", "guild_id", guildID, "user_id", userID)
	return nil
}

// StopListening stops capturing speech in the guild
func (c *VoiceController) StopListening(guildID string) error {
	sess := c.Session(guildID)
	if sess == nil {
		return ErrNotConnected
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	c.stopListenLocked(sess)
	return nil
}

func (c *VoiceController) stopListenLocked(sess *GuildVoiceSession) {
	if sess.cancelListen != nil {
		sess.cancelListen()
		sess.cancelListen = nil
	}
	sess.listenerUserID = ""
	if sess.link != nil {
		sess.setState(VoiceStateIdle)
	}
}

// startListenLoop starts a goroutine reading the connection's audio.
// Callers must hold sess.mu.
func (c *VoiceController) startListenLoop(sess *GuildVoiceSession) {
	if sess.cancelListen != nil {
		sess.cancelListen()
	}
	ctx, cancel := context.WithCancel(sess.ctx)
	sess.cancelListen = cancel

	link := sess.link
	userID := sess.listenerUserID
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if rc := recover(); rc != nil {
				logRecover(ctx, c.logger, rc)
			}
		}()
		c.listen(ctx, sess, link, userID)
	}()
}

// listen decodes the listener's audio into utterances until ctx is
// done or the connection closes.
func (c *VoiceController) listen(ctx context.Context, sess *GuildVoiceSession, link voiceLink, userID string) {
	log := c.logger.With("guild_id", sess.guildID, "user_id", userID)
	log.DebugContext(ctx, "started listener")
	defer log.DebugContext(ctx, "stopped listener")

	decoders := map[uint32]opusFrameDecoder{}
	buffers := map[uint32]*UtteranceBuffer{}
	ticker := time.NewTicker(voiceCaptureTick)
	defer ticker.Stop()

	recv := link.OpusRecv()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, buf := range buffers {
				c.checkUtterance(ctx, sess, buf, userID)
			}
		case p, ok := <-recv:
			if !ok {
				return
			}
			if p == nil || len(p.Opus) == 0 || sess.userForSSRC(p.SSRC) != userID {
				continue
			}
			dec, found := decoders[p.SSRC]
			if !found {
				var err error
				if dec, err = c.newDecoder(); err != nil {
					log.ErrorContext(ctx, "unable to decode voice audio", tint.Err(err))
					return
				}
				decoders[p.SSRC] = dec
				buffers[p.SSRC] = NewUtteranceBuffer(c.config.SilenceThreshold, c.config.MinUtterance)
			}
			pcm := make([]int16, voiceMaxFrameSamples)
			n, err := dec.Decode(p.Opus, pcm)
			if err != nil {
				log.DebugContext(ctx, "error decoding opus packet", tint.Err(err))
				continue
			}
			frame := pcm[:n*voiceChannels]
			buf := buffers[p.SSRC]
			buf.Push(frame, rms(frame) >= c.config.ActivityRMS, c.now())
			c.checkUtterance(ctx, sess, buf, userID)
		}
	}
}

func (c *VoiceController) checkUtterance(
	ctx context.Context,
	sess *GuildVoiceSession,
	buf *UtteranceBuffer,
	userID string,
) {
	pcm, event := buf.Tick(c.now())
	switch event {
	case UtteranceFlushed:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer buf.Done()
			defer func() {
				if rc := recover(); rc != nil {
					logRecover(ctx, c.logger, rc)
				}
			}()
			c.handleUtterance(ctx, sess.guildID, userID, pcm)
		}()
	case UtteranceDropped, UtteranceDiscarded:
		c.logger.DebugContext(
			ctx,
			"utterance not transcribed",
			"guild_id", sess.guildID,
			"user_id", userID,
			"reason", event,
		)
	default:
		//
	}
}

func (c *VoiceController) handleUtterance(ctx context.Context, guildID, userID string, pcm []int16) {
	text, err := c.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		if errors.Is(err, ErrClipTooShort) || ctx.Err() != nil {
			return
		}
		c.logger.ErrorContext(ctx, "error transcribing speech", "guild_id", guildID, tint.Err(err))
		_ = c.Speak(guildID, sttErrorReply, userID)
		return
	}
	c.HandleTranscript(ctx, guildID, userID, text)
}

// HandleTranscript acts on recognized speech: stop phrases end the
// session, voice change requests update the user's voice, and anything
// else is answered aloud.
func (c *VoiceController) HandleTranscript(ctx context.Context, guildID, userID, text string) {
	if text == "" {
		return
	}
	log := c.logger.With("guild_id", guildID, "user_id", userID)

	if isStopPhrase(text) {
		log.InfoContext(ctx, "stop phrase heard, leaving", "text", text)
		if err := c.Leave(ctx, guildID); err != nil && !errors.Is(err, ErrNotConnected) {
			log.WarnContext(ctx, "error leaving voice channel", tint.Err(err))
		}
		return
	}

	if gender, ok := detectVoiceChange(text); ok {
		if err := c.prefs.SetVoiceGender(ctx, userID, gender); err != nil {
			log.ErrorContext(ctx, "error saving voice preference", tint.Err(err))
		}
		name := "female"
		if gender == VoiceGenderMale {
			name = "male"
		}
		_ = c.Speak(guildID, fmt.Sprintf("Voice changed to %s. This is how I sound now!", name), userID)
		return
	}

	var replyChannelID string
	if sess := c.Session(guildID); sess != nil {
		sess.mu.Lock()
		replyChannelID = sess.replyChannelID
		sess.mu.Unlock()
	}
	reply, err := c.chat.Chat(ctx, replyChannelID, userID, text)
	switch {
	case errors.Is(err, ErrChatRateLimited):
		reply = aiRateLimitedReply
	case err != nil:
		reply = aiErrorReply
	}
	if err = c.Speak(guildID, reply, userID); err != nil {
		log.WarnContext(ctx, "unable to speak reply", tint.Err(err))
	}
}

// Speak queues text to be spoken in the guild's voice channel, using
// the requesting user's voice preference. If the queue is full, the
// oldest item is dropped.
func (c *VoiceController) Speak(guildID, text, userID string) error {
	sess := c.Session(guildID)
	if sess == nil {
		return ErrNotConnected
	}
	if dropped, ok := sess.queue.Push(SpeechItem{Text: text, UserID: userID}); ok {
		c.logger.Warn(
			"speech queue full, dropped oldest item",
			"guild_id", guildID,
			"dropped_user_id", dropped.UserID,
		)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.link == nil {
		if sess.state == VoiceStateConnecting {
			// played once connected
			return nil
		}
		sess.queue.Clear()
		return ErrNotConnected
	}
	if sess.playing {
		return nil
	}
	c.startDrainLocked(sess)
	return nil
}

// startDrainLocked starts playing the session's queue. sess.mu must be
// held.
func (c *VoiceController) startDrainLocked(sess *GuildVoiceSession) {
	sess.playing = true
	sess.priorState = sess.state
	sess.state = VoiceStateSpeaking

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if rc := recover(); rc != nil {
				logRecover(sess.ctx, c.logger, rc)
				sess.mu.Lock()
				sess.playing = false
				sess.mu.Unlock()
			}
		}()
		c.drain(sess)
	}()
}

// drain plays queued speech until the queue is empty, then returns the
// session to the state it was in before speaking.
func (c *VoiceController) drain(sess *GuildVoiceSession) {
	for {
		item, ok := sess.queue.Pop()
		if !ok {
			sess.mu.Lock()
			if sess.queue.Len() > 0 {
				sess.mu.Unlock()
				continue
			}
			sess.playing = false
			if sess.state == VoiceStateSpeaking {
				sess.state = sess.priorState
			}
			sess.mu.Unlock()
			return
		}
		if sess.ctx.Err() != nil {
			continue
		}
		if err := c.play(sess.ctx, sess, item); err != nil && sess.ctx.Err() == nil {
			c.logger.Error(
				"error playing speech",
				"guild_id", sess.guildID,
				"user_id", item.UserID,
				tint.Err(err),
			)
		}
	}
}

func (c *VoiceController) play(ctx context.Context, sess *GuildVoiceSession, item SpeechItem) error {
	gender := VoiceGenderFemale
	if item.UserID != "" {
		gender = c.prefs.VoiceGender(ctx, item.UserID)
	}
	voice := selectVoice(detectLanguage(item.Text), gender)

	wav, err := c.synth.Synthesize(ctx, item.Text, voice)
	if err != nil {
		return err
	}
	samples, sampleRate, channels, err := decodeWAV(wav)
	if err != nil {
		return err
	}
	pcm, err := toVoicePCM(samples, sampleRate, channels)
	if err != nil {
		return err
	}
	enc, err := c.newEncoder()
	if err != nil {
		return err
	}
	frames, err := encodeOpusFrames(enc, pcm)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	link := sess.link
	sess.mu.Unlock()
	if link == nil || !link.Ready() {
		return ErrNotConnected
	}
	c.logger.DebugContext(
		ctx,
		"playing speech",
		"guild_id", sess.guildID,
		"voice", voice.Name,
		"frames", len(frames),
	)
	return sendFrames(ctx, link, frames)
}

func sendFrames(ctx context.Context, link voiceLink, frames [][]byte) error {
	if err := link.Speaking(true); err != nil {
		return fmt.Errorf("error setting speaking state: %w", err)
	}
	defer func() {
		_ = link.Speaking(false)
	}()
	send := link.OpusSend()
	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case send <- frame:
		}
	}
	return nil
}

// Leave disconnects from the guild's voice channel, stopping listening
// and discarding queued speech.
func (c *VoiceController) Leave(ctx context.Context, guildID string) error {
	c.mu.Lock()
	sess := c.sessions[guildID]
	delete(c.sessions, guildID)
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	sess.mu.Lock()
	sess.cancel()
	c.stopListenLocked(sess)
	sess.queue.Clear()
	sess.state = VoiceStateDisconnected
	link := sess.link
	sess.link = nil
	sess.mu.Unlock()

	c.logger.InfoContext(ctx, "left voice channel", "guild_id", guildID)
	if link == nil {
		return nil
	}
	return link.Disconnect()
}

// Run checks voice connections every MonitorInterval until ctx is done,
// then leaves every channel.
func (c *VoiceController) Run(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(c.config.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.monitor(ctx)
		}
	}
}

// monitor reconnects sessions whose connection dropped, to the first
// voice channel with people in it. Sessions with nowhere to go are
// dropped.
func (c *VoiceController) monitor(ctx context.Context) {
	defer func() {
		if rc := recover(); rc != nil {
			logRecover(ctx, c.logger, rc)
		}
	}()
	for _, sess := range c.allSessions() {
		sess.mu.Lock()
		link := sess.link
		state := sess.state
		sess.mu.Unlock()
		if state == VoiceStateConnecting || (link != nil && link.Ready()) {
			continue
		}

		log := c.logger.With("guild_id", sess.guildID)
		channelID, err := c.occupiedVoiceChannel(sess.guildID)
		if err != nil {
			log.WarnContext(ctx, "unable to find a voice channel", tint.Err(err))
			continue
		}
		if channelID == "" {
			log.InfoContext(ctx, "voice connection lost and no one is in voice, dropping session")
			_ = c.Leave(ctx, sess.guildID)
			continue
		}
		log.WarnContext(ctx, "voice connection lost, rejoining", "channel_id", channelID)
		if _, err = c.Join(ctx, sess.guildID, channelID); err != nil {
			log.ErrorContext(ctx, "unable to rejoin voice channel", tint.Err(err))
		}
	}
}

// occupiedVoiceChannel returns the highest voice channel in the guild
// with a non-bot member in it, or "" if there isn't one.
func (c *VoiceController) occupiedVoiceChannel(guildID string) (string, error) {
	guild, err := c.discord.guild(guildID)
	if err != nil {
		return "", err
	}
	botUserID := c.discord.BotUserID()

	occupied := map[string]bool{}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == "" || vs.UserID == botUserID {
			continue
		}
		member := vs.Member
		if member == nil {
			member, _ = c.discord.session.StateMember(guildID, vs.UserID)
		}
		if member != nil && member.User != nil && member.User.Bot {
			continue
		}
		occupied[vs.ChannelID] = true
	}
	if len(occupied) == 0 {
		return "", nil
	}

	channels := guild.Channels
	if len(channels) == 0 {
		if channels, err = c.discord.session.GuildChannels(guildID); err != nil {
			return "", err
		}
	}
	channels = append([]*discordgo.Channel(nil), channels...)
	sort.SliceStable(
		channels, func(i, j int) bool {
			return channels[i].Position < channels[j].Position
		},
	)
	for _, ch := range channels {
		isVoice := ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
		if isVoice && occupied[ch.ID] {
			return ch.ID, nil
		}
	}
	return "", nil
}

// Snapshot reports the state of every voice session
func (c *VoiceController) Snapshot() []VoiceSnapshot {
	sessions := c.allSessions()
	snapshots := make([]VoiceSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		snap := VoiceSnapshot{
			GuildID:        sess.guildID,
			State:          sess.state.String(),
			ListenerUserID: sess.listenerUserID,
			Playing:        sess.playing,
		}
		if sess.link != nil {
			snap.ChannelID = sess.link.ChannelID()
			snap.Ready = sess.link.Ready()
		}
		sess.mu.Unlock()
		snap.QueueLength = sess.queue.Len()
		snapshots = append(snapshots, snap)
	}
	sort.Slice(
		snapshots, func(i, j int) bool {
			return snapshots[i].GuildID < snapshots[j].GuildID
		},
	)
	return snapshots
}

// Close leaves every voice channel and waits for voice goroutines to
// finish, or for ctx to be done.
func (c *VoiceController) Close(ctx context.Context) error {
	var errs []error
	for _, sess := range c.allSessions() {
		if err := c.Leave(ctx, sess.guildID); err != nil && !errors.Is(err, ErrNotConnected) {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
