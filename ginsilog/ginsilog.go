package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Bot is the Ginsilog Discord bot. Create it with New, then call Run.
type Bot struct {
	config *Config

	// Read connection. Writes go through writeDB.
	db *gorm.DB

	// gorm.DB wrapper for writes. With SQLite, writes are serialized.
	writeDB DBI

	// Tells other instances sharing the database to reload state
	dbNotifier DBNotifier

	logger     *slog.Logger
	logHandler slog.Handler

	discord     *Discord
	rateLimiter *RateLimiter
	status      *StatusMonitor
	health      *HealthServer

	store         *Store
	settings      *dbSettings
	economy       *Economy
	blackjack     *Blackjack
	conversations *ConversationManager
	ai            *AI
	voice         *VoiceController
	nicknames     *NicknameFormatter
	moderator     *Moderator
	greeter       *Greeter

	// commands maps each command name and alias to its handler
	commands map[string]*command

	// runtime-configurable state, persisted in the database
	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex
	maintenance   atomic.Bool

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// tracks goroutines started by Run, and by message handlers
	runtimeWG *sync.WaitGroup

	// a value is sent when Run finishes starting up
	signalReady chan struct{}

	triggerRuntimeConfigRefreshCh chan bool
	triggerSettingsRefreshCh      chan bool
}

// New creates a Bot from the given config. Errors for each invalid
// component are joined together.
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:                        config,
		runtimeWG:                     &sync.WaitGroup{},
		signalReady:                   make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerSettingsRefreshCh:      make(chan bool, 1),
		runtimeConfig:                 &RuntimeConfig{},
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	discordLogger := newComponentLogger("discord", config.Discord.LogLevel)
	b.rateLimiter = NewRateLimiter(
		config.Discord.BackoffInitial,
		config.Discord.BackoffMax,
		discordLogger.With(loggerNameKey, "rate_limiter"),
	)
	b.discord = newDiscord(config.Discord, b.rateLimiter, discordLogger)
	b.status = newStatusMonitor(time.Now)
	b.discord.onRateLimited = b.status.RecordRateLimit

	if config.Health.Enabled {
		b.health = newHealthServer(
			config.Health,
			b,
			newComponentLogger("health", config.Health.LogLevel),
		)
	}

	b.commands = b.commandTable()
	return b, errors.Join(errs...)
}

// ValidateConfig checks the config's `binding` tags
func (b *Bot) ValidateConfig() error {
	if err := structValidator.Struct(b.config); err != nil {
		return err
	}
	return nil
}

// Run starts the bot and blocks until ctx is cancelled, then shuts
// down. It returns an error if startup fails, or if Discord rejects
// the bot's token.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	logger := b.logger
	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if b.health != nil {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			if err := b.health.Serve(ctx); err != nil {
				logger.ErrorContext(ctx, "error serving health server", tint.Err(err))
			}
		}()
	}

	if err := b.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return b.shutdown(ctx, err)
	}
	if err := b.discord.connect(ctx); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		return b.shutdown(ctx, err)
	}
	b.updatePresence(ctx, b.RuntimeConfig())

	b.startRuntimeConfigRefresher(ctx)
	b.startSettingsRefresher(ctx)
	b.startListeners(ctx)
	b.startBackgroundTasks(ctx)

	select {
	case b.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready")

	<-ctx.Done()
	return b.shutdown(ctx, nil)
}

// initRun opens the database, loads runtime state and settings, and
// creates the components that depend on them.
func (b *Bot) initRun(ctx context.Context) error {
	if err := b.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	state, err := loadRuntimeConfig(ctx, b.writeDB, b.config)
	if err != nil {
		return err
	}
	b.cfgMu.Lock()
	b.runtimeConfig = &state
	b.cfgMu.Unlock()
	b.maintenance.Store(state.Maintenance)
	b.setRuntimeLevels(state)

	notifier, err := newDBNotifier(
		b.config.DatabaseType,
		b.config.Database,
		b.writeDB,
		newComponentLogger("database", b.config.DatabaseLogLevel),
		map[string]chan bool{
			postgresNotifyChannelRuntimeConfigUpdated: b.triggerRuntimeConfigRefreshCh,
			postgresNotifyChannelSettingsUpdated:      b.triggerSettingsRefreshCh,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	b.dbNotifier = notifier

	settings, err := newDBSettings(
		ctx,
		b.writeDB,
		b.config.Nickname.RoleSuffixes,
		DefaultBannedWords,
		b.logger.With(loggerNameKey, "settings"),
	)
	if err != nil {
		return fmt.Errorf("error loading settings: %w", err)
	}
	settings.notifier = notifier
	b.settings = settings

	return b.initComponents()
}

func (b *Bot) initDB(ctx context.Context) error {
	if b.db == nil {
		db, err := CreateDB(
			ctx,
			b.config.DatabaseType,
			b.config.Database,
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.DatabaseLogLevel,
					AddSource: true,
				},
			),
			b.config.DatabaseSlowThreshold,
		)
		if err != nil {
			return err
		}
		b.db = db
	}
	if b.writeDB == nil {
		b.writeDB = NewDatabase(
			b.db,
			newComponentLogger("database", b.config.DatabaseLogLevel),
			b.config.DatabaseType == dbTypePostgres,
		)
	}
	return nil
}

// initComponents creates the economy, AI, voice and moderation
// components. Components already set (as in tests) are kept.
func (b *Bot) initComponents() error {
	cfg := b.config
	aiLogger := newComponentLogger("ai", cfg.AI.LogLevel)
	voiceLogger := newComponentLogger("voice", cfg.Voice.LogLevel)

	if b.store == nil {
		b.store = NewStore(b.writeDB, cfg.Economy.StartingBalance, b.logger.With(loggerNameKey, "users"))
	}
	if b.economy == nil {
		b.economy = newEconomy(b.writeDB, cfg.Economy, b.logger.With(loggerNameKey, "economy"))
	}
	if b.blackjack == nil {
		b.blackjack = newBlackjack(b.economy, b.writeDB, b.logger.With(loggerNameKey, "blackjack"))
	}
	if b.conversations == nil {
		b.conversations = newConversationManager(b.writeDB, cfg.AI.ContextMessages, aiLogger)
	}

	openaiClient := newOpenAIClient(cfg.AI, cfg.HTTPClient)
	if b.ai == nil {
		b.ai = newAI(cfg.AI, openaiClient, b.conversations, aiLogger)
	}
	if b.voice == nil && cfg.Voice.Enabled {
		synth, err := newSynthesizer(cfg.Voice, openaiClient, cfg.HTTPClient, voiceLogger)
		if err != nil {
			return fmt.Errorf("error creating speech synthesizer: %w", err)
		}
		b.voice = newVoiceController(
			b.discord,
			cfg.Voice,
			b.store,
			b.ai,
			synth,
			newTranscriber(openaiClient, cfg.AI, cfg.Voice.MinUtterance, voiceLogger),
			voiceLogger,
		)
	}
	if b.nicknames == nil {
		b.nicknames = newNicknameFormatter(b.discord, b.settings, b.logger.With(loggerNameKey, "nickname"))
	}
	if b.moderator == nil {
		b.moderator = newModerator(
			b.discord,
			b.settings,
			cfg.Moderation,
			cfg.Discord.AnnouncementsChannelID,
			b.logger.With(loggerNameKey, "moderation"),
		)
	}
	if b.greeter == nil {
		greeter, err := newGreeter(
			b.discord,
			cfg.Greetings,
			cfg.Discord.GreetingsChannelID,
			b,
			b.logger.With(loggerNameKey, "greetings"),
		)
		if err != nil {
			return err
		}
		b.greeter = greeter
	}
	return nil
}

// initDiscordSession creates the discord session if needed, and adds
// the bot's handlers. Each message is handled in its own goroutine.
func (b *Bot) initDiscordSession(ctx context.Context) error {
	if b.discord.session == nil {
		session, err := b.discord.newSession(b.config.HTTPClient)
		if err != nil {
			return err
		}
		b.discord.session = session
	}

	for _, remove := range b.discord.discordgoRemoveHandlerFuncs {
		remove()
	}

	session := b.discord.session
	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerGuildCreate()),
		session.AddHandler(b.discord.handlerGuildDelete()),
		session.AddHandler(b.discord.handlerRateLimit()),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				b.runtimeWG.Add(1)
				go func() {
					defer b.runtimeWG.Done()
					b.handleMessage(ctx, m.Message)
				}()
			},
		),
	}
	if b.config.Nickname.Enabled {
		b.discord.discordgoRemoveHandlerFuncs = append(
			b.discord.discordgoRemoveHandlerFuncs,
			session.AddHandler(b.nicknames.handlerGuildMemberAdd()),
			session.AddHandler(b.nicknames.handlerGuildMemberUpdate()),
		)
	}
	return nil
}

// startSettingsRefresher reloads role suffixes and banned words every
// RuntimeConfigTTL, and whenever a refresh is triggered
func (b *Bot) startSettingsRefresher(ctx context.Context) {
	if ttl := b.config.RuntimeConfigTTL; ttl > 0 {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case b.triggerSettingsRefreshCh <- false:
					case <-time.After(5 * time.Second):
						b.logger.Warn("timed out sending settings refresh signal")
					}
				}
			}
		}()
	}

	b.runtimeWG.Add(1)
	go func() {
		defer b.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.triggerSettingsRefreshCh:
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := b.settings.Reload(refreshCtx); err != nil {
					b.logger.ErrorContext(ctx, "error refreshing settings", tint.Err(err))
				}
				cancel()
			}
		}
	}()
}

// startListeners listens for reload notifications from other
// instances
func (b *Bot) startListeners(ctx context.Context) {
	for _, channel := range []string{
		b.dbNotifier.RuntimeConfigChannelName(),
		b.dbNotifier.SettingsChannelName(),
	} {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			if err := b.dbNotifier.Listen(ctx, channel); err != nil {
				b.logger.ErrorContext(ctx, "error listening for notifications", "channel", channel, tint.Err(err))
			}
		}()
	}
}

// startBackgroundTasks starts the nickname scanner, voice monitor and
// greeting scheduler
func (b *Bot) startBackgroundTasks(ctx context.Context) {
	if b.config.Nickname.Enabled && b.config.Nickname.ScanInterval > 0 {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			b.runNicknameScanner(ctx)
		}()
	}
	if b.voice != nil && b.config.Voice.MonitorInterval > 0 {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			b.voice.Run(ctx)
		}()
	}
	if b.config.Greetings.Enabled && b.config.Greetings.CheckInterval > 0 {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			b.greeter.Run(ctx)
		}()
	}
}

// runNicknameScanner formats every member's nickname in every guild,
// every ScanInterval
func (b *Bot) runNicknameScanner(ctx context.Context) {
	ticker := time.NewTicker(b.config.Nickname.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.scanNicknames(ctx)
		}
	}
}

func (b *Bot) scanNicknames(ctx context.Context) {
	defer func() {
		if rc := recover(); rc != nil {
			logRecover(ctx, b.logger, rc)
		}
	}()
	for _, guildID := range b.discord.Guilds() {
		changed, err := b.nicknames.ScanGuild(ctx, guildID)
		if err != nil {
			b.logger.WarnContext(ctx, "errors formatting nicknames", "guild_id", guildID, tint.Err(err))
		}
		if changed > 0 {
			b.logger.InfoContext(ctx, "formatted nicknames", "guild_id", guildID, "changed", changed)
		}
	}
}

// shutdown leaves voice channels, stops the health server and closes
// the discord session, waiting up to ShutdownTimeout for background
// tasks to finish. runErr is returned along with any shutdown errors.
func (b *Bot) shutdown(ctx context.Context, runErr error) error {
	b.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
	defer closeCancel()

	errs := []error{runErr}
	if b.voice != nil {
		if err := b.voice.Close(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error closing voice: %w", err))
		}
	}
	if b.health != nil {
		if err := b.health.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down health server: %w", err))
		}
	}

	for _, remove := range b.discord.discordgoRemoveHandlerFuncs {
		remove()
	}
	b.discord.discordgoRemoveHandlerFuncs = nil
	if b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		b.runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.InfoContext(ctx, "background tasks stopped", "elapsed", time.Since(shutdownStart))
	case <-closeCtx.Done():
		b.logger.ErrorContext(ctx, "timed out waiting for background tasks")
		errs = append(errs, errors.New("background tasks did not stop in time"))
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", err))
			}
		}
	}
	b.logger.WarnContext(ctx, "shutdown complete", "elapsed", time.Since(shutdownStart))
	return errors.Join(errs...)
}
