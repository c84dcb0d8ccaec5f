//nolint:lll // struct tags can't be split
package ginsilog

import (
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "GINSILOG_ENV_PREFIX"
	DefaultEnvPrefix      = "GB"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "ginsilog.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 60 * time.Second

	DefaultShutdownTimeout         = 30 * time.Second
	DefaultRuntimeConfigTTL        = 5 * time.Minute
	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordLogLevel         = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultAILogLevel              = slog.LevelInfo
	DefaultVoiceLogLevel           = slog.LevelInfo
	DefaultHealthLogLevel          = slog.LevelInfo
	DefaultDiscordGatewayIntent    = discordgo.IntentsAll
	DefaultCommandPrefix           = "g!"
	DefaultConnectAttempts         = 3
	DefaultConnectRetryDelay       = 5 * time.Second
	DefaultBackoffInitial          = 60 * time.Second
	DefaultBackoffMax              = 1800 * time.Second
	DefaultRulesChannelID          = "1345727358015115385"
	DefaultAnnouncementsChannelID  = "1345727358015115389"
	DefaultGreetingsChannelID      = "1345727358149328952"
	discordMaxMessageLength        = 2000
	discordMaxNicknameLength       = 32
	DefaultAIBaseURL               = "https://api.groq.com/openai/v1"
	DefaultAIModel                 = "deepseek-r1-distill-llama-70b"
	DefaultAIMaxTokens             = 4096
	DefaultAITemperature           = 0.6
	DefaultAIContextMessages       = 10
	DefaultAIChatRateLimit         = 5
	DefaultAIChatRateWindow        = 60 * time.Second
	DefaultAITimeout               = 60 * time.Second
	DefaultTranscriptionModel      = "whisper-large-v3"
	DefaultTranscriptionTimeout    = 30 * time.Second
	DefaultSpeechProvider          = speechProviderHTTP
	DefaultSpeechURL               = "http://127.0.0.1:5050/v1/tts"
	DefaultSpeechModel             = "tts-1"
	DefaultSpeechRate              = "+10%"
	DefaultSpeechVolume            = "+30%"
	DefaultSpeechTimeout           = 30 * time.Second
	DefaultSpeechQueueSize         = 5
	DefaultSilenceThreshold        = 800 * time.Millisecond
	DefaultMinUtterance            = time.Second
	DefaultVoiceActivityRMS        = 500
	DefaultVoiceMonitorInterval    = 10 * time.Second
	DefaultVoiceJoinRetries        = 3
	DefaultStartingBalance         = 50_000
	DefaultDailyReward             = 10_000
	DefaultDailyCooldown           = 24 * time.Hour
	DefaultLeaderboardSize         = 20
	DefaultNicknameScanInterval    = 60 * time.Second
	DefaultGreetingsTimezone       = "Asia/Manila"
	DefaultGreetingsMorningHour    = 8
	DefaultGreetingsNightHour      = 22
	DefaultGreetingsCheckInterval  = time.Minute
	DefaultMuteDuration            = 60 * time.Second
	DefaultHealthListen            = ":5000"
	defaultListenNetwork           = "tcp"
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultCORSAllowCredentials    = false
)

const (
	speechProviderHTTP   = "http"
	speechProviderOpenAI = "openai"
)

var (
	// DefaultRoleSuffixes maps role IDs to the emoji appended to member
	// nicknames.
	DefaultRoleSuffixes = map[string]string{
		"705770837399306332":  "🌿",
		"1345727357662658603": "🌿",
		"1345727357645885448": "🍆",
		"1345727357645885449": "💦",
		"1348305679877935124": "🚀",
		"1345727357612195890": "🌸",
		"1345727357612195889": "💪",
		"1345727357612195887": "☁️",
		"1345727357645885446": "🍑",
		"1345727357612195885": "🛑",
	}

	DefaultAdminRoleIDs = []string{
		"1345727357662658603",
		"1345727357645885449",
		"1345727357645885448",
	}

	// DefaultBannedWords seeds the moderation word list when it is empty.
	DefaultBannedWords = map[string]string{
		"nigga":      string(ModerationActionBoth),
		"chingchong": string(ModerationActionBoth),
		"bading":     string(ModerationActionMute),
		"tanga":      string(ModerationActionMute),
		"bobo":       string(ModerationActionMute),
	}
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string, or the path to the sqlite database
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout limits how long the bot may take to connect and start
	// its background tasks.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for voice sessions and the health
	// server to close before returning.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RuntimeConfigTTL sets how often RuntimeConfig and settings are
	// reloaded from the database. With PostgreSQL, LISTEN/NOTIFY is used
	// in addition to this.
	RuntimeConfigTTL time.Duration `yaml:"runtime_config_ttl" mapstructure:"runtime_config_ttl" json:"runtime_config_ttl"`

	Discord    *DiscordConfig    `yaml:"discord" mapstructure:"discord" json:"discord"`
	AI         *AIConfig         `yaml:"ai" mapstructure:"ai" json:"ai"`
	Voice      *VoiceConfig      `yaml:"voice" mapstructure:"voice" json:"voice"`
	Economy    *EconomyConfig    `yaml:"economy" mapstructure:"economy" json:"economy"`
	Nickname   *NicknameConfig   `yaml:"nickname" mapstructure:"nickname" json:"nickname"`
	Greetings  *GreetingsConfig  `yaml:"greetings" mapstructure:"greetings" json:"greetings"`
	Moderation *ModerationConfig `yaml:"moderation" mapstructure:"moderation" json:"moderation"`
	Health     *HealthConfig     `yaml:"health" mapstructure:"health" json:"health"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. Message content, member and presence
	// intents are privileged and must be enabled in the dev portal.
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CommandPrefix precedes every text command
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// Members holding any of these roles may run admin commands
	AdminRoleIDs []string `yaml:"admin_role_ids" mapstructure:"admin_role_ids" json:"admin_role_ids"`

	RulesChannelID         string `yaml:"rules_channel_id" mapstructure:"rules_channel_id" json:"rules_channel_id"`
	AnnouncementsChannelID string `yaml:"announcements_channel_id" mapstructure:"announcements_channel_id" json:"announcements_channel_id"`
	GreetingsChannelID     string `yaml:"greetings_channel_id" mapstructure:"greetings_channel_id" json:"greetings_channel_id"`

	// LogChannelID receives a copy of `asklog` exchanges. Empty disables it.
	LogChannelID string `yaml:"log_channel_id" mapstructure:"log_channel_id" json:"log_channel_id"`

	// ConnectAttempts is the number of direct connection attempts made in
	// one connection cycle before the rate limiter is consulted.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts" json:"connect_attempts" binding:"min=1"`

	// ConnectRetryDelay is the wait after a connection error that isn't
	// rate limiting.
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay" mapstructure:"connect_retry_delay" json:"connect_retry_delay"`

	BackoffInitial time.Duration `yaml:"backoff_initial" mapstructure:"backoff_initial" json:"backoff_initial" binding:"min=1s"`
	BackoffMax     time.Duration `yaml:"backoff_max" mapstructure:"backoff_max" json:"backoff_max" binding:"gtefield=BackoffInitial"`
}

// AIConfig configures the OpenAI-compatible endpoint used for chat and
// transcription.
type AIConfig struct {
	// API token (GROQ_API_KEY)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	BaseURL  string         `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	Model       string  `yaml:"model" mapstructure:"model" json:"model" binding:"required"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"min=0,max=2"`

	// ContextMessages is the number of prior messages per channel sent
	// along with each prompt
	ContextMessages int `yaml:"context_messages" mapstructure:"context_messages" json:"context_messages" binding:"min=0"`

	// ChatRateLimit is the number of chat requests a user may make within
	// ChatRateWindow
	ChatRateLimit  int           `yaml:"chat_rate_limit" mapstructure:"chat_rate_limit" json:"chat_rate_limit" binding:"min=1"`
	ChatRateWindow time.Duration `yaml:"chat_rate_window" mapstructure:"chat_rate_window" json:"chat_rate_window" binding:"min=1s"`

	// Timeout applied to each chat completion request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	TranscriptionModel   string        `yaml:"transcription_model" mapstructure:"transcription_model" json:"transcription_model"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout" mapstructure:"transcription_timeout" json:"transcription_timeout" binding:"min=1s"`
}

// VoiceConfig configures voice channel features.
type VoiceConfig struct {
	// Enabled toggles voice commands. Opus support must be available
	// when enabled.
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// SpeechProvider selects the text-to-speech backend: 'http' for an
	// edge-tts compatible service, 'openai' for an OpenAI-compatible
	// speech endpoint
	SpeechProvider string        `yaml:"speech_provider" mapstructure:"speech_provider" json:"speech_provider" binding:"oneof=http openai"`
	SpeechURL      string        `yaml:"speech_url" mapstructure:"speech_url" json:"speech_url" binding:"required_if=SpeechProvider http"`
	SpeechToken    string        `yaml:"speech_token" mapstructure:"speech_token" json:"speech_token" log:"[redacted]"`
	SpeechModel    string        `yaml:"speech_model" mapstructure:"speech_model" json:"speech_model"`
	SpeechRate     string        `yaml:"speech_rate" mapstructure:"speech_rate" json:"speech_rate"`
	SpeechVolume   string        `yaml:"speech_volume" mapstructure:"speech_volume" json:"speech_volume"`
	SpeechTimeout  time.Duration `yaml:"speech_timeout" mapstructure:"speech_timeout" json:"speech_timeout" binding:"min=1s"`

	// QueueSize bounds pending speech per guild. The oldest item is
	// dropped when full.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" json:"queue_size" binding:"min=1"`

	// SilenceThreshold is the trailing silence that ends an utterance
	SilenceThreshold time.Duration `yaml:"silence_threshold" mapstructure:"silence_threshold" json:"silence_threshold"`

	// MinUtterance is the least voiced audio sent for transcription
	MinUtterance time.Duration `yaml:"min_utterance" mapstructure:"min_utterance" json:"min_utterance"`

	// ActivityRMS is the RMS amplitude above which a frame is voiced
	ActivityRMS float64 `yaml:"activity_rms" mapstructure:"activity_rms" json:"activity_rms"`

	MonitorInterval time.Duration `yaml:"monitor_interval" mapstructure:"monitor_interval" json:"monitor_interval"`

	// JoinRetries is the number of times a failed voice connection is
	// retried, waiting one second longer before each retry
	JoinRetries int `yaml:"join_retries" mapstructure:"join_retries" json:"join_retries" binding:"min=0"`
}

// EconomyConfig configures balances and the daily reward.
type EconomyConfig struct {
	StartingBalance int64         `yaml:"starting_balance" mapstructure:"starting_balance" json:"starting_balance" binding:"min=0"`
	DailyReward     int64         `yaml:"daily_reward" mapstructure:"daily_reward" json:"daily_reward" binding:"min=0"`
	DailyCooldown   time.Duration `yaml:"daily_cooldown" mapstructure:"daily_cooldown" json:"daily_cooldown"`
	LeaderboardSize int           `yaml:"leaderboard_size" mapstructure:"leaderboard_size" json:"leaderboard_size" binding:"min=1"`
}

// NicknameConfig configures automatic nickname formatting.
type NicknameConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval" mapstructure:"scan_interval" json:"scan_interval"`

	// RoleSuffixes seeds the role suffix table when it is empty
	RoleSuffixes map[string]string `yaml:"role_suffixes" mapstructure:"role_suffixes" json:"role_suffixes"`
}

// GreetingsConfig configures the morning and night greetings.
type GreetingsConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Timezone      string        `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"timezone"`
	MorningHour   int           `yaml:"morning_hour" mapstructure:"morning_hour" json:"morning_hour" binding:"min=0,max=23"`
	NightHour     int           `yaml:"night_hour" mapstructure:"night_hour" json:"night_hour" binding:"min=0,max=23"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval" json:"check_interval"`
}

// ModerationConfig configures the banned word filter.
type ModerationConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	MuteDuration time.Duration `yaml:"mute_duration" mapstructure:"mute_duration" json:"mute_duration"`
}

// HealthConfig configures the HTTP health and status server
type HealthConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., ":5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,min=1s"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,min=1s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,min=1s"`

	// If true, pprof handlers are registered under /debug/pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

// GINConfig converts the settings to a cors.Config. With no explicit
// origins, every origin is allowed.
func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     slices.Clone(DefaultCORSAllowMethods),
		AllowHeaders:     slices.Clone(DefaultCORSAllowHeaders),
		ExposeHeaders:    slices.Clone(DefaultCORSExposeHeaders),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultCORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	voiceLogLevel := &slog.LevelVar{}
	healthLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	voiceLogLevel.Set(DefaultVoiceLogLevel)
	healthLogLevel.Set(DefaultHealthLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RuntimeConfigTTL:      DefaultRuntimeConfigTTL,
		Discord: &DiscordConfig{
			LogLevel:               discordLogLevel,
			DiscordGoLogLevel:      discordgoLogLevel,
			GatewayIntents:         DefaultDiscordGatewayIntent,
			CommandPrefix:          DefaultCommandPrefix,
			AdminRoleIDs:           slices.Clone(DefaultAdminRoleIDs),
			RulesChannelID:         DefaultRulesChannelID,
			AnnouncementsChannelID: DefaultAnnouncementsChannelID,
			GreetingsChannelID:     DefaultGreetingsChannelID,
			ConnectAttempts:        DefaultConnectAttempts,
			ConnectRetryDelay:      DefaultConnectRetryDelay,
			BackoffInitial:         DefaultBackoffInitial,
			BackoffMax:             DefaultBackoffMax,
		},
		AI: &AIConfig{
			BaseURL:              DefaultAIBaseURL,
			LogLevel:             aiLogLevel,
			Model:                DefaultAIModel,
			MaxTokens:            DefaultAIMaxTokens,
			Temperature:          DefaultAITemperature,
			ContextMessages:      DefaultAIContextMessages,
			ChatRateLimit:        DefaultAIChatRateLimit,
			ChatRateWindow:       DefaultAIChatRateWindow,
			Timeout:              DefaultAITimeout,
			TranscriptionModel:   DefaultTranscriptionModel,
			TranscriptionTimeout: DefaultTranscriptionTimeout,
		},
		Voice: &VoiceConfig{
			Enabled:          true,
			LogLevel:         voiceLogLevel,
			SpeechProvider:   DefaultSpeechProvider,
			SpeechURL:        DefaultSpeechURL,
			SpeechModel:      DefaultSpeechModel,
			SpeechRate:       DefaultSpeechRate,
			SpeechVolume:     DefaultSpeechVolume,
			SpeechTimeout:    DefaultSpeechTimeout,
			QueueSize:        DefaultSpeechQueueSize,
			SilenceThreshold: DefaultSilenceThreshold,
			MinUtterance:     DefaultMinUtterance,
			ActivityRMS:      DefaultVoiceActivityRMS,
			MonitorInterval:  DefaultVoiceMonitorInterval,
			JoinRetries:      DefaultVoiceJoinRetries,
		},
		Economy: &EconomyConfig{
			StartingBalance: DefaultStartingBalance,
			DailyReward:     DefaultDailyReward,
			DailyCooldown:   DefaultDailyCooldown,
			LeaderboardSize: DefaultLeaderboardSize,
		},
		Nickname: &NicknameConfig{
			Enabled:      true,
			ScanInterval: DefaultNicknameScanInterval,
			RoleSuffixes: maps.Clone(DefaultRoleSuffixes),
		},
		Greetings: &GreetingsConfig{
			Enabled:       true,
			Timezone:      DefaultGreetingsTimezone,
			MorningHour:   DefaultGreetingsMorningHour,
			NightHour:     DefaultGreetingsNightHour,
			CheckInterval: DefaultGreetingsCheckInterval,
		},
		Moderation: &ModerationConfig{
			Enabled:      true,
			MuteDuration: DefaultMuteDuration,
		},
		Health: &HealthConfig{
			Enabled:           true,
			Listen:            DefaultHealthListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          healthLogLevel,
			CORS:              DefaultCORSConfig(),
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
