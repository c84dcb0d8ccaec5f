package cmd

import (
	"context"
	"fmt"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

const (
	// envvars commonly set by hosting platforms, read when the prefixed
	// variable isn't set
	envDiscordToken = "DISCORD_TOKEN"
	envGroqAPIKey   = "GROQ_API_KEY"
	envPort         = "PORT"
)

var (
	cfg        = ginsilog.DefaultConfig()
	configFile string
	envPrefix  = ginsilog.DefaultEnvPrefix
)

var rootCmd = &cobra.Command{
	Use:   "ginsilog [flags]",
	Short: "Runs Ginsilog Bot",
	Long: "Ginsilog Bot is a Discord bot with an AI chat persona, an economy " +
		"with games, nickname formatting, voice TTS/STT and banned word moderation.\n\n" +
		"With no subcommand, the bot is started.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		applyPort(cfg)
		return nil
	},
	RunE: runBot,
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("DEBUG", "INFO", "WARN",
// "ERROR") into slog.LevelVar and *slog.LevelVar fields. When the config
// already holds a *slog.LevelVar, mapstructure decodes into the existing
// value, so the hook sees the element type rather than the pointer.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		typ := t
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		if typ != levelVarType {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// applyPort points the health server at $PORT, unless its listen
// address was set explicitly
func applyPort(config *ginsilog.Config) {
	port := os.Getenv(envPort)
	if port == "" {
		return
	}
	if _, ok := os.LookupEnv(envKey("health.listen")); ok {
		return
	}
	config.Health.Listen = ":" + port
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", ginsilog.DefaultDatabase)
	viper.SetDefault("database_type", ginsilog.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", ginsilog.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", ginsilog.DefaultDatabaseLogLevel.String())

	viper.SetDefault("log_level", ginsilog.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", ginsilog.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", ginsilog.DefaultShutdownTimeout)
	viper.SetDefault("runtime_config_ttl", ginsilog.DefaultRuntimeConfigTTL)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.log_level", ginsilog.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", ginsilog.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", int(ginsilog.DefaultDiscordGatewayIntent))
	viper.SetDefault("discord.command_prefix", ginsilog.DefaultCommandPrefix)
	viper.SetDefault("discord.admin_role_ids", ginsilog.DefaultAdminRoleIDs)
	viper.SetDefault("discord.rules_channel_id", ginsilog.DefaultRulesChannelID)
	viper.SetDefault("discord.announcements_channel_id", ginsilog.DefaultAnnouncementsChannelID)
	viper.SetDefault("discord.greetings_channel_id", ginsilog.DefaultGreetingsChannelID)
	viper.SetDefault("discord.log_channel_id", "")
	viper.SetDefault("discord.connect_attempts", ginsilog.DefaultConnectAttempts)
	viper.SetDefault("discord.connect_retry_delay", ginsilog.DefaultConnectRetryDelay)
	viper.SetDefault("discord.backoff_initial", ginsilog.DefaultBackoffInitial)
	viper.SetDefault("discord.backoff_max", ginsilog.DefaultBackoffMax)

	// AI config
	viper.SetDefault("ai.token", "")
	viper.SetDefault("ai.base_url", ginsilog.DefaultAIBaseURL)
	viper.SetDefault("ai.log_level", ginsilog.DefaultAILogLevel.String())
	viper.SetDefault("ai.model", ginsilog.DefaultAIModel)
	viper.SetDefault("ai.max_tokens", ginsilog.DefaultAIMaxTokens)
	viper.SetDefault("ai.temperature", ginsilog.DefaultAITemperature)
	viper.SetDefault("ai.context_messages", ginsilog.DefaultAIContextMessages)
	viper.SetDefault("ai.chat_rate_limit", ginsilog.DefaultAIChatRateLimit)
	viper.SetDefault("ai.chat_rate_window", ginsilog.DefaultAIChatRateWindow)
	viper.SetDefault("ai.timeout", ginsilog.DefaultAITimeout)
	viper.SetDefault("ai.transcription_model", ginsilog.DefaultTranscriptionModel)
	viper.SetDefault("ai.transcription_timeout", ginsilog.DefaultTranscriptionTimeout)

	// Voice config
	viper.SetDefault("voice.enabled", true)
	viper.SetDefault("voice.log_level", ginsilog.DefaultVoiceLogLevel.String())
	viper.SetDefault("voice.speech_provider", ginsilog.DefaultSpeechProvider)
	viper.SetDefault("voice.speech_url", ginsilog.DefaultSpeechURL)
	viper.SetDefault("voice.speech_token", "")
	viper.SetDefault("voice.speech_model", ginsilog.DefaultSpeechModel)
	viper.SetDefault("voice.speech_rate", ginsilog.DefaultSpeechRate)
	viper.SetDefault("voice.speech_volume", ginsilog.DefaultSpeechVolume)
	viper.SetDefault("voice.speech_timeout", ginsilog.DefaultSpeechTimeout)
	viper.SetDefault("voice.queue_size", ginsilog.DefaultSpeechQueueSize)
	viper.SetDefault("voice.silence_threshold", ginsilog.DefaultSilenceThreshold)
	viper.SetDefault("voice.min_utterance", ginsilog.DefaultMinUtterance)
	viper.SetDefault("voice.activity_rms", ginsilog.DefaultVoiceActivityRMS)
	viper.SetDefault("voice.monitor_interval", ginsilog.DefaultVoiceMonitorInterval)
	viper.SetDefault("voice.join_retries", ginsilog.DefaultVoiceJoinRetries)

	// Economy config
	viper.SetDefault("economy.starting_balance", ginsilog.DefaultStartingBalance)
	viper.SetDefault("economy.daily_reward", ginsilog.DefaultDailyReward)
	viper.SetDefault("economy.daily_cooldown", ginsilog.DefaultDailyCooldown)
	viper.SetDefault("economy.leaderboard_size", ginsilog.DefaultLeaderboardSize)

	viper.SetDefault("nickname.enabled", true)
	viper.SetDefault("nickname.scan_interval", ginsilog.DefaultNicknameScanInterval)
	viper.SetDefault("nickname.role_suffixes", ginsilog.DefaultRoleSuffixes)

	viper.SetDefault("greetings.enabled", true)
	viper.SetDefault("greetings.timezone", ginsilog.DefaultGreetingsTimezone)
	viper.SetDefault("greetings.morning_hour", ginsilog.DefaultGreetingsMorningHour)
	viper.SetDefault("greetings.night_hour", ginsilog.DefaultGreetingsNightHour)
	viper.SetDefault("greetings.check_interval", ginsilog.DefaultGreetingsCheckInterval)

	viper.SetDefault("moderation.enabled", true)
	viper.SetDefault("moderation.mute_duration", ginsilog.DefaultMuteDuration)

	// Health server config
	viper.SetDefault("health.enabled", true)
	viper.SetDefault("health.listen", ginsilog.DefaultHealthListen)
	viper.SetDefault("health.listen_network", "tcp")
	viper.SetDefault("health.log_level", ginsilog.DefaultHealthLogLevel.String())
	viper.SetDefault("health.development", false)
	viper.SetDefault("health.read_timeout", ginsilog.DefaultReadTimeout)
	viper.SetDefault("health.read_header_timeout", ginsilog.DefaultReadHeaderTimeout)
	viper.SetDefault("health.write_timeout", ginsilog.DefaultWriteTimeout)
	viper.SetDefault("health.idle_timeout", ginsilog.DefaultIdleTimeout)

	// Health server: CORS config
	viper.SetDefault("health.cors.allow_headers", ginsilog.DefaultCORSAllowHeaders)
	viper.SetDefault("health.cors.allow_methods", ginsilog.DefaultCORSAllowMethods)
	viper.SetDefault("health.cors.expose_headers", ginsilog.DefaultCORSExposeHeaders)
	viper.SetDefault("health.cors.allow_origins", []string{})
	viper.SetDefault("health.cors.max_age", ginsilog.DefaultCORSMaxAge)
	viper.SetDefault("health.cors.allow_credentials", ginsilog.DefaultCORSAllowCredentials)

	envPrefix = os.Getenv(ginsilog.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = ginsilog.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}
	fatalErr(viper.BindEnv("discord.token", envKey("discord.token"), envDiscordToken))
	fatalErr(viper.BindEnv("ai.token", envKey("ai.token"), envGroqAPIKey))

	// Convert values to correct types
	for _, key := range []string{
		"discord.admin_role_ids",
		"health.cors.allow_headers",
		"health.cors.allow_origins",
		"health.cors.allow_methods",
		"health.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from (defaults to .env)",
	)
	rootCmd.Version = ginsilog.Version
	rootCmd.SetVersionTemplate(versionString() + "\n")
}
