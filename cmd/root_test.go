package cmd

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolateEnv clears the environment for the test, restoring it and the
// package's config state afterward
func isolateEnv(t *testing.T) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
			viper.Reset()
			cfg = ginsilog.DefaultConfig()
			configFile = ""
			envPrefix = ginsilog.DefaultEnvPrefix
			rootCmd.SetArgs(nil)
		},
	)
	os.Clearenv()
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	return envFile
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	isolateEnv(t)

	envFile := writeEnvFile(
		t, `
# General/database config

GB_DATABASE=/home/foo/ginsilog.sqlite3
GB_DATABASE_TYPE=sqlite
GB_DATABASE_LOG_LEVEL=INFO
GB_DATABASE_SLOW_THRESHOLD=200ms
GB_LOG_LEVEL=debug
GB_STARTUP_TIMEOUT=30s
GB_SHUTDOWN_TIMEOUT=60s
GB_RUNTIME_CONFIG_TTL=1m

# Discord bot config

GB_DISCORD_TOKEN=your-discord-bot-token
GB_DISCORD_LOG_LEVEL=WARN
GB_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
GB_DISCORD_GATEWAY_INTENTS=3243773
GB_DISCORD_COMMAND_PREFIX=b!
GB_DISCORD_ADMIN_ROLE_IDS=111 222
GB_DISCORD_LOG_CHANNEL_ID=333
GB_DISCORD_BACKOFF_INITIAL=30s
GB_DISCORD_BACKOFF_MAX=10m

# AI config

GB_AI_TOKEN=your-groq-token
GB_AI_MODEL=llama-3.3-70b-versatile
GB_AI_TEMPERATURE=0.9
GB_AI_CHAT_RATE_LIMIT=3

# Voice config

GB_VOICE_ENABLED=false
GB_VOICE_SPEECH_PROVIDER=openai
GB_VOICE_QUEUE_SIZE=8
GB_VOICE_SILENCE_THRESHOLD=1s

# Economy, greetings and moderation

GB_ECONOMY_STARTING_BALANCE=1000
GB_ECONOMY_DAILY_COOLDOWN=12h
GB_GREETINGS_TIMEZONE=UTC
GB_MODERATION_MUTE_DURATION=2m

# Health server

GB_HEALTH_LISTEN=127.0.0.1:8080
GB_HEALTH_DEVELOPMENT=true
GB_HEALTH_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
GB_HEALTH_CORS_MAX_AGE=1h
`,
	)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/ginsilog.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/ginsilog.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.RuntimeConfigTTL)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)
	assert.Equal(t, "b!", cfg.Discord.CommandPrefix)
	assert.Equal(t, []string{"111", "222"}, cfg.Discord.AdminRoleIDs)
	assert.Equal(t, "333", cfg.Discord.LogChannelID)
	assert.Equal(t, ginsilog.DefaultAnnouncementsChannelID, cfg.Discord.AnnouncementsChannelID)
	assert.Equal(t, 30*time.Second, cfg.Discord.BackoffInitial)
	assert.Equal(t, 10*time.Minute, cfg.Discord.BackoffMax)

	assert.Equal(t, "your-groq-token", cfg.AI.Token)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.AI.Model)
	assert.InDelta(t, 0.9, cfg.AI.Temperature, 0.001)
	assert.Equal(t, 3, cfg.AI.ChatRateLimit)
	assert.Equal(t, ginsilog.DefaultAIBaseURL, cfg.AI.BaseURL)
	assert.Equal(t, slog.LevelInfo, cfg.AI.LogLevel.Level())

	assert.False(t, cfg.Voice.Enabled)
	assert.Equal(t, "openai", cfg.Voice.SpeechProvider)
	assert.Equal(t, 8, cfg.Voice.QueueSize)
	assert.Equal(t, time.Second, cfg.Voice.SilenceThreshold)
	assert.Equal(t, ginsilog.DefaultVoiceJoinRetries, cfg.Voice.JoinRetries)

	assert.Equal(t, int64(1000), cfg.Economy.StartingBalance)
	assert.Equal(t, int64(ginsilog.DefaultDailyReward), cfg.Economy.DailyReward)
	assert.Equal(t, 12*time.Hour, cfg.Economy.DailyCooldown)
	assert.Equal(t, "UTC", cfg.Greetings.Timezone)
	assert.Equal(t, 2*time.Minute, cfg.Moderation.MuteDuration)
	assert.Equal(t, ginsilog.DefaultRoleSuffixes, cfg.Nickname.RoleSuffixes)

	assert.Equal(t, "127.0.0.1:8080", cfg.Health.Listen)
	assert.True(t, cfg.Health.Development)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.Health.CORS.AllowOrigins,
	)
	assert.Equal(t, ginsilog.DefaultCORSAllowMethods, cfg.Health.CORS.AllowMethods)
	assert.Equal(t, time.Hour, cfg.Health.CORS.MaxAge)
}

func TestLoadConfig_HostingEnvVars(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envDiscordToken, "discord-from-host")
	t.Setenv(envGroqAPIKey, "groq-from-host")
	t.Setenv(envPort, "10000")

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "discord-from-host", cfg.Discord.Token)
	assert.Equal(t, "groq-from-host", cfg.AI.Token)
	assert.Equal(t, ":10000", cfg.Health.Listen)
}

func TestLoadConfig_PrefixedVarsWin(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envDiscordToken, "discord-from-host")
	t.Setenv("GB_DISCORD_TOKEN", "discord-prefixed")
	t.Setenv(envPort, "10000")
	t.Setenv("GB_HEALTH_LISTEN", "127.0.0.1:9000")

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "discord-prefixed", cfg.Discord.Token)
	assert.Equal(t, "127.0.0.1:9000", cfg.Health.Listen)
}

func TestLoadConfig_CustomEnvPrefix(t *testing.T) {
	isolateEnv(t)
	t.Setenv(ginsilog.EnvvarSetEnvPrefix, "GINSILOG")
	t.Setenv("GINSILOG_DISCORD_COMMAND_PREFIX", "?")
	t.Setenv("GB_DISCORD_COMMAND_PREFIX", "ignored!")

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "?", cfg.Discord.CommandPrefix)
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GB_LOG_LEVEL", "LOUD")

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	assert.Error(t, rootCmd.Execute())
}

func TestGetLogLevel(t *testing.T) {
	for input, expected := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"Warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	} {
		lvl, err := getLogLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, lvl)
	}
	_, err := getLogLevel("TRACE")
	assert.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	type levels struct {
		Allocated *slog.LevelVar `mapstructure:"allocated"`
		Empty     *slog.LevelVar `mapstructure:"empty"`
	}
	allocated := &slog.LevelVar{}
	target := levels{Allocated: allocated}

	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &target,
		},
	)
	require.NoError(t, err)
	require.NoError(
		t,
		decoder.Decode(map[string]any{"allocated": "debug", "empty": "WARN"}),
	)

	assert.Same(t, allocated, target.Allocated)
	assert.Equal(t, slog.LevelDebug, allocated.Level())
	require.NotNil(t, target.Empty)
	assert.Equal(t, slog.LevelWarn, target.Empty.Level())

	target = levels{Allocated: &slog.LevelVar{}}
	decoder, err = mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &target,
		},
	)
	require.NoError(t, err)
	assert.Error(t, decoder.Decode(map[string]any{"allocated": "LOUD"}))
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GB_DATABASE", filepath.Join(t.TempDir(), "run.sqlite3"))
	t.Setenv("GB_HEALTH_ENABLED", "false")
	t.Setenv("GB_LOG_LEVEL", "ERROR")

	// no discord or AI tokens
	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "run"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error running bot")
}
