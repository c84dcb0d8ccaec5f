package ginsilog

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

const (
	testGuildID         = "100000000000000001"
	testTextChannelID   = "100000000000000002"
	testVoiceChannelID  = "100000000000000003"
	testBotUserID       = "100000000000000004"
	testUserID          = "100000000000000005"
	testOtherUserID     = "100000000000000006"
	testAdminRoleID     = "100000000000000007"
	testMemberRoleID    = "100000000000000008"
	testGreetingsChanID = "100000000000000009"
	testAnnounceChanID  = "100000000000000010"
	testLogChannelID    = "100000000000000011"

	testDiscordToken = "MTAwMDAwMDAwMDAwMDAwMDA0.GaBcDe.test-token-0123456789abcdefghijklmnopqrstuv"
)

// DefaultTestConfig returns a Config for tests, with a temporary sqlite
// database, quiet logging and no background tasks
func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", filepath.Base(t.Name())))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.RuntimeConfigTTL = 0

	cfg.Discord.Token = testDiscordToken
	cfg.Discord.AdminRoleIDs = []string{testAdminRoleID}
	cfg.Discord.AnnouncementsChannelID = testAnnounceChanID
	cfg.Discord.GreetingsChannelID = testGreetingsChanID
	cfg.Discord.LogChannelID = testLogChannelID
	cfg.Discord.ConnectRetryDelay = time.Millisecond

	cfg.AI.Token = "test-ai-token"

	cfg.Nickname.ScanInterval = 0
	cfg.Nickname.RoleSuffixes = map[string]string{testMemberRoleID: "🍑"}
	cfg.Greetings.CheckInterval = 0
	cfg.Voice.MonitorInterval = 0
	cfg.Health.Enabled = false
	cfg.Health.Development = true

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.AI.LogLevel.Set(logLevel)
	cfg.Voice.LogLevel.Set(logLevel)
	cfg.Health.LogLevel.Set(logLevel)
	return cfg
}

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.AI.Token = "token"
	require.NoError(t, structValidator.Struct(cfg))
}

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	assert.Equal(t, "g!", cfg.Discord.CommandPrefix)
	assert.Equal(t, int64(50_000), cfg.Economy.StartingBalance)
	assert.Equal(t, int64(10_000), cfg.Economy.DailyReward)
	assert.Equal(t, 24*time.Hour, cfg.Economy.DailyCooldown)
	assert.Equal(t, 60*time.Second, cfg.Discord.BackoffInitial)
	assert.Equal(t, 1800*time.Second, cfg.Discord.BackoffMax)
	assert.Equal(t, 3, cfg.Voice.JoinRetries)
	assert.Equal(t, 5, cfg.Voice.QueueSize)
	assert.Equal(t, DefaultRoleSuffixes, cfg.Nickname.RoleSuffixes)

	// defaults are copied, not shared
	cfg.Nickname.RoleSuffixes["x"] = "y"
	cfg.Discord.AdminRoleIDs[0] = "changed"
	assert.NotContains(t, DefaultRoleSuffixes, "x")
	assert.NotEqual(t, "changed", DefaultAdminRoleIDs[0])
}

func TestConfig_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{
			name:   "missing discord token",
			modify: func(cfg *Config) { cfg.Discord.Token = "" },
		},
		{
			name:   "missing AI token",
			modify: func(cfg *Config) { cfg.AI.Token = "" },
		},
		{
			name:   "bad database type",
			modify: func(cfg *Config) { cfg.DatabaseType = "mysql" },
		},
		{
			name:   "backoff max below initial",
			modify: func(cfg *Config) { cfg.Discord.BackoffMax = time.Second },
		},
		{
			name:   "bad speech provider",
			modify: func(cfg *Config) { cfg.Voice.SpeechProvider = "polly" },
		},
		{
			name:   "bad timezone",
			modify: func(cfg *Config) { cfg.Greetings.Timezone = "Not/AZone" },
		},
		{
			name:   "morning hour out of range",
			modify: func(cfg *Config) { cfg.Greetings.MorningHour = 24 },
		},
		{
			name:   "empty command prefix",
			modify: func(cfg *Config) { cfg.Discord.CommandPrefix = "" },
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				cfg := DefaultConfig()
				cfg.Discord.Token = "token"
				cfg.AI.Token = "token"
				tc.modify(cfg)
				assert.Error(t, structValidator.Struct(cfg))
			},
		)
	}
}

func TestConfig_LogValueRedacted(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret-discord"
	cfg.AI.Token = "super-secret-groq"

	rendered := cfg.LogValue().String()
	assert.NotContains(t, rendered, "super-secret-discord")
	assert.NotContains(t, rendered, "super-secret-groq")
}

func TestCORSConfig_GINConfig(t *testing.T) {
	t.Parallel()

	allowAll := DefaultCORSConfig().GINConfig()
	assert.True(t, allowAll.AllowAllOrigins)
	assert.False(t, allowAll.AllowCredentials)

	c := DefaultCORSConfig()
	c.AllowOrigins = []string{"https://example.com"}
	c.AllowCredentials = true
	restricted := c.GINConfig()
	assert.False(t, restricted.AllowAllOrigins)
	assert.True(t, restricted.AllowCredentials)
	assert.Equal(t, []string{"https://example.com"}, restricted.AllowOrigins)
}
