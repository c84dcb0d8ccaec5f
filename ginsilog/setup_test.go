package ginsilog

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestSetupDatabase(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	ctx := context.Background()

	summary, err := SetupDatabase(ctx, cfg)
	require.NoError(t, err)
	assert.NotZero(t, summary.RuntimeConfig.ID)
	assert.Equal(t, 1, summary.RoleSuffixes)
	assert.Equal(t, len(DefaultBannedWords), summary.BannedWords)
	assert.Zero(t, summary.Users)

	// running it again keeps the existing rows
	again, err := SetupDatabase(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, summary.RuntimeConfig.ID, again.RuntimeConfig.ID)
	assert.Equal(t, summary.BannedWords, again.BannedWords)
}

func TestSetupDatabase_InvalidType(t *testing.T) {
	t.Parallel()
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"

	_, err := SetupDatabase(context.Background(), cfg)
	assert.Error(t, err)
}
