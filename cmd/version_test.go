package cmd

import (
	"bytes"
	"fmt"
	"github.com/draiimon/gnslgbot2/ginsilog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	isolateEnv(t)
	originalVersion := ginsilog.Version
	originalCommitSHA := ginsilog.CommitSHA
	originalBuildTime := ginsilog.BuildTime

	t.Cleanup(
		func() {
			ginsilog.Version = originalVersion
			ginsilog.CommitSHA = originalCommitSHA
			ginsilog.BuildTime = originalBuildTime
		},
	)

	ginsilog.Version = "1.0.0"
	ginsilog.CommitSHA = "abc123"
	ginsilog.BuildTime = "2026-10-01T12:00:00Z"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"--config=" + filepath.Join(t.TempDir(), "missing.env"), "version"})
	require.NoError(t, rootCmd.Execute())

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		ginsilog.Version,
		ginsilog.CommitSHA,
		ginsilog.BuildTime,
	)
	assert.Equal(t, expected, out.String())
}

func TestVersionFlag(t *testing.T) {
	isolateEnv(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "version="+ginsilog.Version)
}
