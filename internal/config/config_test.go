package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/gdl/internal/config"
)

func mockXDG(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	oldConfigHome := xdg.ConfigHome
	xdg.ConfigHome = tmpDir

	t.Cleanup(func() {
		xdg.ConfigHome = oldConfigHome
	})

	return tmpDir
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gdl"), []byte(content), 0o644))
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("gdl", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 4, cfg.MaxConcurrentDownloads)
	assert.Equal(t, 4, cfg.Connections)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, time.Second, cfg.GroupLoopInterval)
	assert.Equal(t, 64, cfg.Workers)
	assert.Equal(t, "gdl.db", filepath.Base(cfg.DBPath))
	assert.NoError(t, cfg.Validate())
}

func TestGetConfig(t *testing.T) {
	t.Run("no config file returns defaults", func(t *testing.T) {
		mockXDG(t)

		cfg, err := config.GetConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultConfig(), *cfg)
	})

	t.Run("empty config file returns defaults", func(t *testing.T) {
		dir := mockXDG(t)
		writeConfig(t, dir, "")

		cfg, err := config.GetConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.MaxConcurrentDownloads)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := mockXDG(t)
		writeConfig(t, dir, `
maxConcurrentDownloads: 10
connections: 8
retryDelay: 250ms
exponentialBackoff: true
downloadDir: /tmp/gdl-downloads
`)

		cfg, err := config.GetConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.MaxConcurrentDownloads)
		assert.Equal(t, 8, cfg.Connections)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.True(t, cfg.ExponentialBackoff)
		assert.Equal(t, "/tmp/gdl-downloads", cfg.DownloadDir)
		assert.Equal(t, 3, cfg.MaxRetries)
	})

	t.Run("changed flags win over the file", func(t *testing.T) {
		dir := mockXDG(t)
		writeConfig(t, dir, "connections: 8\nmaxRetries: 5\n")

		cfg, err := config.GetConfig(newFlags(t, "-c", "2", "--replace", "--retry-delay", "3s"))
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Connections)
		assert.Equal(t, 5, cfg.MaxRetries)
		assert.True(t, cfg.ReplaceExisting)
		assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := mockXDG(t)
		writeConfig(t, dir, "connections: [1, 2")

		_, err := config.GetConfig(nil)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("out of range values fail validation", func(t *testing.T) {
		dir := mockXDG(t)
		writeConfig(t, dir, "connections: 64\n")

		_, err := config.GetConfig(nil)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("invalid flag value fails validation", func(t *testing.T) {
		mockXDG(t)

		_, err := config.GetConfig(newFlags(t, "--workers", "0"))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestApplyFlagsIgnoresUnregistered(t *testing.T) {
	cfg := config.DefaultConfig()
	fs := pflag.NewFlagSet("other", pflag.ContinueOnError)
	fs.Int("connections", 1, "")

	require.NoError(t, cfg.ApplyFlags(fs))
	assert.Equal(t, 4, cfg.Connections)
}

func TestOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DownloadDir = "/data"
	cfg.Connections = 6
	cfg.ReplaceExisting = true

	opts := cfg.Options()
	assert.Equal(t, "/data", opts.Directory)
	assert.Equal(t, 6, opts.Connections)
	assert.True(t, opts.ReplaceExisting)
	assert.Equal(t, cfg.ProgressInterval, opts.ProgressInterval)
}
