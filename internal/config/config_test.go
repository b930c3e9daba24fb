// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "ws://localhost:8765/agent", cfg.Sandbox.URL)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.SettleDelay)
	assert.Equal(t, 0.95, cfg.AI.SimilarityThreshold)
	assert.True(t, cfg.Redraw.Enabled)
	assert.True(t, cfg.Redraw.ScreenRedraw)
	assert.False(t, cfg.Redraw.NetworkMonitor)
	assert.Equal(t, 0.1, cfg.Redraw.DiffThresholdPercent)
	assert.Equal(t, 30*time.Second, cfg.Redraw.Timeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Exec.ShellTimeout)
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sandbox:
  url: ws://10.0.0.5:9000/agent
  settle_delay: 250ms
redraw:
  network_monitor: true
cache:
  dir: /tmp/pilot-cache-test
ai:
  model: gemini-2.5-pro
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values override defaults.
	assert.Equal(t, "ws://10.0.0.5:9000/agent", cfg.Sandbox.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Sandbox.SettleDelay)
	assert.True(t, cfg.Redraw.NetworkMonitor)
	assert.Equal(t, "/tmp/pilot-cache-test", cfg.Cache.Dir)
	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Model)

	// Untouched values keep their defaults.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Redraw.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8765/agent", cfg.Sandbox.URL)
	// The cache directory default resolves under the home directory.
	assert.True(t, strings.HasSuffix(cfg.Cache.Dir, filepath.Join(".pilot", "cache")))
}

func TestLoadMalformedFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultCacheDir(t *testing.T) {
	dir, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))
	assert.True(t, strings.HasSuffix(dir, filepath.Join(".pilot", "cache")))
}
