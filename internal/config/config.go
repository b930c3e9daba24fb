// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Redraw    RedrawConfig    `mapstructure:"redraw" yaml:"redraw"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Exec      ExecConfig      `mapstructure:"exec" yaml:"exec"`
}

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SandboxConfig describes the connection to the sandboxed OS agent.
type SandboxConfig struct {
	// URL is the websocket endpoint of the sandbox agent.
	URL string `mapstructure:"url" yaml:"url"`
	// RequestTimeout bounds a single action-channel round trip. This is
	// distinct from redraw timeouts: command acknowledgment and visual
	// settling are independent concerns.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// SettleDelay is the fixed pause between moving the mouse and pressing
	// the button, giving hover states time to register.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// AIConfig describes the vision/matching backend.
type AIConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
	// RequestsPerSecond rate-limits backend calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// SimilarityThreshold gates perceptual cache hits (1 - pixel diff ratio).
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
}

// RedrawConfig holds the default stability-detector options; scripts can
// override them per command.
type RedrawConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	ScreenRedraw   bool `mapstructure:"screen_redraw" yaml:"screen_redraw"`
	NetworkMonitor bool `mapstructure:"network_monitor" yaml:"network_monitor"`
	// DiffThresholdPercent is the noise floor below which a frame diff is
	// considered unchanged.
	DiffThresholdPercent float64 `mapstructure:"diff_threshold_percent" yaml:"diff_threshold_percent"`
	// Timeout bounds a single post-action settle wait.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig controls the perceptual response cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// TelemetryConfig controls interaction-record sinks.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// PostgresDSN, when set, enables the Postgres sink in addition to the
	// log sink.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// ExecConfig controls the exec command substrates.
type ExecConfig struct {
	// ShellTimeout bounds a remote shell command.
	ShellTimeout time.Duration `mapstructure:"shell_timeout" yaml:"shell_timeout"`
	// ScriptTimeout bounds an in-process script evaluation.
	ScriptTimeout time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
}

// SetDefaults registers every configuration default on the given viper
// instance. Called before reading the config file so partial files work.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pilot")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sandbox.url", "ws://localhost:8765/agent")
	v.SetDefault("sandbox.request_timeout", 30*time.Second)
	v.SetDefault("sandbox.settle_delay", 500*time.Millisecond)

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.requests_per_second", 2.0)
	v.SetDefault("ai.similarity_threshold", 0.95)

	v.SetDefault("redraw.enabled", true)
	v.SetDefault("redraw.screen_redraw", true)
	v.SetDefault("redraw.network_monitor", false)
	v.SetDefault("redraw.diff_threshold_percent", 0.1)
	v.SetDefault("redraw.timeout", 30*time.Second)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", "")

	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("exec.shell_timeout", 60*time.Second)
	v.SetDefault("exec.script_timeout", 30*time.Second)
}

// Load reads configuration from the given file (or ./pilot.yaml when empty),
// layered under PILOT_-prefixed environment variables, and unmarshals it.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Cache.Dir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.Cache.Dir = dir
	}
	return &cfg, nil
}

// DefaultCacheDir resolves the per-user cache directory (~/.pilot/cache).
func DefaultCacheDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".pilot", "cache"), nil
}
