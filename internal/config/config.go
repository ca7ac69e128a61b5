// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig holds per-source upstream settings.
type SourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Cookie    string `mapstructure:"cookie"`
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPConfig configures fetch timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the rendered-fetch subsystem.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// TasksConfig governs the task table and janitor.
type TasksConfig struct {
	RunTimeoutSeconds  int `mapstructure:"run_timeout_seconds"`
	TTLMinutes         int `mapstructure:"ttl_minutes"`
	MaxEntries         int `mapstructure:"max_entries"`
	ReclaimIntervalMin int `mapstructure:"reclaim_interval_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("source.base_url", "https://animepahe.ru")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("tasks.run_timeout_seconds", 300)
	v.SetDefault("tasks.ttl_minutes", 60)
	v.SetDefault("tasks.max_entries", 1000)
	v.SetDefault("tasks.reclaim_interval_minutes", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.Tasks.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("tasks.run_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout is the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay after a transient fetch failure.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay growth.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// NavTimeout is the headless navigation deadline.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RunTimeout bounds a single resolution pipeline run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Tasks.RunTimeoutSeconds) * time.Second
}

// TaskTTL is how long finished tasks stay pollable.
func (c Config) TaskTTL() time.Duration {
	return time.Duration(c.Tasks.TTLMinutes) * time.Minute
}

// ReclaimInterval is the janitor cadence.
func (c Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Tasks.ReclaimIntervalMin) * time.Minute
}
