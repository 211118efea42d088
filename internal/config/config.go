package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap/zapcore"
)

// TokenEnv overrides auth_token when set.
const TokenEnv = "CHATSYNC_TOKEN"

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile     string `toml:"default_profile"`
	ServerURL          string `toml:"server_url"`
	AuthToken          string `toml:"auth_token"`
	UserID             string `toml:"user_id"`
	MaxPushAttempts    int    `toml:"max_push_attempts"`
	MaxConcurrentSyncs int    `toml:"max_concurrent_syncs"`
	SyncSchedule       string `toml:"sync_schedule"`
	ReconnectInitial   string `toml:"reconnect_initial"`
	ReconnectMax       string `toml:"reconnect_max"`
	RequestTimeout     string `toml:"request_timeout"`
	MetricsAddr        string `toml:"metrics_addr"`
	LogLevel           string `toml:"log_level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile:     "main",
		ServerURL:          "http://localhost:3000",
		MaxPushAttempts:    5,
		MaxConcurrentSyncs: 4,
		SyncSchedule:       "@every 30s",
		ReconnectInitial:   "1s",
		ReconnectMax:       "30s",
		RequestTimeout:     "15s",
		LogLevel:           "info",
	}
}

// Load reads config from the given path over Default(). Returns an error
// wrapping fs.ErrNotExist if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default() when the
// file does not exist. The token environment override is applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.AuthToken = tok
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks values that would otherwise fail at daemon start.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q: must be an http(s) url", c.ServerURL)
	}
	if c.MaxPushAttempts < 1 {
		return fmt.Errorf("max_push_attempts must be at least 1, got %d", c.MaxPushAttempts)
	}
	if c.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("max_concurrent_syncs must be at least 1, got %d", c.MaxConcurrentSyncs)
	}
	if c.SyncSchedule != "" {
		if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
			return fmt.Errorf("sync_schedule %q: %w", c.SyncSchedule, err)
		}
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
		}
	}
	for key, v := range map[string]string{
		"reconnect_initial": c.ReconnectInitial,
		"reconnect_max":     c.ReconnectMax,
		"request_timeout":   c.RequestTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// ReconnectInitialDuration returns reconnect_initial, or 1s when unset.
func (c *Config) ReconnectInitialDuration() time.Duration {
	return durationOr(c.ReconnectInitial, time.Second)
}

// ReconnectMaxDuration returns reconnect_max, or 30s when unset.
func (c *Config) ReconnectMaxDuration() time.Duration {
	return durationOr(c.ReconnectMax, 30*time.Second)
}

// RequestTimeoutDuration returns request_timeout, or 15s when unset.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return durationOr(c.RequestTimeout, 15*time.Second)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}
