package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.vchat/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// PageSize bounds the unfiltered users feed to control cost.
	PageSize int `toml:"page_size"`

	// TokenTTLMinutes is the lifetime of issued credential tokens.
	TokenTTLMinutes int `toml:"token_ttl_minutes"`

	// AuthDisabled turns the identity provider off. Every auth call then
	// fails as not-configured.
	AuthDisabled bool `toml:"auth_disabled"`

	// FlushIntervalMS is the period of the document store commit loop that
	// drains journaled writes into the durable table.
	FlushIntervalMS int `toml:"flush_interval_ms"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession:  "main",
		PageSize:        50,
		TokenTTLMinutes: 30 * 24 * 60,
		FlushIntervalMS: 200,
	}
}

// TokenTTL returns the token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	if c.TokenTTLMinutes <= 0 {
		return time.Duration(Default().TokenTTLMinutes) * time.Minute
	}
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// FlushInterval returns the commit loop period as a duration.
func (c *Config) FlushInterval() time.Duration {
	if c.FlushIntervalMS <= 0 {
		return time.Duration(Default().FlushIntervalMS) * time.Millisecond
	}
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// Load reads config from the given path. Missing numeric fields fall back to
// defaults; a missing file is an error so callers can decide to use Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = Default().PageSize
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
