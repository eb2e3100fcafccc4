// Package config handles configuration loading and validation for inbox.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/inbox/internal/core/session"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Poll     PollConfig     `yaml:"poll"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Push     PushConfig     `yaml:"push"`
	Database DatabaseConfig `yaml:"database"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// ServerConfig describes the notification API.
type ServerConfig struct {
	BaseURL    string        `yaml:"base_url"`
	StreamPath string        `yaml:"stream_path"`
	Token      string        `yaml:"token"`
	UserID     string        `yaml:"user_id"` // used when the token is opaque
	Timeout    time.Duration `yaml:"timeout"`
}

// PollConfig controls the unread poller and its confirmation schedules.
type PollConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Jitter    float64       `yaml:"jitter"`
	ListLimit int           `yaml:"list_limit"`
	Confirm   ConfirmConfig `yaml:"confirm"`
}

// ConfirmConfig lists the delays at which the poller re-reads server state.
// Command schedules count from when the command request settles; Push counts
// from a push that arrives while only part of the inbox is loaded.
type ConfirmConfig struct {
	MarkAllRead []time.Duration `yaml:"mark_all_read"`
	MarkRead    []time.Duration `yaml:"mark_read"`
	Delete      []time.Duration `yaml:"delete"`
	Push        []time.Duration `yaml:"push"`
}

// FetchConfig holds retry policies for the fetch layer.
type FetchConfig struct {
	Reads    RetryConfig `yaml:"reads"`
	Commands RetryConfig `yaml:"commands"`
}

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// PushConfig controls the websocket push channel.
type PushConfig struct {
	Enabled      *bool         `yaml:"enabled"` // nil means enabled
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// IsEnabled reports whether the push channel should be used.
func (p PushConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DatabaseConfig holds SQLite connection settings for the notice store.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:    "http://localhost:8080/api",
			StreamPath: "/notifications/stream",
			Timeout:    10 * time.Second,
		},
		Poll: PollConfig{
			Interval:  30 * time.Second,
			Jitter:    0.1,
			ListLimit: 50,
			Confirm: ConfirmConfig{
				MarkAllRead: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond},
				MarkRead:    []time.Duration{500 * time.Millisecond},
				Delete:      []time.Duration{500 * time.Millisecond},
				Push:        []time.Duration{250 * time.Millisecond},
			},
		},
		Fetch: FetchConfig{
			Reads:    RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3},
			Commands: RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 2},
		},
		Push: PushConfig{
			ReconnectMax: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 2,
			MaxIdleConns: 2,
			BusyTimeout:  5000,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Server.StreamPath == "" {
		c.Server.StreamPath = defaults.Server.StreamPath
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = defaults.Poll.Interval
	}
	if c.Poll.ListLimit == 0 {
		c.Poll.ListLimit = defaults.Poll.ListLimit
	}
	// An explicit empty list disables a cascade; only nil falls back.
	if c.Poll.Confirm.MarkAllRead == nil {
		c.Poll.Confirm.MarkAllRead = defaults.Poll.Confirm.MarkAllRead
	}
	if c.Poll.Confirm.MarkRead == nil {
		c.Poll.Confirm.MarkRead = defaults.Poll.Confirm.MarkRead
	}
	if c.Poll.Confirm.Delete == nil {
		c.Poll.Confirm.Delete = defaults.Poll.Confirm.Delete
	}
	if c.Poll.Confirm.Push == nil {
		c.Poll.Confirm.Push = defaults.Poll.Confirm.Push
	}
	c.Fetch.Reads = c.Fetch.Reads.withDefaults(defaults.Fetch.Reads)
	c.Fetch.Commands = c.Fetch.Commands.withDefaults(defaults.Fetch.Commands)
	if c.Push.ReconnectMax == 0 {
		c.Push.ReconnectMax = defaults.Push.ReconnectMax
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
}

func (r RetryConfig) withDefaults(d RetryConfig) RetryConfig {
	if r.BaseDelay == 0 {
		r.BaseDelay = d.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = d.MaxDelay
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	return r
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url cannot be empty")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.Poll.Jitter < 0 || c.Poll.Jitter >= 1 {
		return fmt.Errorf("poll.jitter must be in [0, 1)")
	}
	if c.Poll.ListLimit < 1 {
		return fmt.Errorf("poll.list_limit must be at least 1")
	}

	for name, r := range map[string]RetryConfig{"fetch.reads": c.Fetch.Reads, "fetch.commands": c.Fetch.Commands} {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("%s.max_attempts must be at least 1", name)
		}
		if r.BaseDelay < 0 || r.MaxDelay < r.BaseDelay {
			return fmt.Errorf("%s: max_delay must be >= base_delay >= 0", name)
		}
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	return nil
}

// Identity resolves the signed-in identity from the configured credential.
// A JWT supplies its subject; an opaque token needs server.user_id.
func (c *Config) Identity() (session.Identity, error) {
	token := c.Server.Token
	if token == "" {
		return session.Identity{}, errors.New("no session token configured (set server.token or INBOX_TOKEN)")
	}

	id, err := session.FromToken(token)
	if err == nil {
		return id, nil
	}

	if c.Server.UserID != "" {
		return session.Identity{UserID: c.Server.UserID, Token: token}, nil
	}

	return session.Identity{}, fmt.Errorf("resolve identity: %w", err)
}

// StreamURL returns the push endpoint derived from the base URL.
func (c *Config) StreamURL() string {
	return c.Server.BaseURL + c.Server.StreamPath
}

// DatabaseFile returns the notice store path.
func (c *Config) DatabaseFile() string {
	return filepath.Join(c.DataDir, "inbox.db")
}
