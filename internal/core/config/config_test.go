package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 50, cfg.Poll.ListLimit)
	assert.Equal(t,
		[]time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond},
		cfg.Poll.Confirm.MarkAllRead)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, cfg.Poll.Confirm.MarkRead)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, cfg.Poll.Confirm.Delete)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, cfg.Poll.Confirm.Push)
	assert.Equal(t, RetryConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3}, cfg.Fetch.Reads)
	assert.Equal(t, RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 2}, cfg.Fetch.Commands)
	assert.True(t, cfg.Push.IsEnabled())
	assert.Equal(t, filepath.Join(dataDir, "inbox.db"), cfg.DatabaseFile())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
server:
  base_url: https://api.example.com/v1
  token: opaque
  user_id: "42"
poll:
  interval: 5s
  list_limit: 10
  confirm:
    mark_read: [200ms, 1s]
    delete: []
fetch:
  commands:
    max_attempts: 4
push:
  enabled: false
`)

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.Server.BaseURL)
	assert.Equal(t, "https://api.example.com/v1/notifications/stream", cfg.StreamURL())
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 10, cfg.Poll.ListLimit)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, time.Second}, cfg.Poll.Confirm.MarkRead)
	assert.Empty(t, cfg.Poll.Confirm.Delete, "explicit empty list disables the cascade")
	assert.Len(t, cfg.Poll.Confirm.MarkAllRead, 4, "unset list falls back to defaults")
	assert.Equal(t, 4, cfg.Fetch.Commands.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Fetch.Commands.BaseDelay)
	assert.False(t, cfg.Push.IsEnabled())

	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, "42", id.UserID)
	assert.Equal(t, "opaque", id.Token)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "server: [")

	_, err := Load(path, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "bad scheme", mutate: func(c *Config) { c.Server.BaseURL = "ftp://x" }, wantErr: "http(s) URL"},
		{name: "empty base url", mutate: func(c *Config) { c.Server.BaseURL = "" }, wantErr: "base_url cannot be empty"},
		{name: "zero interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: "poll.interval"},
		{name: "jitter too large", mutate: func(c *Config) { c.Poll.Jitter = 1 }, wantErr: "poll.jitter"},
		{name: "zero list limit", mutate: func(c *Config) { c.Poll.ListLimit = 0 }, wantErr: "list_limit"},
		{name: "zero attempts", mutate: func(c *Config) { c.Fetch.Reads.MaxAttempts = 0 }, wantErr: "fetch.reads.max_attempts"},
		{name: "max below base", mutate: func(c *Config) { c.Fetch.Commands.MaxDelay = time.Millisecond }, wantErr: "fetch.commands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIdentity_FromJWT(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-10"}).SignedString([]byte("k"))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Server.Token = tok
	cfg.Server.UserID = "ignored"

	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, "user-10", id.UserID)
}

func TestIdentity_Missing(t *testing.T) {
	cfg := DefaultConfig()

	_, err := cfg.Identity()
	require.Error(t, err)

	cfg.Server.Token = "opaque"
	_, err = cfg.Identity()
	require.Error(t, err, "opaque token without user_id cannot resolve")
}

func TestValidateDeep(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Server.Token = "opaque"
		cfg.Server.UserID = "1"

		assert.NoError(t, cfg.ValidateDeep(""))
	})

	t.Run("bad schedules and missing token", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Poll.Confirm.MarkRead = []time.Duration{time.Second, 0}

		err := cfg.ValidateDeep("")

		var fieldErrs criterio.FieldErrors
		require.ErrorAs(t, err, &fieldErrs)

		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field)
		}
		assert.Contains(t, fields, "poll.confirm.mark_read[1]")
		assert.Contains(t, fields, "poll.confirm.mark_read")
		assert.Contains(t, fields, "server.token")
	})

	t.Run("config path is a directory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		cfg.Server.Token = "opaque"
		cfg.Server.UserID = "1"

		err := cfg.ValidateDeep(t.TempDir())

		var fieldErrs criterio.FieldErrors
		require.ErrorAs(t, err, &fieldErrs)
		require.NotEmpty(t, fieldErrs)
		assert.Equal(t, "config_file", fieldErrs[0].Field)
	})
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "poll:\n  interval: 5s\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, dir, zerolog.Nop(), func(c *Config) { reloaded <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Broken file is ignored.
	require.NoError(t, os.WriteFile(path, []byte("poll: ["), 0o644))
	select {
	case <-reloaded:
		t.Fatal("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 7s\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7*time.Second, cfg.Poll.Interval)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
