package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
bot:
  token: "123:abc"
  poll_timeout_seconds: 30
  max_concurrent_updates: 4
  texts_dir: "/etc/lounge/texts"
  moderators: [11, 22]
  roster_excel_threshold: 10
  render:
    name: 30
storage:
  path: "/var/lib/lounge/lounge.db"
  busy_timeout: 2s
relay:
  fanout_workers: 16
  moderator_marker: " (mod)"
  max_name_width: 20
ops:
  enabled: false
  port: 9090
  shutdown_timeout: 5s
exchange:
  request_ttl: 1h
logging:
  level: "debug"
  format: "text"
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvBotToken, EnvDBPath, EnvLogLevel, EnvLogFormat, EnvOpsPort} {
		t.Setenv(key, "")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := createTempConfigFile(t, fullYAML)
	cfg := defaultConfig()
	require.NoError(t, loadFromYAML(path, cfg))

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, 30, cfg.Bot.PollTimeoutSeconds)
	assert.Equal(t, 4, cfg.Bot.MaxConcurrentUpdates)
	assert.Equal(t, []int64{11, 22}, cfg.Bot.Moderators)
	assert.Equal(t, 30, cfg.Bot.Render.Name)
	assert.Equal(t, DefaultRoleColumnWidth, cfg.Bot.Render.Role, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/lounge/lounge.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, 16, cfg.Relay.FanoutWorkers)
	assert.Equal(t, " (mod)", cfg.Relay.ModeratorMarker)
	assert.False(t, cfg.Ops.Enabled)
	assert.Equal(t, DefaultOpsHost, cfg.Ops.Host)
	assert.Equal(t, time.Hour, cfg.Exchange.RequestTTL)
	assert.Equal(t, "text", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML_Errors(t *testing.T) {
	cfg := defaultConfig()
	err := loadFromYAML(filepath.Join(t.TempDir(), "missing.yml"), cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := createTempConfigFile(t, "bot: [unclosed")
	assert.Error(t, loadFromYAML(path, cfg))
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file falls back to defaults and env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvBotToken, "42:token")
		t.Setenv(EnvDBPath, "/tmp/x.db")

		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
		require.NoError(t, err)
		assert.Equal(t, "42:token", cfg.Bot.Token)
		assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
		assert.Equal(t, DefaultFanoutWorkers, cfg.Relay.FanoutWorkers)
		assert.Equal(t, DefaultModeratorMarker, cfg.Relay.ModeratorMarker)
		require.NoError(t, cfg.Validate())
	})

	t.Run("env overrides file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvLogLevel, "warn")
		t.Setenv(EnvOpsPort, "9999")

		cfg, err := LoadConfig(createTempConfigFile(t, fullYAML))
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, 9999, cfg.Ops.Port)
		assert.Equal(t, "123:abc", cfg.Bot.Token)
	})

	t.Run("invalid port in env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvOpsPort, "eighty")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadConfig(createTempConfigFile(t, "relay: {fanout_workers: [}"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Bot.Token = "1:x"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Bot.Token = "" }},
		{"placeholder token", func(c *Config) { c.Bot.Token = "YOUR_TELEGRAM_BOT_TOKEN" }},
		{"zero concurrency", func(c *Config) { c.Bot.MaxConcurrentUpdates = 0 }},
		{"bad moderator id", func(c *Config) { c.Bot.Moderators = []int64{5, -1} }},
		{"empty db path", func(c *Config) { c.Storage.Path = "" }},
		{"zero workers", func(c *Config) { c.Relay.FanoutWorkers = 0 }},
		{"bad port", func(c *Config) { c.Ops.Port = 70000 }},
		{"zero ttl", func(c *Config) { c.Exchange.RequestTTL = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("ops port ignored when disabled", func(t *testing.T) {
		cfg := valid()
		cfg.Ops.Enabled = false
		cfg.Ops.Port = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestAddress(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}
