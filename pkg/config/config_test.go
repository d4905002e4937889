package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"unknown store driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }},
		{"zero tx timeout", func(c *Config) { c.Store.TxTimeout = 0 }},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"zero dispatch timeout", func(c *Config) { c.Channel.DispatchTimeout = 0 }},
		{"zero retry queue", func(c *Config) { c.Channel.RetryQueueSize = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Channel.Breaker.FailureThreshold = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"backup without directory", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Directory = ""
		}},
		{"backup zero interval", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Interval = 0
		}},
		{"tracing sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{"http rps must be > 0", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"http burst must be > 0", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.Burst = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MemoryStoreNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Store.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9000"
store:
  driver: memory
  tx_timeout: 3s
channel:
  dispatch_timeout: 500ms
  retry:
    enabled: true
    max_attempts: 7
  breaker:
    failure_threshold: 2
`), 0o600))

	t.Setenv("COURSEHUB_JWT_SECRET", "from-env")
	t.Setenv("COURSEHUB_SERVER_ADDRESS", ":9100")
	t.Setenv("COURSEHUB_SIGNAL_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Store.TxTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Channel.DispatchTimeout)
	assert.Equal(t, 7, cfg.Channel.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Channel.Breaker.FailureThreshold)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Signal.AllowedOrigins)
	// Untouched sections keep their defaults.
	assert.Equal(t, 256, cfg.Channel.RetryQueueSize)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "store.driver")
}
