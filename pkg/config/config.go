package config

import (
	"fmt"
	"os"
	"time"

	"coursehub/pkg/circuitbreaker"
	"coursehub/pkg/retry"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"          env:"COURSEHUB_SERVER_ADDRESS"`
		ReadTimeout     time.Duration `yaml:"read_timeout"     env:"COURSEHUB_SERVER_READ_TIMEOUT"`
		WriteTimeout    time.Duration `yaml:"write_timeout"    env:"COURSEHUB_SERVER_WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"COURSEHUB_SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Signal struct {
		PingInterval   time.Duration `yaml:"ping_interval"    env:"COURSEHUB_SIGNAL_PING_INTERVAL"`
		PongTimeout    time.Duration `yaml:"pong_timeout"     env:"COURSEHUB_SIGNAL_PONG_TIMEOUT"`
		WriteTimeout   time.Duration `yaml:"write_timeout"    env:"COURSEHUB_SIGNAL_WRITE_TIMEOUT"`
		MaxMessageSize int64         `yaml:"max_message_size" env:"COURSEHUB_SIGNAL_MAX_MESSAGE_SIZE"`
		AllowedOrigins []string      `yaml:"allowed_origins"  env:"COURSEHUB_SIGNAL_ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"signal"`

	Store struct {
		Driver    string        `yaml:"driver"     env:"COURSEHUB_STORE_DRIVER"` // sqlite | memory
		Path      string        `yaml:"path"       env:"COURSEHUB_STORE_PATH"`
		TxTimeout time.Duration `yaml:"tx_timeout" env:"COURSEHUB_STORE_TX_TIMEOUT"`
	} `yaml:"store"`

	Redis struct {
		Enabled     bool          `yaml:"enabled"      env:"COURSEHUB_REDIS_ENABLED"`
		Address     string        `yaml:"address"      env:"COURSEHUB_REDIS_ADDRESS"`
		Password    string        `yaml:"password"     env:"COURSEHUB_REDIS_PASSWORD"`
		DB          int           `yaml:"db"           env:"COURSEHUB_REDIS_DB"`
		PoolSize    int           `yaml:"pool_size"    env:"COURSEHUB_REDIS_POOL_SIZE"`
		PresenceTTL time.Duration `yaml:"presence_ttl" env:"COURSEHUB_REDIS_PRESENCE_TTL"`
	} `yaml:"redis"`

	Channel struct {
		DispatchTimeout time.Duration         `yaml:"dispatch_timeout" env:"COURSEHUB_CHANNEL_DISPATCH_TIMEOUT"`
		RetryQueueSize  int                   `yaml:"retry_queue_size" env:"COURSEHUB_CHANNEL_RETRY_QUEUE_SIZE"`
		Retry           retry.Config          `yaml:"retry"`
		Breaker         circuitbreaker.Config `yaml:"breaker"`
	} `yaml:"channel"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"       env:"COURSEHUB_JWT_SECRET"`
		Issuer         string        `yaml:"issuer"           env:"COURSEHUB_JWT_ISSUER"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"COURSEHUB_ACCESS_TOKEN_TTL"`
	} `yaml:"auth"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"    env:"COURSEHUB_PROMETHEUS_ENABLED"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"COURSEHUB_HEALTH_CHECK_INTERVAL"`
		HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"  env:"COURSEHUB_HEALTH_CHECK_TIMEOUT"`
	} `yaml:"monitoring"`

	Backup struct {
		Enabled   bool          `yaml:"enabled"   env:"COURSEHUB_BACKUP_ENABLED"`
		Directory string        `yaml:"directory" env:"COURSEHUB_BACKUP_DIRECTORY"`
		Interval  time.Duration `yaml:"interval"  env:"COURSEHUB_BACKUP_INTERVAL"`
		Retention time.Duration `yaml:"retention" env:"COURSEHUB_BACKUP_RETENTION"`
		LockTTL   time.Duration `yaml:"lock_ttl"  env:"COURSEHUB_BACKUP_LOCK_TTL"`
	} `yaml:"backup"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"      env:"COURSEHUB_TRACING_ENABLED"`
		JaegerURL   string  `yaml:"jaeger_url"   env:"COURSEHUB_JAEGER_URL"`
		Environment string  `yaml:"environment"  env:"COURSEHUB_ENVIRONMENT"`
		SampleRate  float64 `yaml:"sample_rate"  env:"COURSEHUB_TRACING_SAMPLE_RATE"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"  env:"COURSEHUB_LOG_LEVEL"`
		Format string `yaml:"format" env:"COURSEHUB_LOG_FORMAT"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled" env:"COURSEHUB_RATE_LIMIT_ENABLED"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second" env:"COURSEHUB_RATE_LIMIT_RPS"`
			Burst             int     `yaml:"burst"               env:"COURSEHUB_RATE_LIMIT_BURST"`
			MaxConcurrent     int     `yaml:"max_concurrent"      env:"COURSEHUB_RATE_LIMIT_MAX_CONCURRENT"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.MaxMessageSize <= 0 {
		return fmt.Errorf("signal.max_message_size must be > 0")
	}

	// Store
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path must not be empty when store.driver=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Store.TxTimeout <= 0 {
		return fmt.Errorf("store.tx_timeout must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.PresenceTTL <= 0 {
			return fmt.Errorf("redis.presence_ttl must be > 0 when redis.enabled=true")
		}
	}

	// Channel
	if c.Channel.DispatchTimeout <= 0 {
		return fmt.Errorf("channel.dispatch_timeout must be > 0")
	}
	if c.Channel.RetryQueueSize <= 0 {
		return fmt.Errorf("channel.retry_queue_size must be > 0")
	}
	if c.Channel.Retry.Enabled && c.Channel.Retry.MaxAttempts < 0 {
		return fmt.Errorf("channel.retry.max_attempts must be >= 0")
	}
	if c.Channel.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("channel.breaker.failure_threshold must be > 0")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Monitoring
	if c.Monitoring.HealthCheckTimeout <= 0 {
		return fmt.Errorf("monitoring.health_check_timeout must be > 0")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0")
		}
		if c.Backup.Retention < 0 {
			return fmt.Errorf("backup.retention must be >= 0")
		}
		if c.Backup.LockTTL <= 0 {
			return fmt.Errorf("backup.lock_ttl must be > 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageSize = 64 * 1024
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "data/coursehub.db"
	cfg.Store.TxTimeout = 5 * time.Second

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.PresenceTTL = 10 * time.Minute

	cfg.Channel.DispatchTimeout = 2 * time.Second
	cfg.Channel.RetryQueueSize = 256
	cfg.Channel.Retry = retry.DefaultConfig()
	cfg.Channel.Breaker = circuitbreaker.DefaultConfig()

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "coursehub"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 30 * time.Second
	cfg.Monitoring.HealthCheckTimeout = 2 * time.Second

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "data/backups"
	cfg.Backup.Interval = 6 * time.Hour
	cfg.Backup.Retention = 7 * 24 * time.Hour
	cfg.Backup.LockTTL = 5 * time.Minute

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

// applyEnvOverrides lets COURSEHUB_* variables replace file values. Unset
// variables leave the current value alone.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
