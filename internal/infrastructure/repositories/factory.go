package repositories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"coursehub/internal/core/ports"
	"coursehub/internal/infrastructure/repositories/memory"
	redisrepo "coursehub/internal/infrastructure/repositories/redis"
	"coursehub/internal/infrastructure/repositories/sqlite"
	"coursehub/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory opens the roster store and, when enabled, the Redis client
// shared by the multi-instance components.
type RepositoryFactory struct {
	store       ports.Transactor
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory opens the configured store. A Redis connection failure
// is not fatal: the process falls back to single-instance operation.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	factory := &RepositoryFactory{store: store, logger: logger}
	logger.Infow("roster store opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, running as a single instance",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}
	if factory.redisClient == nil {
		logger.Info("channel commands stay local to this instance")
	}

	return factory, nil
}

func openStore(ctx context.Context, cfg *config.Config) (ports.Transactor, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.NewMemoryStore(), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		return sqlite.Open(ctx, cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (f *RepositoryFactory) Store() ports.Transactor { return f.store }

// Snapshotter returns the store's export side; both drivers provide one.
func (f *RepositoryFactory) Snapshotter() (ports.Snapshotter, bool) {
	snap, ok := f.store.(ports.Snapshotter)
	return snap, ok
}

// RedisClient returns nil when Redis is disabled or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client { return f.redisClient }

// HealthCheck pings the store and, when connected, Redis.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if err := f.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close closes Redis and then the store.
func (f *RepositoryFactory) Close() error {
	redisErr := redisrepo.CloseRedisClient(f.redisClient)
	if err := f.store.Close(); err != nil {
		return err
	}
	return redisErr
}
