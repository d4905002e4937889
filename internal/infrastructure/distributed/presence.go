package distributed

import (
	"context"
	"fmt"
	"time"

	"coursehub/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceRegistry tracks, across instances, which instances hold live
// connections for a user. Entries expire so a crashed instance stops counting
// after ttl.
type PresenceRegistry struct {
	client     *redis.Client
	instanceID string
	prefix     string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

func NewPresenceRegistry(client *redis.Client, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *PresenceRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PresenceRegistry{
		client:     client,
		instanceID: instanceID,
		prefix:     "coursehub:presence:",
		ttl:        ttl,
		logger:     logger,
	}
}

// Register marks userID as connected to this instance.
func (r *PresenceRegistry) Register(ctx context.Context, userID domain.UserID) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.userKey(userID), r.instanceID)
	pipe.Expire(ctx, r.userKey(userID), r.ttl)
	pipe.SAdd(ctx, r.instanceKey(), string(userID))
	pipe.Expire(ctx, r.instanceKey(), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}
	return nil
}

// Unregister removes this instance from userID's presence set.
func (r *PresenceRegistry) Unregister(ctx context.Context, userID domain.UserID) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.userKey(userID), r.instanceID)
	pipe.SRem(ctx, r.instanceKey(), string(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister presence: %w", err)
	}
	return nil
}

// IsOnline reports whether any instance holds a connection for userID.
func (r *PresenceRegistry) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	n, err := r.client.SCard(ctx, r.userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	return n > 0, nil
}

// Cleanup removes every presence entry owned by this instance, e.g. on shutdown.
func (r *PresenceRegistry) Cleanup(ctx context.Context) error {
	users, err := r.client.SMembers(ctx, r.instanceKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance presence: %w", err)
	}
	for _, u := range users {
		if err := r.client.SRem(ctx, r.userKey(domain.UserID(u)), r.instanceID).Err(); err != nil {
			r.logger.Warnw("failed to clear presence during cleanup", "user_id", u, "error", err)
		}
	}
	return r.client.Del(ctx, r.instanceKey()).Err()
}

func (r *PresenceRegistry) userKey(userID domain.UserID) string {
	return r.prefix + "user:" + string(userID)
}

func (r *PresenceRegistry) instanceKey() string {
	return r.prefix + "instance:" + r.instanceID
}
