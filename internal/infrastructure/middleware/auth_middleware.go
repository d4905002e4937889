package middleware

import (
	"context"
	"strings"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/internal/core/services"
	"coursehub/pkg/cache"
	apperrors "coursehub/pkg/errors"
	"coursehub/pkg/logger"
	"coursehub/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor_id"

// AuthMiddleware resolves the bearer token to an actor. The actor ID is put on
// the gin context and on the request context; the display name from the token
// is recorded in the user directory.
func AuthMiddleware(authService services.AuthService, recorder *ActorRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		if err := validation.ValidateDisplayName(claims.DisplayName); err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		ctx := authService.WithActor(c.Request.Context(), claims.UserID)
		ctx = logger.WithActorID(ctx, string(claims.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Set(actorKey, claims.UserID)

		if recorder != nil {
			recorder.Record(ctx, domain.User{ID: claims.UserID, DisplayName: claims.DisplayName})
		}
		c.Next()
	}
}

// ActorFromContext returns the actor set by AuthMiddleware, or "" when the
// request is unauthenticated.
func ActorFromContext(c *gin.Context) domain.UserID {
	v, ok := c.Get(actorKey)
	if !ok {
		return ""
	}
	actor, _ := v.(domain.UserID)
	return actor
}

// ActorRecorder writes token display names into the user directory. A name
// recorded by this process is not written again until its cache entry
// expires.
type ActorRecorder struct {
	store  ports.Transactor
	seen   *cache.Cache[domain.UserID, string]
	logger *zap.SugaredLogger
}

func NewActorRecorder(store ports.Transactor, seen *cache.Cache[domain.UserID, string], logger *zap.SugaredLogger) *ActorRecorder {
	return &ActorRecorder{store: store, seen: seen, logger: logger}
}

// Record upserts user unless the same name was recorded recently. Failures
// are logged; the request proceeds without a directory entry.
func (r *ActorRecorder) Record(ctx context.Context, user domain.User) {
	if prev, ok := r.seen.Get(user.ID); ok && prev == user.DisplayName {
		return
	}

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.Users().Upsert(ctx, user)
	})
	if err != nil {
		r.logger.Warnw("failed to record user", "user_id", user.ID, "error", err)
		return
	}
	r.seen.Set(user.ID, user.DisplayName)
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
