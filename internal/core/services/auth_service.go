package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"coursehub/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService validates bearer tokens and carries the resolved actor through a
// request context. Token issuance exists for tooling and tests; user accounts
// live elsewhere.
type AuthService interface {
	GenerateToken(userID domain.UserID, displayName string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	WithActor(ctx context.Context, userID domain.UserID) context.Context
	ActorFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"name"`
	jwt.RegisteredClaims
}

type actorKey struct{}

type authService struct {
	jwtSecret      []byte
	issuer         string
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret, issuer string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		issuer:         issuer,
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(userID domain.UserID, displayName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	// Older tokens only carry the subject.
	if claims.UserID == "" {
		claims.UserID = domain.UserID(claims.Subject)
	}
	if strings.TrimSpace(string(claims.UserID)) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) WithActor(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func (s *authService) ActorFromContext(ctx context.Context) (domain.UserID, error) {
	userID, ok := ctx.Value(actorKey{}).(domain.UserID)
	if !ok || userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}
