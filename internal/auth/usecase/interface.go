package usecase

import (
	"context"
	"errors"

	authdomain "memtex-backend/internal/auth/domain"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrKeyNotFound   = errors.New("api key not found")
)

// AuthUsecase resolves request principals. Session tokens are issued by an
// external identity provider; this service only verifies them.
type AuthUsecase interface {
	// ValidateToken verifies a bearer JWT and returns its user id
	ValidateToken(tokenString string) (string, error)
	// ValidateAPIKey resolves an x-api-key header value to its owner
	ValidateAPIKey(ctx context.Context, key string) (string, error)

	GenerateAPIKey(ctx context.Context, userID string) (*authdomain.UserAPIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*authdomain.UserAPIKey, error)
	DeleteAPIKey(ctx context.Context, userID, key string) error
}
