package usecase

import (
	"context"
	"fmt"
	"strings"

	authdomain "memtex-backend/internal/auth/domain"
	"memtex-backend/internal/auth/repository"
	"memtex-backend/pkg/config"
	"memtex-backend/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	keyRepo repository.APIKeyRepository
	config  *config.Config
	log     *logger.Logger
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(keyRepo repository.APIKeyRepository, cfg *config.Config, log *logger.Logger) AuthUsecase {
	return &authUsecase{
		keyRepo: keyRepo,
		config:  cfg,
		log:     log.With("service", "AuthUsecase"),
	}
}

func (u *authUsecase) ValidateToken(tokenString string) (string, error) {
	if u.config.JWTSecret == "" {
		return "", fmt.Errorf("%w: signing secret not configured", ErrInvalidToken)
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	// Identity providers put the user in "sub"; older tokens use "user_id".
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	if userID, _ := claims["user_id"].(string); userID != "" {
		return userID, nil
	}
	return "", ErrInvalidToken
}

func (u *authUsecase) ValidateAPIKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidAPIKey
	}
	found, err := u.keyRepo.FindByKey(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to look up api key: %w", err)
	}
	if found == nil {
		return "", ErrInvalidAPIKey
	}
	return found.UserID, nil
}

func (u *authUsecase) GenerateAPIKey(ctx context.Context, userID string) (*authdomain.UserAPIKey, error) {
	key := &authdomain.UserAPIKey{
		Key:    authdomain.APIKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", ""),
		UserID: userID,
	}
	if err := u.keyRepo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
	u.log.Info("api key generated", "user_id", userID)
	return key, nil
}

func (u *authUsecase) ListAPIKeys(ctx context.Context, userID string) ([]*authdomain.UserAPIKey, error) {
	return u.keyRepo.ListByUser(ctx, userID)
}

func (u *authUsecase) DeleteAPIKey(ctx context.Context, userID, key string) error {
	deleted, err := u.keyRepo.Delete(ctx, userID, key)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if !deleted {
		return ErrKeyNotFound
	}
	return nil
}
