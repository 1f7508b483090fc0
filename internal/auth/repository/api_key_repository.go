package repository

import (
	"context"
	"errors"
	"time"

	authdomain "memtex-backend/internal/auth/domain"

	"gorm.io/gorm"
)

// APIKeyRepository defines data access for user API keys
type APIKeyRepository interface {
	// Create stores a new key
	Create(ctx context.Context, key *authdomain.UserAPIKey) error
	// FindByKey returns nil, nil when the key is unknown
	FindByKey(ctx context.Context, key string) (*authdomain.UserAPIKey, error)
	// ListByUser returns a user's keys, newest first
	ListByUser(ctx context.Context, userID string) ([]*authdomain.UserAPIKey, error)
	// Delete removes a key owned by userID and reports whether one was removed
	Delete(ctx context.Context, userID, key string) (bool, error)
}

type apiKeyRepository struct {
	db *gorm.DB
}

// NewAPIKeyRepository creates a new instance of apiKeyRepository
func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(ctx context.Context, key *authdomain.UserAPIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *apiKeyRepository) FindByKey(ctx context.Context, key string) (*authdomain.UserAPIKey, error) {
	var k authdomain.UserAPIKey
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &k, nil
}

func (r *apiKeyRepository) ListByUser(ctx context.Context, userID string) ([]*authdomain.UserAPIKey, error) {
	var keys []*authdomain.UserAPIKey
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

func (r *apiKeyRepository) Delete(ctx context.Context, userID, key string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Delete(&authdomain.UserAPIKey{})
	return res.RowsAffected > 0, res.Error
}
