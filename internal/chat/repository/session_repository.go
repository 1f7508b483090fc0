package repository

import (
	"context"
	"errors"
	"time"

	"memtex-backend/internal/chat/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionRepository defines data access for chat sessions
type SessionRepository interface {
	Create(ctx context.Context, s *domain.ChatSession) error
	// FindByID returns the session when owned by userID, or nil
	FindByID(ctx context.Context, userID, id string) (*domain.ChatSession, error)
	Save(ctx context.Context, s *domain.ChatSession) error
	List(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.ChatSession{})
}

func (r *sessionRepository) Create(ctx context.Context, s *domain.ChatSession) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) FindByID(ctx context.Context, userID, id string) (*domain.ChatSession, error) {
	var s domain.ChatSession
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) Save(ctx context.Context, s *domain.ChatSession) error {
	s.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(s).Error
}

// List omits the transcript; sidebars only need titles
func (r *sessionRepository) List(ctx context.Context, userID string, limit int) ([]*domain.ChatSession, error) {
	var rows []*domain.ChatSession
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "title", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *sessionRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&domain.ChatSession{})
	return res.RowsAffected > 0, res.Error
}
