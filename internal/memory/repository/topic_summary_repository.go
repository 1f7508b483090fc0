package repository

import (
	"context"
	"time"

	"memtex-backend/internal/memory/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TopicSummaryRepository defines data access for topic summaries
type TopicSummaryRepository interface {
	Create(ctx context.Context, s *domain.TopicSummary) error
	// FindByIDs returns only rows owned by userID; foreign ids are dropped
	FindByIDs(ctx context.Context, userID string, ids []string) ([]*domain.TopicSummary, error)
	// Latest returns the user's newest topic summaries
	Latest(ctx context.Context, userID string, limit int) ([]*domain.TopicSummary, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

type topicSummaryRepository struct {
	db *gorm.DB
}

func NewTopicSummaryRepository(db *gorm.DB) TopicSummaryRepository {
	return &topicSummaryRepository{db: db}
}

// Migrate creates the summary tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.ConversationSummary{}, &domain.TopicSummary{})
}

func (r *topicSummaryRepository) Create(ctx context.Context, s *domain.TopicSummary) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *topicSummaryRepository) FindByIDs(ctx context.Context, userID string, ids []string) ([]*domain.TopicSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*domain.TopicSummary
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ?", ids, userID).
		Find(&rows).Error
	return rows, err
}

func (r *topicSummaryRepository) Latest(ctx context.Context, userID string, limit int) ([]*domain.TopicSummary, error) {
	var rows []*domain.TopicSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *topicSummaryRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return existingIDs(ctx, r.db, &domain.TopicSummary{}, ids)
}
