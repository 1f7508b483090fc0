package repository

import (
	"context"
	"errors"
	"time"

	"memtex-backend/internal/memory/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationSummaryRepository defines data access for conversation summaries
type ConversationSummaryRepository interface {
	Create(ctx context.Context, s *domain.ConversationSummary) error
	// FindByConversation returns the latest summary of a conversation owned by userID, or nil
	FindByConversation(ctx context.Context, userID, conversationID string) (*domain.ConversationSummary, error)
	MarkVectorized(ctx context.Context, id string) error
	// FindByIDs returns only rows owned by userID; foreign ids are dropped
	FindByIDs(ctx context.Context, userID string, ids []string) ([]*domain.ConversationSummary, error)
	// ExistingIDs reports which of ids still exist, regardless of owner
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// FindPending returns unvectorized summaries created before olderThan
	FindPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.ConversationSummary, error)
}

type conversationSummaryRepository struct {
	db *gorm.DB
}

func NewConversationSummaryRepository(db *gorm.DB) ConversationSummaryRepository {
	return &conversationSummaryRepository{db: db}
}

func (r *conversationSummaryRepository) Create(ctx context.Context, s *domain.ConversationSummary) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *conversationSummaryRepository) FindByConversation(ctx context.Context, userID, conversationID string) (*domain.ConversationSummary, error) {
	var s domain.ConversationSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *conversationSummaryRepository) MarkVectorized(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.ConversationSummary{}).
		Where("id = ?", id).
		Update("vectorized", true).Error
}

func (r *conversationSummaryRepository) FindByIDs(ctx context.Context, userID string, ids []string) ([]*domain.ConversationSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*domain.ConversationSummary
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ?", ids, userID).
		Find(&rows).Error
	return rows, err
}

func (r *conversationSummaryRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	return existingIDs(ctx, r.db, &domain.ConversationSummary{}, ids)
}

func (r *conversationSummaryRepository) FindPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.ConversationSummary, error) {
	var rows []*domain.ConversationSummary
	err := r.db.WithContext(ctx).
		Where("vectorized = ? AND created_at < ?", false, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func existingIDs(ctx context.Context, db *gorm.DB, model any, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	if err := db.WithContext(ctx).Model(model).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return nil, err
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}
