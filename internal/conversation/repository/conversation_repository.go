package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memtex-backend/internal/conversation/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository defines data access for provider conversations and
// sync state
type ConversationRepository interface {
	// FindByExternalID returns the user's conversation with externalID, or nil
	FindByExternalID(ctx context.Context, p domain.Provider, userID, externalID string) (*domain.Conversation, error)
	// FindByID returns the conversation when it belongs to userID, or nil
	FindByID(ctx context.Context, p domain.Provider, userID, id string) (*domain.Conversation, error)
	// CreateWithSyncState inserts the conversation and marks the provider
	// synced, in one transaction
	CreateWithSyncState(ctx context.Context, p domain.Provider, conv *domain.Conversation) error
	// List returns a page of the user's conversations, newest first
	List(ctx context.Context, p domain.Provider, userID string, limit, offset int) ([]*domain.Conversation, error)
	// ActiveProviders returns providers the user currently syncs, newest first
	ActiveProviders(ctx context.Context, userID string) ([]*domain.SyncProvider, error)
	// DeactivateProvider soft deletes a sync record
	DeactivateProvider(ctx context.Context, userID string, p domain.Provider) (bool, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new instance of conversationRepository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Migrate creates the per-provider conversation tables and the sync table.
func Migrate(db *gorm.DB) error {
	for _, p := range domain.Providers {
		table := p.Table()
		if err := db.Table(table).AutoMigrate(&domain.Conversation{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", table, err)
		}
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_user_external ON %s (user_id, external_id)", table, table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
		stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s (user_id, created_at)", table, table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to index %s: %w", table, err)
		}
	}
	return db.AutoMigrate(&domain.SyncProvider{})
}

func (r *conversationRepository) first(ctx context.Context, p domain.Provider, query string, args ...any) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.WithContext(ctx).Table(p.Table()).Where(query, args...).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	conv.Provider = p
	return &conv, nil
}

func (r *conversationRepository) FindByExternalID(ctx context.Context, p domain.Provider, userID, externalID string) (*domain.Conversation, error) {
	return r.first(ctx, p, "user_id = ? AND external_id = ?", userID, externalID)
}

func (r *conversationRepository) FindByID(ctx context.Context, p domain.Provider, userID, id string) (*domain.Conversation, error) {
	return r.first(ctx, p, "user_id = ? AND id = ?", userID, id)
}

func (r *conversationRepository) CreateWithSyncState(ctx context.Context, p domain.Provider, conv *domain.Conversation) error {
	now := time.Now()
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.Provider = p

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(p.Table()).Create(conv).Error; err != nil {
			return err
		}
		state := &domain.SyncProvider{
			UserID:     conv.UserID,
			Provider:   p,
			IsActive:   true,
			SyncedAt:   now,
			LastSyncAt: now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "last_sync_at"}),
		}).Create(state).Error
	})
}

func (r *conversationRepository) List(ctx context.Context, p domain.Provider, userID string, limit, offset int) ([]*domain.Conversation, error) {
	var convs []*domain.Conversation
	err := r.db.WithContext(ctx).
		Table(p.Table()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		c.Provider = p
	}
	return convs, nil
}

func (r *conversationRepository) ActiveProviders(ctx context.Context, userID string) ([]*domain.SyncProvider, error) {
	var states []*domain.SyncProvider
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("synced_at DESC").
		Find(&states).Error
	return states, err
}

func (r *conversationRepository) DeactivateProvider(ctx context.Context, userID string, p domain.Provider) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.SyncProvider{}).
		Where("user_id = ? AND provider = ?", userID, p).
		Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}
