package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"memtex-backend/internal/conversation/domain"
	"memtex-backend/internal/conversation/repository"
	"memtex-backend/pkg/logger"
)

const (
	DefaultListLimit = 20
	maxListLimit     = 100
)

var ErrSyncNotFound = errors.New("sync provider not found")

type conversationUsecase struct {
	repo     repository.ConversationRepository
	enqueuer JobEnqueuer
	log      *logger.Logger
}

func NewConversationUsecase(repo repository.ConversationRepository, enqueuer JobEnqueuer, log *logger.Logger) ConversationUsecase {
	return &conversationUsecase{
		repo:     repo,
		enqueuer: enqueuer,
		log:      log.With("service", "ConversationUsecase"),
	}
}

func parseProvider(s string) (domain.Provider, error) {
	p, ok := domain.ParseProvider(s)
	if !ok {
		valid := make([]string, 0, len(domain.Providers))
		for _, v := range domain.Providers {
			valid = append(valid, v.String())
		}
		return "", &ValidationError{
			Field:   "provider",
			Message: fmt.Sprintf("Invalid provider. Must be one of: %s", strings.Join(valid, ", ")),
		}
	}
	return p, nil
}

func (u *conversationUsecase) Sync(ctx context.Context, in SyncInput) (*SyncResult, error) {
	p, err := parseProvider(in.Provider)
	if err != nil {
		return nil, err
	}
	if len(in.Messages) == 0 {
		return nil, &ValidationError{Field: "messages", Message: "Messages array is required and cannot be empty"}
	}

	if in.ExternalID != "" {
		existing, err := u.repo.FindByExternalID(ctx, p, in.UserID, in.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing conversation: %w", err)
		}
		if existing != nil {
			u.log.Info("conversation already synced, skipping", "provider", p, "external_id", in.ExternalID)
			return &SyncResult{Conversation: existing}, nil
		}
	}

	conv := &domain.Conversation{
		UserID:   in.UserID,
		Title:    in.Title,
		Messages: normalizeMessages(in.Messages),
		Imported: true,
	}
	if conv.Title == "" {
		conv.Title = fmt.Sprintf("%s Sync", p)
	}
	if in.ExternalID != "" {
		ext := in.ExternalID
		conv.ExternalID = &ext
	}

	if err := u.repo.CreateWithSyncState(ctx, p, conv); err != nil {
		// A concurrent sync of the same external id may have won the unique index.
		if in.ExternalID != "" {
			if existing, ferr := u.repo.FindByExternalID(ctx, p, in.UserID, in.ExternalID); ferr == nil && existing != nil {
				return &SyncResult{Conversation: existing}, nil
			}
		}
		return nil, fmt.Errorf("failed to store conversation: %w", err)
	}

	if u.enqueuer != nil {
		if _, err := u.enqueuer.EnqueueSummary(ctx, conv.ID, in.UserID, p.String()); err != nil {
			return nil, fmt.Errorf("conversation %s stored but summary job not queued: %w", conv.ID, err)
		}
	}

	u.log.Info("conversation synced", "provider", p, "conversation_id", conv.ID, "user_id", in.UserID, "messages", len(conv.Messages))
	return &SyncResult{Conversation: conv, Created: true}, nil
}

func normalizeMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		if m.Role == "" {
			m.Role = domain.RoleUser
		}
		out = append(out, m)
	}
	return out
}

func (u *conversationUsecase) SyncBatch(ctx context.Context, userID, provider string, items []BatchItem) ([]BatchResult, error) {
	if _, err := parseProvider(provider); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "conversations", Message: "Conversations array is required"}
	}

	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		externalID := item.ID
		if externalID == "" {
			externalID = item.ExternalID
		}
		res, err := u.Sync(ctx, SyncInput{
			UserID:     userID,
			Provider:   provider,
			Title:      item.Title,
			ExternalID: externalID,
			Messages:   item.Messages,
		})
		if err != nil {
			results = append(results, BatchResult{Success: false, Title: item.Title, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{Success: true, ConversationID: res.Conversation.ID, Title: item.Title})
	}
	return results, nil
}

func (u *conversationUsecase) Providers(ctx context.Context, userID string) ([]*domain.SyncProvider, error) {
	return u.repo.ActiveProviders(ctx, userID)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (u *conversationUsecase) List(ctx context.Context, userID, provider string, limit, offset int) ([]*domain.Conversation, error) {
	p, err := parseProvider(provider)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	return u.repo.List(ctx, p, userID, clampLimit(limit), offset)
}

func (u *conversationUsecase) ListAll(ctx context.Context, userID string, limit int) (map[domain.Provider][]*domain.Conversation, error) {
	states, err := u.repo.ActiveProviders(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Provider][]*domain.Conversation, len(states))
	for _, s := range states {
		if _, ok := domain.ParseProvider(s.Provider.String()); !ok {
			continue
		}
		convs, err := u.repo.List(ctx, s.Provider, userID, clampLimit(limit), 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s conversations: %w", s.Provider, err)
		}
		out[s.Provider] = convs
	}
	return out, nil
}

func (u *conversationUsecase) Remove(ctx context.Context, userID, provider string) error {
	p, err := parseProvider(provider)
	if err != nil {
		return err
	}
	found, err := u.repo.DeactivateProvider(ctx, userID, p)
	if err != nil {
		return err
	}
	if !found {
		return ErrSyncNotFound
	}
	return nil
}

func (u *conversationUsecase) Get(ctx context.Context, userID, provider, id string) (*domain.Conversation, error) {
	p, err := parseProvider(provider)
	if err != nil {
		return nil, err
	}
	return u.repo.FindByID(ctx, p, userID, id)
}
