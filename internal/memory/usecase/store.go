package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"memtex-backend/internal/memory/domain"
	"memtex-backend/internal/memory/repository"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/vectorindex"
)

const (
	MinStoredLength = 120
	MaxStoredLength = 4000
	TopicGeneral    = "general"
)

var topicKeywords = []string{"architecture", "design", "system", "database", "memory"}

// MemoryStore persists ad hoc facts as topic summaries and indexes them.
type MemoryStore struct {
	embedder Embedder
	index    vectorindex.Index
	topics   repository.TopicSummaryRepository
	log      *logger.Logger
}

func NewMemoryStore(embedder Embedder, index vectorindex.Index, topics repository.TopicSummaryRepository, log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		index:    index,
		topics:   topics,
		log:      log.With("service", "MemoryStore"),
	}
}

// DetectTopic returns the first known keyword found in text, or "general".
func DetectTopic(text string) string {
	lower := strings.ToLower(text)
	for _, k := range topicKeywords {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return TopicGeneral
}

// StoreMemory saves text as a topic summary when its length is within
// bounds. It reports false without error when the text is skipped.
func (s *MemoryStore) StoreMemory(ctx context.Context, userID, text, provider string) (bool, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if userID == "" || n < MinStoredLength || n > MaxStoredLength {
		return false, nil
	}

	row := &domain.TopicSummary{
		UserID:  userID,
		Topic:   DetectTopic(text),
		Summary: text,
	}
	if provider != "" {
		row.Provider = &provider
	}
	if err := s.topics.Create(ctx, row); err != nil {
		return false, fmt.Errorf("failed to save memory: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("failed to embed memory %s: %w", row.ID, err)
	}

	payloadProvider := provider
	if payloadProvider == "" {
		payloadProvider = "unknown"
	}
	err = s.index.Upsert(ctx, []vectorindex.Point{{
		ID:     vectorindex.PointID(vectorindex.TypeTopic, row.ID),
		Vector: vec,
		Payload: vectorindex.Payload{
			Type:     vectorindex.TypeTopic,
			Provider: payloadProvider,
			RefID:    row.ID,
			UserID:   userID,
		},
	}})
	if err != nil {
		return false, fmt.Errorf("failed to index memory %s: %w", row.ID, err)
	}

	s.log.Debug("memory stored", "user_id", userID, "topic", row.Topic)
	return true, nil
}

// Latest lists the newest topic summaries of a user.
func (s *MemoryStore) Latest(ctx context.Context, userID string, limit int) ([]*domain.TopicSummary, error) {
	return s.topics.Latest(ctx, userID, limit)
}
