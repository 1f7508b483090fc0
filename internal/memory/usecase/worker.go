package usecase

import (
	"context"
	"fmt"
	"strings"

	convdomain "memtex-backend/internal/conversation/domain"
	"memtex-backend/internal/memory/domain"
	"memtex-backend/internal/memory/repository"
	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/metrics"
	"memtex-backend/pkg/queue"
	"memtex-backend/pkg/vectorindex"
)

const (
	maxSummaryMessages = 50
	fallbackSummaryLen = 1000
)

// Summarizer produces a one-shot completion and reports which model served it.
type Summarizer interface {
	Complete(ctx context.Context, prompt string) (string, ai.Attempt, error)
}

// ConversationReader loads a conversation owned by a user, or nil.
type ConversationReader interface {
	Get(ctx context.Context, userID, provider, id string) (*convdomain.Conversation, error)
}

// SummaryWorker turns a synced conversation into a vectorized summary.
type SummaryWorker struct {
	conversations ConversationReader
	summaries     repository.ConversationSummaryRepository
	summarizer    Summarizer
	embedder      Embedder
	index         vectorindex.Index
	log           *logger.Logger
}

func NewSummaryWorker(
	conversations ConversationReader,
	summaries repository.ConversationSummaryRepository,
	summarizer Summarizer,
	embedder Embedder,
	index vectorindex.Index,
	log *logger.Logger,
) *SummaryWorker {
	return &SummaryWorker{
		conversations: conversations,
		summaries:     summaries,
		summarizer:    summarizer,
		embedder:      embedder,
		index:         index,
		log:           log.With("service", "SummaryWorker"),
	}
}

// Handle processes one summarize-conversation job. A returned error lets the
// queue retry; jobs that can never succeed complete without effect.
func (w *SummaryWorker) Handle(ctx context.Context, job queue.Job) error {
	if job.Name != queue.JobSummarizeConversation {
		w.log.Warn("unknown job, skipping", "job_id", job.ID, "name", job.Name)
		metrics.WorkerJobs.WithLabelValues("skipped").Inc()
		return nil
	}
	var p queue.SummarizePayload
	if err := job.Decode(&p); err != nil {
		w.log.Error("malformed job, skipping", "job_id", job.ID, "error", err)
		metrics.WorkerJobs.WithLabelValues("skipped").Inc()
		return nil
	}

	outcome, err := w.process(ctx, p)
	if err != nil {
		metrics.WorkerJobs.WithLabelValues("failed").Inc()
		return err
	}
	metrics.WorkerJobs.WithLabelValues(outcome).Inc()
	return nil
}

func (w *SummaryWorker) process(ctx context.Context, p queue.SummarizePayload) (string, error) {
	if _, ok := convdomain.ParseProvider(p.Provider); !ok {
		w.log.Warn("unknown provider, skipping", "conversation_id", p.ConversationID, "provider", p.Provider)
		return "skipped", nil
	}

	existing, err := w.summaries.FindByConversation(ctx, p.UserID, p.ConversationID)
	if err != nil {
		return "", fmt.Errorf("failed to check existing summary: %w", err)
	}
	if existing != nil {
		if existing.Vectorized {
			w.log.Debug("summary already indexed", "conversation_id", p.ConversationID)
			return "duplicate", nil
		}
		w.log.Info("resuming unindexed summary", "summary_id", existing.ID)
		if err := w.indexSummary(ctx, existing); err != nil {
			return "", err
		}
		return "resumed", nil
	}

	conv, err := w.conversations.Get(ctx, p.UserID, p.Provider, p.ConversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation %s: %w", p.ConversationID, err)
	}
	if conv == nil {
		w.log.Warn("conversation not found, skipping", "conversation_id", p.ConversationID, "provider", p.Provider)
		return "skipped", nil
	}

	text := TranscriptText(conv.Messages)
	if strings.TrimSpace(text) == "" {
		w.log.Warn("conversation has no content, skipping", "conversation_id", p.ConversationID, "provider", p.Provider)
		return "skipped", nil
	}
	summary, model := w.summarize(ctx, p.Provider, text)

	row := &domain.ConversationSummary{
		UserID:         p.UserID,
		Provider:       p.Provider,
		ConversationID: p.ConversationID,
		Summary:        summary,
		ModelUsed:      model,
	}
	if err := w.summaries.Create(ctx, row); err != nil {
		return "", fmt.Errorf("failed to save summary: %w", err)
	}
	if err := w.indexSummary(ctx, row); err != nil {
		return "", err
	}

	w.log.Info("conversation summarized", "conversation_id", p.ConversationID, "model", model)
	return "completed", nil
}

func (w *SummaryWorker) summarize(ctx context.Context, provider, text string) (string, string) {
	prompt := fmt.Sprintf(
		"Summarize the following %s conversation concisely. Focus on decisions, insights, and facts. Tag any provider-specific context.\n\n%s",
		provider, text,
	)
	out, attempt, err := w.summarizer.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		w.log.Warn("summarization failed, storing truncated transcript", "error", err)
		return truncateRunes(text, fallbackSummaryLen), domain.ModelRawTruncation
	}
	return strings.TrimSpace(out), attempt.Model
}

// indexSummary embeds and upserts a summary, then flips its vectorized flag.
// The flag stays false when any step fails so the job can be retried.
func (w *SummaryWorker) indexSummary(ctx context.Context, s *domain.ConversationSummary) error {
	vec, err := w.embedder.Embed(ctx, s.Summary)
	if err != nil {
		return fmt.Errorf("failed to embed summary %s: %w", s.ID, err)
	}
	err = w.index.Upsert(ctx, []vectorindex.Point{{
		ID:     vectorindex.PointID(vectorindex.TypeConversation, s.ID),
		Vector: vec,
		Payload: vectorindex.Payload{
			Type:     vectorindex.TypeConversation,
			Provider: s.Provider,
			RefID:    s.ID,
			UserID:   s.UserID,
		},
	}})
	if err != nil {
		return fmt.Errorf("failed to index summary %s: %w", s.ID, err)
	}
	if err := w.summaries.MarkVectorized(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to flag summary %s: %w", s.ID, err)
	}
	return nil
}

// TranscriptText joins the contents of the first 50 messages.
func TranscriptText(msgs []convdomain.Message) string {
	if len(msgs) > maxSummaryMessages {
		msgs = msgs[:maxSummaryMessages]
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
