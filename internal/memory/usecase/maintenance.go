package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memtex-backend/internal/memory/repository"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/metrics"
	"memtex-backend/pkg/vectorindex"
)

const (
	sweepPageSize   = 100
	repairBatchSize = 200
)

// SummaryEnqueuer re-queues summarization for a conversation.
type SummaryEnqueuer interface {
	EnqueueSummary(ctx context.Context, conversationID, userID, provider string) (bool, error)
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

// Maintenance reconciles the vector index with the relational store.
type Maintenance struct {
	index      vectorindex.Index
	convos     repository.ConversationSummaryRepository
	topics     repository.TopicSummaryRepository
	enqueuer   SummaryEnqueuer
	repairWait time.Duration
	log        *logger.Logger
	now        func() time.Time
}

func NewMaintenance(
	index vectorindex.Index,
	convos repository.ConversationSummaryRepository,
	topics repository.TopicSummaryRepository,
	enqueuer SummaryEnqueuer,
	repairWait time.Duration,
	log *logger.Logger,
) *Maintenance {
	return &Maintenance{
		index:      index,
		convos:     convos,
		topics:     topics,
		enqueuer:   enqueuer,
		repairWait: repairWait,
		log:        log.With("service", "Maintenance"),
		now:        time.Now,
	}
}

// Sweep deletes points whose referenced summary no longer exists in either
// summary table.
func (m *Maintenance) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var dangling []string
	offset := ""
	for {
		page, err := m.index.Scroll(ctx, vectorindex.ScrollRequest{Limit: sweepPageSize, Offset: offset})
		if err != nil {
			return res, fmt.Errorf("failed to scroll vectors: %w", err)
		}
		res.Scanned += len(page.Points)

		ids, err := m.danglingPoints(ctx, page.Points)
		if err != nil {
			return res, err
		}
		dangling = append(dangling, ids...)

		if page.NextOffset == "" || len(page.Points) == 0 {
			break
		}
		offset = page.NextOffset
	}

	// Deleting after the scan keeps scroll offsets stable.
	for start := 0; start < len(dangling); start += sweepPageSize {
		end := min(start+sweepPageSize, len(dangling))
		if err := m.index.Delete(ctx, dangling[start:end]); err != nil {
			return res, fmt.Errorf("failed to delete dangling vectors: %w", err)
		}
		res.Deleted += end - start
		metrics.SweepDeleted.Add(float64(end - start))
	}

	m.log.Info("dangling sweep complete", "scanned", res.Scanned, "deleted", res.Deleted)
	return res, nil
}

func (m *Maintenance) danglingPoints(ctx context.Context, points []vectorindex.Point) ([]string, error) {
	if len(points) == 0 {
		return nil, nil
	}
	refs := make([]string, 0, len(points))
	for _, p := range points {
		if p.Payload.RefID != "" {
			refs = append(refs, p.Payload.RefID)
		}
	}

	convos, err := m.convos.ExistingIDs(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation summaries: %w", err)
	}
	topics, err := m.topics.ExistingIDs(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic summaries: %w", err)
	}

	var out []string
	for _, p := range points {
		ref := p.Payload.RefID
		if ref != "" && (convos[ref] || topics[ref]) {
			continue
		}
		out = append(out, p.ID)
	}
	return out, nil
}

// RepairPending re-enqueues summaries left unvectorized longer than the
// grace period. The worker resumes them instead of summarizing again.
func (m *Maintenance) RepairPending(ctx context.Context) (int, error) {
	pending, err := m.convos.FindPending(ctx, m.now().Add(-m.repairWait), repairBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find pending summaries: %w", err)
	}
	queued := 0
	for _, s := range pending {
		added, err := m.enqueuer.EnqueueSummary(ctx, s.ConversationID, s.UserID, s.Provider)
		if err != nil {
			m.log.Warn("failed to re-enqueue summary", "summary_id", s.ID, "error", err)
			continue
		}
		if added {
			queued++
		}
	}
	if queued > 0 {
		m.log.Info("re-enqueued pending summaries", "count", queued)
	}
	return queued, nil
}

// Run performs one full maintenance pass. Repair runs even when the sweep
// fails.
func (m *Maintenance) Run(ctx context.Context) error {
	_, sweepErr := m.Sweep(ctx)
	_, repairErr := m.RepairPending(ctx)
	return errors.Join(sweepErr, repairErr)
}
