package queue

import (
	"context"

	"memtex-backend/pkg/logger"
)

// SummaryProducer enqueues summarize-conversation jobs.
type SummaryProducer struct {
	q   Queue
	log *logger.Logger
}

func NewSummaryProducer(q Queue, log *logger.Logger) *SummaryProducer {
	return &SummaryProducer{q: q, log: log.With("service", "SummaryProducer")}
}

// EnqueueSummary queues one job per conversation and reports whether it was
// added; a job already pending for the same conversation is left as is.
func (p *SummaryProducer) EnqueueSummary(ctx context.Context, conversationID, userID, provider string) (bool, error) {
	job, err := NewSummarizeJob(SummarizePayload{
		ConversationID: conversationID,
		UserID:         userID,
		Provider:       provider,
	})
	if err != nil {
		return false, err
	}
	added, err := p.q.Enqueue(ctx, job)
	if err != nil {
		return false, err
	}
	if !added {
		p.log.Info("summary job already pending", "job_id", job.ID)
		return false, nil
	}
	p.log.Debug("summary job queued", "job_id", job.ID, "user_id", userID, "provider", provider)
	return true, nil
}
