// Package queue is the durable job queue between sync and summarization.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const JobSummarizeConversation = "summarize-conversation"

var ErrClosed = errors.New("queue closed")

// Options mirror the retry contract of a job.
type Options struct {
	Attempts         int           `json:"attempts"`
	Backoff          time.Duration `json:"backoff"`
	RemoveOnComplete bool          `json:"removeOnComplete"`
	RemoveOnFail     bool          `json:"removeOnFail"`
}

// DefaultOptions: 3 attempts, exponential backoff from 5s, keep failures for inspection.
var DefaultOptions = Options{
	Attempts:         3,
	Backoff:          5 * time.Second,
	RemoveOnComplete: true,
	RemoveOnFail:     false,
}

type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
	Opts    Options         `json:"opts"`
	Attempt int             `json:"attempt"`
}

// Decode unmarshals the job data into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("failed to decode job %s: %w", j.ID, err)
	}
	return nil
}

// Handler processes one job. A returned error schedules a retry until the
// job's attempts are used up.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	// Enqueue reports false when a job with the same id is already waiting,
	// running or scheduled for a retry. A kept completed or failed job with
	// the same id is reset and queued again.
	Enqueue(ctx context.Context, job Job) (bool, error)
	// Consume blocks running handlers until ctx ends.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

type SummarizePayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Provider       string `json:"provider"`
}

// SummaryJobID is the deterministic id that keeps at most one pending job per conversation.
func SummaryJobID(conversationID string) string {
	return "summary-" + conversationID
}

func NewSummarizeJob(p SummarizePayload) (Job, error) {
	if p.ConversationID == "" {
		return Job{}, fmt.Errorf("conversation id is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode summarize job: %w", err)
	}
	return Job{
		ID:   SummaryJobID(p.ConversationID),
		Name: JobSummarizeConversation,
		Data: data,
		Opts: DefaultOptions,
	}, nil
}

// BackoffFor returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base...
func BackoffFor(opts Options, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if opts.Backoff <= 0 {
		return 0
	}
	d := opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func normalize(job Job) Job {
	if job.Opts.Attempts <= 0 {
		job.Opts.Attempts = 1
	}
	return job
}
