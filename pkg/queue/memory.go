package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"memtex-backend/pkg/logger"
)

// MemoryQueue is an in-process queue backed by a buffered channel. Jobs do
// not survive a restart; use it for development and tests.
type MemoryQueue struct {
	log         *logger.Logger
	jobs        chan Job
	concurrency int

	mu     sync.Mutex
	known  map[string]string // job id -> state
	closed bool
	timers []*time.Timer
}

func NewMemoryQueue(log *logger.Logger, concurrency int) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &MemoryQueue{
		log:         log.With("service", "MemoryQueue"),
		jobs:        make(chan Job, 500),
		concurrency: concurrency,
		known:       make(map[string]string),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	job = normalize(job)

	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	switch q.known[job.ID] {
	case "waiting", "active", "delayed":
		return false, nil
	}
	select {
	case q.jobs <- job:
		q.known[job.ID] = "waiting"
		return true, nil
	default:
		return false, fmt.Errorf("queue full, job %s rejected", job.ID)
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					q.process(ctx, job, handler)
				}
			}
		}(i)
	}
	q.log.Info("started workers", "count", q.concurrency)
	wg.Wait()
	return nil
}

func (q *MemoryQueue) process(ctx context.Context, job Job, handler Handler) {
	job.Attempt++
	q.setState(job.ID, "active")

	err := handler(ctx, job)
	switch {
	case err == nil:
		if job.Opts.RemoveOnComplete {
			q.forget(job.ID)
		} else {
			q.setState(job.ID, "completed")
		}
	case job.Attempt < job.Opts.Attempts:
		delay := BackoffFor(job.Opts, job.Attempt)
		q.setState(job.ID, "delayed")
		q.log.Warn("job failed, retrying", "job_id", job.ID, "attempt", job.Attempt, "delay", delay, "error", err)
		q.mu.Lock()
		if !q.closed {
			q.timers = append(q.timers, time.AfterFunc(delay, func() { q.requeue(job) }))
		}
		q.mu.Unlock()
	default:
		if job.Opts.RemoveOnFail {
			q.forget(job.ID)
		} else {
			q.setState(job.ID, "failed")
		}
		q.log.Error("job failed permanently", "job_id", job.ID, "attempts", job.Attempt, "error", err)
	}
}

func (q *MemoryQueue) requeue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- job:
		q.known[job.ID] = "waiting"
	default:
		q.known[job.ID] = "failed"
		q.log.Error("queue full, retry dropped", "job_id", job.ID)
	}
}

// State reports the lifecycle state of a job, or "" when unknown.
func (q *MemoryQueue) State(id string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.known[id]
}

func (q *MemoryQueue) setState(id, state string) {
	q.mu.Lock()
	q.known[id] = state
	q.mu.Unlock()
}

func (q *MemoryQueue) forget(id string) {
	q.mu.Lock()
	delete(q.known, id)
	q.mu.Unlock()
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
	close(q.jobs)
	return nil
}
