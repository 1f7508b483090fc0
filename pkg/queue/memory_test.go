package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"memtex-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueDedupAndComplete(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), 2)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := fastJob(t, "c1")
	ok, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.False(t, ok)

	var calls atomic.Int32
	go q.Consume(ctx, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return q.State("summary-c1") == "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryQueueRetriesUpToAttempts(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), 1)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, fastJob(t, "c2"))
	require.NoError(t, err)

	var calls atomic.Int32
	go q.Consume(ctx, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("boom")
	})

	require.Eventually(t, func() bool { return q.State("summary-c2") == "failed" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	// A kept failure can be queued again and runs a fresh set of attempts.
	ok, err := q.Enqueue(ctx, fastJob(t, "c2"))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Eventually(t, func() bool { return calls.Load() == 6 }, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), 1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(context.Background(), fastJob(t, "c3"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSummaryProducerUsesDeterministicID(t *testing.T) {
	q := NewMemoryQueue(logger.Nop(), 1)
	defer q.Close()
	p := NewSummaryProducer(q, logger.Nop())

	added, err := p.EnqueueSummary(context.Background(), "c9", "u1", "gemini")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = p.EnqueueSummary(context.Background(), "c9", "u1", "gemini")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, "waiting", q.State("summary-c9"))
	assert.Len(t, q.jobs, 1)
}
