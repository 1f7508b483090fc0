package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	convdomain "memtex-backend/internal/conversation/domain"
	"memtex-backend/internal/memory/domain"
	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/queue"
	"memtex-backend/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	out     string
	err     error
	prompts []string
}

func (s *stubSummarizer) Complete(ctx context.Context, prompt string) (string, ai.Attempt, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", ai.Attempt{}, s.err
	}
	return s.out, ai.Attempt{Credential: ai.Credential{Provider: ai.ProviderGemini}, Model: "gemini-2.0-flash"}, nil
}

type stubConversations map[string]*convdomain.Conversation

func (s stubConversations) Get(ctx context.Context, userID, provider, id string) (*convdomain.Conversation, error) {
	c, ok := s[provider+"/"+id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	return c, nil
}

type failingUpsert struct {
	vectorindex.Index
}

func (failingUpsert) Upsert(ctx context.Context, points []vectorindex.Point) error {
	return errors.New("qdrant unavailable")
}

func newWorker(f *fixture, convs stubConversations, sum *stubSummarizer, idx vectorindex.Index) *SummaryWorker {
	if idx == nil {
		idx = f.index
	}
	return NewSummaryWorker(convs, f.convos, sum, f.embedder, idx, logger.Nop())
}

func summarizeJob(t *testing.T, convID, userID, provider string) queue.Job {
	t.Helper()
	job, err := queue.NewSummarizeJob(queue.SummarizePayload{ConversationID: convID, UserID: userID, Provider: provider})
	require.NoError(t, err)
	return job
}

func sampleConversations() stubConversations {
	return stubConversations{
		"chatgpt/c1": {
			ID:     "c1",
			UserID: "u1",
			Messages: []convdomain.Message{
				{Role: convdomain.RoleUser, Content: "We picked Postgres."},
				{Role: convdomain.RoleAssistant, Content: "Good, use row level security."},
			},
		},
	}
}

func TestWorkerSummarizesAndIndexes(t *testing.T) {
	f := newFixture(t)
	sum := &stubSummarizer{out: "  Chose Postgres with RLS.  "}
	w := newWorker(f, sampleConversations(), sum, nil)

	require.NoError(t, w.Handle(context.Background(), summarizeJob(t, "c1", "u1", "chatgpt")))

	row, err := f.convos.FindByConversation(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Chose Postgres with RLS.", row.Summary)
	assert.Equal(t, "gemini-2.0-flash", row.ModelUsed)
	assert.True(t, row.Vectorized)

	require.Len(t, sum.prompts, 1)
	assert.Contains(t, sum.prompts[0], "Summarize the following chatgpt conversation")
	assert.Contains(t, sum.prompts[0], "We picked Postgres.\nGood, use row level security.")

	page, err := f.index.Scroll(context.Background(), vectorindex.ScrollRequest{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)
	assert.Equal(t, vectorindex.PointID(vectorindex.TypeConversation, row.ID), page.Points[0].ID)
	assert.Equal(t, vectorindex.Payload{
		Type: vectorindex.TypeConversation, Provider: "chatgpt", RefID: row.ID, UserID: "u1",
	}, page.Points[0].Payload)
}

func TestWorkerFallsBackToTruncatedTranscript(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("ü", 1500)
	convs := stubConversations{"claude/c2": {ID: "c2", UserID: "u1", Messages: []convdomain.Message{{Role: convdomain.RoleUser, Content: long}}}}
	w := newWorker(f, convs, &stubSummarizer{err: ai.ErrExhausted}, nil)

	require.NoError(t, w.Handle(context.Background(), summarizeJob(t, "c2", "u1", "claude")))

	row, err := f.convos.FindByConversation(context.Background(), "u1", "c2")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, domain.ModelRawTruncation, row.ModelUsed)
	assert.Equal(t, strings.Repeat("ü", fallbackSummaryLen), row.Summary)
	assert.True(t, row.Vectorized)
}

func TestWorkerSkipsUnknownProviderAndMissingConversation(t *testing.T) {
	f := newFixture(t)
	sum := &stubSummarizer{out: "x"}
	w := newWorker(f, sampleConversations(), sum, nil)
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, summarizeJob(t, "c1", "u1", "bard")))
	require.NoError(t, w.Handle(ctx, summarizeJob(t, "missing", "u1", "chatgpt")))
	// another user's conversation looks missing
	require.NoError(t, w.Handle(ctx, summarizeJob(t, "c1", "u2", "chatgpt")))

	assert.Empty(t, sum.prompts)
	assert.Equal(t, 0, f.index.Len())
}

func TestWorkerSkipsConversationWithoutContent(t *testing.T) {
	f := newFixture(t)
	sum := &stubSummarizer{out: "x"}
	convs := stubConversations{
		"gemini/empty":  {ID: "empty", UserID: "u1"},
		"gemini/blanks": {ID: "blanks", UserID: "u1", Messages: []convdomain.Message{{Role: convdomain.RoleUser, Content: "  "}}},
	}
	w := newWorker(f, convs, sum, nil)
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, summarizeJob(t, "empty", "u1", "gemini")))
	require.NoError(t, w.Handle(ctx, summarizeJob(t, "blanks", "u1", "gemini")))

	assert.Empty(t, sum.prompts)
	row, err := f.convos.FindByConversation(ctx, "u1", "empty")
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.Equal(t, 0, f.index.Len())
}

func TestWorkerIsNoopForIndexedSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := &domain.ConversationSummary{UserID: "u1", Provider: "chatgpt", ConversationID: "c1", Summary: "done", Vectorized: true}
	require.NoError(t, f.convos.Create(ctx, existing))

	sum := &stubSummarizer{out: "again"}
	require.NoError(t, newWorker(f, sampleConversations(), sum, nil).Handle(ctx, summarizeJob(t, "c1", "u1", "chatgpt")))
	assert.Empty(t, sum.prompts)
	assert.Equal(t, 0, f.index.Len())
}

func TestWorkerResumesUnindexedSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := &domain.ConversationSummary{UserID: "u1", Provider: "chatgpt", ConversationID: "c1", Summary: "half done"}
	require.NoError(t, f.convos.Create(ctx, existing))

	sum := &stubSummarizer{out: "again"}
	require.NoError(t, newWorker(f, sampleConversations(), sum, nil).Handle(ctx, summarizeJob(t, "c1", "u1", "chatgpt")))
	assert.Empty(t, sum.prompts)
	assert.Equal(t, []string{"half done"}, f.embedder.seen)

	row, err := f.convos.FindByConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, row.ID)
	assert.True(t, row.Vectorized)
	assert.Equal(t, 1, f.index.Len())
}

func TestWorkerLeavesSummaryUnflaggedWhenIndexingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := newWorker(f, sampleConversations(), &stubSummarizer{out: "sum"}, failingUpsert{f.index})

	err := w.Handle(ctx, summarizeJob(t, "c1", "u1", "chatgpt"))
	require.Error(t, err)

	row, err := f.convos.FindByConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.Vectorized)

	// a retry resumes the same row
	w = newWorker(f, sampleConversations(), &stubSummarizer{out: "sum"}, nil)
	require.NoError(t, w.Handle(ctx, summarizeJob(t, "c1", "u1", "chatgpt")))
	row, err = f.convos.FindByConversation(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.True(t, row.Vectorized)
}

func TestWorkerReturnsErrorWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = errors.New("embedding quota")
	err := newWorker(f, sampleConversations(), &stubSummarizer{out: "sum"}, nil).
		Handle(context.Background(), summarizeJob(t, "c1", "u1", "chatgpt"))
	assert.Error(t, err)
}

func TestWorkerIgnoresUnknownJobs(t *testing.T) {
	f := newFixture(t)
	w := newWorker(f, sampleConversations(), &stubSummarizer{}, nil)
	assert.NoError(t, w.Handle(context.Background(), queue.Job{ID: "x", Name: "resize-image"}))
	assert.NoError(t, w.Handle(context.Background(), queue.Job{ID: "y", Name: queue.JobSummarizeConversation, Data: []byte("{")}))
}

func TestTranscriptTextUsesFirstFiftyMessages(t *testing.T) {
	msgs := make([]convdomain.Message, 60)
	for i := range msgs {
		msgs[i] = convdomain.Message{Role: convdomain.RoleUser, Content: fmt.Sprintf("m%d", i)}
	}
	text := TranscriptText(msgs)
	parts := strings.Split(text, "\n")
	assert.Len(t, parts, maxSummaryMessages)
	assert.Equal(t, "m49", parts[len(parts)-1])
}
