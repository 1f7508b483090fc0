package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"memtex-backend/internal/chat/domain"
	memdomain "memtex-backend/internal/memory/domain"
	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	mem     memdomain.Memory
	err     error
	gotUser string
}

func (s *stubRetriever) Retrieve(ctx context.Context, userID, query, provider string) (memdomain.Memory, error) {
	s.gotUser = userID
	return s.mem, s.err
}

type sliceStream struct {
	chunks []string
	err    error // returned after chunks
	closed bool
}

func (s *sliceStream) Next() (string, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// stubLLM answers attempts by model name.
type stubLLM struct {
	attempts []ai.Attempt
	openErr  map[string]error
	streams  map[string]*sliceStream

	mu      sync.Mutex
	opened  []string
	prompts []string
}

func (s *stubLLM) Attempts(rotation int) []ai.Attempt { return s.attempts }

func (s *stubLLM) Stream(ctx context.Context, a ai.Attempt, prompt string) (ai.TextStream, error) {
	s.mu.Lock()
	s.opened = append(s.opened, a.Model)
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if err := s.openErr[a.Model]; err != nil {
		return nil, err
	}
	st, ok := s.streams[a.Model]
	if !ok {
		return nil, errors.New("no stream configured")
	}
	return st, nil
}

func matrix(models ...string) []ai.Attempt {
	var out []ai.Attempt
	for _, k := range []string{"k1", "k2"} {
		for _, m := range models {
			out = append(out, ai.Attempt{Credential: ai.Credential{Provider: ai.ProviderGemini, Key: k}, Model: k + "/" + m})
		}
	}
	return out
}

func newOrchestrator(llm *stubLLM, ret *stubRetriever) *Orchestrator {
	cls := NewClassifier(&stubCompleter{out: "FACTUAL"}, 0, logger.Nop())
	return NewOrchestrator(cls, ret, llm, false, logger.Nop())
}

func collect(t *testing.T, seq func(func(string, error) bool)) ([]string, error) {
	t.Helper()
	var chunks []string
	for c, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func TestStreamYieldsChunksFromFirstWorkingAttempt(t *testing.T) {
	llm := &stubLLM{
		attempts: matrix("pro"),
		streams:  map[string]*sliceStream{"k1/pro": {chunks: []string{"Hel", "", "lo"}}},
	}
	ret := &stubRetriever{mem: memdomain.Memory{TopicSummaries: []string{"likes tea"}}}

	chunks, err := collect(t, newOrchestrator(llm, ret).Stream(context.Background(), "u1", "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "u1", ret.gotUser)
	assert.Equal(t, []string{"k1/pro"}, llm.opened)
	assert.Contains(t, llm.prompts[0], "- likes tea")
	assert.True(t, llm.streams["k1/pro"].closed)
}

func TestStreamFallsBackAcrossMatrix(t *testing.T) {
	llm := &stubLLM{
		attempts: matrix("pro", "flash"),
		openErr: map[string]error{
			"k1/pro":   errors.New("googleapi: Error 429: quota"),
			"k1/flash": errors.New("dial tcp: connection refused"),
			"k2/pro":   errors.New("invalid model"),
		},
		streams: map[string]*sliceStream{"k2/flash": {chunks: []string{"ok"}}},
	}
	chunks, err := collect(t, newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, chunks)
	assert.Equal(t, []string{"k1/pro", "k1/flash", "k2/pro", "k2/flash"}, llm.opened)
}

func TestStreamExhaustionYieldsSingleNotice(t *testing.T) {
	quota := errors.New("429 Too Many Requests")
	llm := &stubLLM{attempts: matrix("pro", "flash"), openErr: map[string]error{}}
	for _, a := range llm.attempts {
		llm.openErr[a.Model] = quota
	}

	chunks, err := collect(t, newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{ExhaustedNotice}, chunks)
	assert.Len(t, llm.opened, 4)
}

func TestStreamAdvancesWhenStreamFailsBeforeFirstChunk(t *testing.T) {
	llm := &stubLLM{
		attempts: matrix("pro"),
		streams: map[string]*sliceStream{
			"k1/pro": {err: errors.New("resource exhausted")},
			"k2/pro": {chunks: []string{"second"}},
		},
	}
	chunks, err := collect(t, newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, chunks)
}

func TestStreamSurfacesMidStreamFailure(t *testing.T) {
	llm := &stubLLM{
		attempts: matrix("pro"),
		streams: map[string]*sliceStream{
			"k1/pro": {chunks: []string{"partial"}, err: errors.New("connection reset")},
			"k2/pro": {chunks: []string{"never"}},
		},
	}
	chunks, err := collect(t, newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", nil))
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, chunks)
	assert.Equal(t, []string{"k1/pro"}, llm.opened)
}

func TestStreamSurfacesRetrievalFailure(t *testing.T) {
	llm := &stubLLM{attempts: matrix("pro")}
	chunks, err := collect(t, newOrchestrator(llm, &stubRetriever{err: errors.New("qdrant down")}).Stream(context.Background(), "u1", "hi", nil))
	require.Error(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, llm.opened)
}

func TestStreamStopsWhenConsumerBreaks(t *testing.T) {
	s := &sliceStream{chunks: []string{"a", "b", "c"}}
	llm := &stubLLM{attempts: matrix("pro"), streams: map[string]*sliceStream{"k1/pro": s}}

	var got []string
	for c, err := range newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", nil) {
		require.NoError(t, err)
		got = append(got, c)
		break
	}
	assert.Equal(t, []string{"a"}, got)
	assert.True(t, s.closed)
	assert.Equal(t, []string{"b", "c"}, s.chunks)
	assert.Len(t, llm.opened, 1)
}

func TestStreamIsLazy(t *testing.T) {
	ret := &stubRetriever{}
	llm := &stubLLM{attempts: matrix("pro")}
	_ = newOrchestrator(llm, ret).Stream(context.Background(), "u1", "hi", nil)
	assert.Empty(t, ret.gotUser)
	assert.Empty(t, llm.opened)
}

func TestStreamIncludesHistoryInPrompt(t *testing.T) {
	llm := &stubLLM{attempts: matrix("pro"), streams: map[string]*sliceStream{"k1/pro": {}}}
	history := []domain.Turn{{Role: domain.RoleUser, Content: "earlier question"}}
	_, err := collect(t, newOrchestrator(llm, &stubRetriever{}).Stream(context.Background(), "u1", "hi", history))
	require.NoError(t, err)
	assert.Contains(t, llm.prompts[0], "USER: earlier question")
	assert.Contains(t, llm.prompts[0], ReasoningHint(QueryFactual))
}
