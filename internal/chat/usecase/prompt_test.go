package usecase

import (
	"fmt"
	"strings"
	"testing"

	"memtex-backend/internal/chat/domain"
	memdomain "memtex-backend/internal/memory/domain"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptWithEmptyMemory(t *testing.T) {
	p := BuildPrompt("What should I build next?", memdomain.EmptyMemory(), QueryFactual, nil)

	assert.True(t, strings.HasPrefix(p, systemPreamble))
	assert.NotContains(t, p, "LONG-TERM MEMORY:")
	assert.NotContains(t, p, "RELEVANT PAST CONTEXT:")
	assert.NotContains(t, p, "RECENT CONVERSATION:")
	assert.NotContains(t, p, "RAW EXCERPTS")
	assert.Contains(t, p, "REASONING MODE:\n"+ReasoningHint(QueryFactual))
	assert.True(t, strings.HasSuffix(p, "USER QUESTION:\nWhat should I build next?"))
}

func TestBuildPromptSectionsInOrder(t *testing.T) {
	mem := memdomain.Memory{
		TopicSummaries:        []string{"[claude] prefers Go"},
		ConversationSummaries: []string{"[chatgpt] chose Postgres"},
		RawExcerpts:           []string{"SELECT 1"},
	}
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}
	p := BuildPrompt("q", mem, QueryReasoning, history)

	order := []string{
		"LONG-TERM MEMORY:\n- [claude] prefers Go",
		"RELEVANT PAST CONTEXT:\n- [chatgpt] chose Postgres",
		"RECENT CONVERSATION:\nUSER: hi\nASSISTANT: hello",
		"RAW EXCERPTS (verbatim, may be partial):\n- SELECT 1",
		"REASONING MODE:",
		"USER QUESTION:\nq",
	}
	last := -1
	for _, s := range order {
		i := strings.Index(p, s)
		assert.Greater(t, i, last, s)
		last = i
	}
}

func TestBuildPromptKeepsLastTenTurns(t *testing.T) {
	var history []domain.Turn
	for i := 0; i < 14; i++ {
		history = append(history, domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("turn-%02d", i)})
	}
	p := BuildPrompt("q", memdomain.EmptyMemory(), QueryReasoning, history)
	assert.NotContains(t, p, "turn-03")
	assert.Contains(t, p, "turn-04")
	assert.Contains(t, p, "turn-13")
}

func TestReasoningHints(t *testing.T) {
	for label := range queryTypes {
		assert.NotEqual(t, defaultHint, ReasoningHint(label), label)
	}
	assert.Equal(t, defaultHint, ReasoningHint("OTHER"))
	assert.Contains(t, ReasoningHint(QueryReflective), "you")
}

func TestPreambleAddressesUserInSecondPerson(t *testing.T) {
	assert.Contains(t, systemPreamble, `"you"`)
	assert.NotContains(t, strings.ToLower(systemPreamble), "the user's name is")
}
