package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"
)

// QueryType selects the reasoning mode of the final prompt.
type QueryType string

const (
	QueryFactual    QueryType = "FACTUAL"
	QueryReasoning  QueryType = "REASONING"
	QueryReflective QueryType = "REFLECTIVE"
	QueryCreative   QueryType = "CREATIVE"
	QueryMeta       QueryType = "META"
)

var queryTypes = map[QueryType]bool{
	QueryFactual:    true,
	QueryReasoning:  true,
	QueryReflective: true,
	QueryCreative:   true,
	QueryMeta:       true,
}

const classifyPrompt = `Classify the following user query into exactly ONE of these categories:

FACTUAL - asking for facts, definitions, direct answers
REASONING - requires logic, architecture, decisions, tradeoffs
REFLECTIVE - personal thinking, memory, past context, introspection
CREATIVE - storytelling, naming, writing, ideation
META - questions about the system, AI behavior, or process itself

Return ONLY the category name.

Query:
"""%s"""`

// Completer is a one-shot text completion, usually the cheap model pool.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, ai.Attempt, error)
}

type Classifier struct {
	llm     Completer
	timeout time.Duration
	log     *logger.Logger
}

func NewClassifier(llm Completer, timeout time.Duration, log *logger.Logger) *Classifier {
	return &Classifier{llm: llm, timeout: timeout, log: log.With("service", "Classifier")}
}

// Classify never fails: anything unexpected yields REASONING.
func (c *Classifier) Classify(ctx context.Context, query string) QueryType {
	if strings.TrimSpace(query) == "" || c.llm == nil {
		return QueryReasoning
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, _, err := c.llm.Complete(ctx, fmt.Sprintf(classifyPrompt, query))
	if err != nil {
		c.log.Warn("query classification failed", "error", err)
		return QueryReasoning
	}
	return ParseQueryType(out)
}

// ParseQueryType normalizes a model answer into a known label.
func ParseQueryType(s string) QueryType {
	label := QueryType(strings.ToUpper(strings.Trim(strings.TrimSpace(s), "\"'`.*")))
	if queryTypes[label] {
		return label
	}
	return QueryReasoning
}
