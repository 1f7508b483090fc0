package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"

	"memtex-backend/internal/chat/domain"
	memdomain "memtex-backend/internal/memory/domain"
	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"
)

// ExhaustedNotice is the single chunk emitted once every credential and
// model combination has failed.
const ExhaustedNotice = "⚠️ **Memtex Service Notice**: All available AI keys are currently rate-limited. Please try again in a few minutes."

// MemoryRetriever returns the ranked memory of a user for a query.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID, query, provider string) (memdomain.Memory, error)
}

// StreamProvider opens streams over the fallback matrix.
type StreamProvider interface {
	Attempts(rotation int) []ai.Attempt
	Stream(ctx context.Context, a ai.Attempt, prompt string) (ai.TextStream, error)
}

type Orchestrator struct {
	classifier *Classifier
	retriever  MemoryRetriever
	llm        StreamProvider
	rotation   func() int
	log        *logger.Logger
}

// NewOrchestrator wires the query pipeline. With rotate set, each request
// starts the fallback matrix at a random credential.
func NewOrchestrator(classifier *Classifier, retriever MemoryRetriever, llm StreamProvider, rotate bool, log *logger.Logger) *Orchestrator {
	rotation := func() int { return 0 }
	if rotate {
		rotation = func() int { return rand.IntN(1 << 16) }
	}
	return &Orchestrator{
		classifier: classifier,
		retriever:  retriever,
		llm:        llm,
		rotation:   rotation,
		log:        log.With("service", "Orchestrator"),
	}
}

// Stream classifies, retrieves, builds the prompt and yields answer chunks.
// Nothing runs until the sequence is iterated, and breaking out of the loop
// cancels the upstream request.
//
// A non-nil error element is terminal: either retrieval failed before any
// output, or the model failed after some chunks were already delivered.
func (o *Orchestrator) Stream(ctx context.Context, userID, query string, history []domain.Turn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		label := o.classifier.Classify(ctx, query)
		o.log.Debug("query classified", "user_id", userID, "type", label)

		mem, err := o.retriever.Retrieve(ctx, userID, query, "")
		if err != nil {
			yield("", fmt.Errorf("failed to retrieve memory: %w", err))
			return
		}

		prompt := BuildPrompt(query, mem, label, history)

		for _, a := range o.llm.Attempts(o.rotation()) {
			if ctx.Err() != nil {
				return
			}
			s, err := o.llm.Stream(ctx, a, prompt)
			if err != nil {
				o.logFailure(a, err)
				continue
			}

			sent, stopped, err := pump(s, yield)
			if stopped {
				return
			}
			if err == nil {
				return
			}
			if sent > 0 {
				yield("", fmt.Errorf("stream interrupted on %s: %w", a.Label(), err))
				return
			}
			o.logFailure(a, err)
		}

		o.log.Error("all generation attempts failed", "user_id", userID)
		yield(ExhaustedNotice, nil)
	}
}

// pump forwards chunks from s until EOF, an error, or the consumer stops.
func pump(s ai.TextStream, yield func(string, error) bool) (sent int, stopped bool, err error) {
	defer s.Close()
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sent, false, nil
		}
		if err != nil {
			return sent, false, err
		}
		if chunk == "" {
			continue
		}
		sent++
		if !yield(chunk, nil) {
			return sent, true, nil
		}
	}
}

func (o *Orchestrator) logFailure(a ai.Attempt, err error) {
	if ai.IsQuotaError(err) {
		o.log.Info("rate limited, trying next option", "attempt", a.Label())
		return
	}
	o.log.Warn("stream failed, trying next option", "attempt", a.Label(), "error", err)
}
