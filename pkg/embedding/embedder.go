// Package embedding turns text into vectors through a pool of Gemini
// embedding credentials, falling back to the next key on quota or network
// failures.
package embedding

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"memtex-backend/pkg/ai"
	"memtex-backend/pkg/logger"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	"github.com/dgraph-io/ristretto"
)

const maxInputRunes = 8000

// EmbeddingError is returned when text cannot be embedded at all.
type EmbeddingError struct {
	Reason string
	Cause  error
}

func (e *EmbeddingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("embedding failed: %s: %v", e.Reason, e.Cause)
	}
	return "embedding failed: " + e.Reason
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// QueryEmbedder is the part of a chroma-go embedding function the pool uses.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, document string) (embeddings.Embedding, error)
}

type Pool struct {
	log       *logger.Logger
	embedders []QueryEmbedder
	primary   embeddings.EmbeddingFunction
	cache     *ristretto.Cache
}

// NewGeminiPool builds one Gemini embedding function per API key, in order.
func NewGeminiPool(log *logger.Logger, keys []string, model string) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one embedding api key is required")
	}
	embedders := make([]QueryEmbedder, 0, len(keys))
	var primary embeddings.EmbeddingFunction
	for i, key := range keys {
		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(key),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(model)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function %d: %w", i, err)
		}
		if primary == nil {
			primary = ef
		}
		embedders = append(embedders, ef)
	}
	p, err := NewPool(log, embedders)
	if err != nil {
		return nil, err
	}
	p.primary = primary
	return p, nil
}

func NewPool(log *logger.Logger, embedders []QueryEmbedder) (*Pool, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 25,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Pool{
		log:       log.With("service", "EmbeddingPool"),
		embedders: embedders,
		cache:     cache,
	}, nil
}

// EmbeddingFunction returns the first credential's function, used to
// configure vector collections that embed server-side.
func (p *Pool) EmbeddingFunction() embeddings.EmbeddingFunction {
	return p.primary
}

// Embed returns the vector for text. Identical normalized inputs are served
// from cache.
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil, &EmbeddingError{Reason: "text is empty"}
	}
	if cached, ok := p.cache.Get(cleaned); ok {
		return cached.([]float32), nil
	}
	if len(p.embedders) == 0 {
		return nil, &EmbeddingError{Reason: "no embedding credentials configured"}
	}

	var lastErr error
	for i, e := range p.embedders {
		emb, err := e.EmbedQuery(ctx, cleaned)
		if err == nil {
			vec := emb.ContentAsFloat32()
			if len(vec) == 0 {
				lastErr = fmt.Errorf("credential %d returned an empty vector", i)
				continue
			}
			p.cache.Set(cleaned, vec, int64(len(vec)*4))
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if ai.IsQuotaError(err) || ai.IsConnectionError(err) {
			p.log.Warn("embedding credential unavailable, trying next", "index", i, "error", err)
			continue
		}
		return nil, &EmbeddingError{Reason: "embedding request rejected", Cause: err}
	}
	return nil, &EmbeddingError{Reason: "all embedding credentials exhausted", Cause: lastErr}
}

var whitespace = regexp.MustCompile(`\s+`)

// Clean collapses whitespace and caps the input length.
func Clean(text string) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) > maxInputRunes {
		text = string([]rune(text)[:maxInputRunes])
	}
	return text
}
