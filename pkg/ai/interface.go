package ai

import (
	"context"
	"errors"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
)

// ErrExhausted is returned once every (credential, model) pair has failed.
var ErrExhausted = errors.New("ai: all credential and model combinations failed")

// Credential is one API key for one provider. Ollama runs without a key.
type Credential struct {
	Provider ProviderType
	Key      string
}

// Attempt is one cell of the fallback matrix.
type Attempt struct {
	Credential Credential
	Model      string
}

// Label identifies an attempt in logs without exposing the key.
func (a Attempt) Label() string {
	return string(a.Credential.Provider) + "/" + a.Model
}

// TextStream yields decoded text chunks. Next returns io.EOF after the last
// chunk. Close releases the upstream connection and may be called early.
type TextStream interface {
	Next() (string, error)
	Close() error
}

// Generator is a model client bound to a single credential.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	// Stream must report request-level failures (auth, quota, bad model)
	// from the call itself, not from the first Next.
	Stream(ctx context.Context, model, prompt string) (TextStream, error)
}

// GeneratorFactory builds a Generator for a credential.
type GeneratorFactory func(ctx context.Context, cred Credential) (Generator, error)
