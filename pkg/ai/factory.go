package ai

import (
	"context"
	"fmt"
	"io"

	"memtex-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Temperature float32

	// Ollama runtime getters, so the settings API can retarget the local model
	GetOllamaBaseURL func() string
	GetOllamaModel   func() string
}

// NewGeneratorFactory returns the factory used by FallbackService.
// Switch providers by changing the credential's Provider.
func NewGeneratorFactory(cfg Config) GeneratorFactory {
	return func(ctx context.Context, cred Credential) (Generator, error) {
		switch cred.Provider {
		case ProviderGemini:
			svc, err := gemini.NewGeminiService(ctx, cred.Key, cfg.Temperature)
			if err != nil {
				return nil, err
			}
			return geminiGenerator{svc}, nil

		case ProviderAnthropic:
			if cred.Key == "" {
				return nil, fmt.Errorf("anthropic api key is required")
			}
			return NewAnthropicService(cred.Key, float64(cfg.Temperature)), nil

		case ProviderOllama:
			if cfg.GetOllamaBaseURL == nil || cfg.GetOllamaModel == nil {
				return NewOllamaService("", ""), nil
			}
			return NewOllamaServiceWithGetters(cfg.GetOllamaBaseURL, cfg.GetOllamaModel), nil

		default:
			return nil, fmt.Errorf("unknown ai provider %q", cred.Provider)
		}
	}
}

type geminiGenerator struct {
	svc *gemini.GeminiService
}

func (g geminiGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	return g.svc.Generate(ctx, model, prompt)
}

func (g geminiGenerator) Stream(ctx context.Context, model, prompt string) (TextStream, error) {
	s, err := g.svc.Stream(ctx, model, prompt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Collect drains a stream into a single string.
func Collect(s TextStream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
}
