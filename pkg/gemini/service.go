package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiService wraps one Gemini API key.
type GeminiService struct {
	client      *genai.Client
	temperature float32
}

func NewGeminiService(ctx context.Context, apiKey string, temperature float32) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiService{client: client, temperature: temperature}, nil
}

func (s *GeminiService) model(name string) *genai.GenerativeModel {
	m := s.client.GenerativeModel(name)
	m.SetTemperature(s.temperature)
	return m
}

// Generate returns the full text of a single completion.
func (s *GeminiService) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := s.model(model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned no content")
	}
	return strings.TrimSpace(text), nil
}

// Stream starts a streaming completion. The first response is read before
// returning so that quota and auth failures surface from this call.
func (s *GeminiService) Stream(ctx context.Context, model, prompt string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.model(model).GenerateContentStream(ctx, genai.Text(prompt))

	first, err := it.Next()
	if err == iterator.Done {
		return &Stream{it: it, cancel: cancel, eof: true}, nil
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &Stream{it: it, cancel: cancel, pending: responseText(first)}, nil
}

func (s *GeminiService) Close() error {
	return s.client.Close()
}

type Stream struct {
	it      *genai.GenerateContentResponseIterator
	cancel  context.CancelFunc
	pending string
	eof     bool
}

// Next returns the next non-empty chunk, or io.EOF.
func (s *Stream) Next() (string, error) {
	if s.pending != "" {
		out := s.pending
		s.pending = ""
		return out, nil
	}
	for !s.eof {
		resp, err := s.it.Next()
		if err == iterator.Done {
			s.eof = true
			break
		}
		if err != nil {
			return "", err
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *Stream) Close() error {
	s.cancel()
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}
