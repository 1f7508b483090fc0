package ai

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicMaxTokens = 2048

// AnthropicService implements Generator with the Claude Messages API.
type AnthropicService struct {
	client      anthropic.Client
	temperature float64
}

func NewAnthropicService(apiKey string, temperature float64) *AnthropicService {
	return &AnthropicService{
		// Retries are handled by the fallback matrix.
		client:      anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		temperature: temperature,
	}
}

func (a *AnthropicService) params(model, prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

func (a *AnthropicService) Generate(ctx context.Context, model, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, a.params(model, prompt))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Stream reads ahead to the first text delta so that request failures are
// returned here instead of from Next.
func (a *AnthropicService) Stream(ctx context.Context, model, prompt string) (TextStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &anthropicStream{
		stream: a.client.Messages.NewStreaming(ctx, a.params(model, prompt)),
		cancel: cancel,
	}
	first, err := s.Next()
	if err != nil && err != io.EOF {
		s.Close()
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	s.pending = first
	s.eof = err == io.EOF
	return s, nil
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel  context.CancelFunc
	pending string
	eof     bool
}

func (s *anthropicStream) Next() (string, error) {
	if s.pending != "" {
		out := s.pending
		s.pending = ""
		return out, nil
	}
	if s.eof {
		return "", io.EOF
	}
	for s.stream.Next() {
		event := s.stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					return delta.Text, nil
				}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", err
	}
	s.eof = true
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
