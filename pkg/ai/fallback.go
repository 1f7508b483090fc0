package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/metrics"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pool is one provider's credentials and its models in preference order.
type Pool struct {
	Provider ProviderType
	Keys     []string
	Models   []string
}

// BuildAttempts flattens pools into the ordered fallback matrix. Credentials
// are listed across pools in order, rotated to begin at start (mod the number
// of credentials); each credential then tries its pool's models in order.
// A pool without keys contributes a single keyless credential (Ollama).
func BuildAttempts(pools []Pool, start int) []Attempt {
	type cred struct {
		c      Credential
		models []string
	}
	var creds []cred
	for _, p := range pools {
		if len(p.Models) == 0 {
			continue
		}
		if len(p.Keys) == 0 {
			if p.Provider == ProviderOllama {
				creds = append(creds, cred{Credential{Provider: p.Provider}, p.Models})
			}
			continue
		}
		for _, k := range p.Keys {
			creds = append(creds, cred{Credential{Provider: p.Provider, Key: k}, p.Models})
		}
	}
	if len(creds) == 0 {
		return nil
	}

	offset := start % len(creds)
	if offset < 0 {
		offset += len(creds)
	}
	out := make([]Attempt, 0, len(creds)*2)
	for i := range creds {
		c := creds[(offset+i)%len(creds)]
		for _, m := range c.models {
			out = append(out, Attempt{Credential: c.c, Model: m})
		}
	}
	return out
}

// FallbackService routes generation across the fallback matrix. Generators
// are built lazily per credential and reused.
type FallbackService struct {
	log     *logger.Logger
	pools   []Pool
	factory GeneratorFactory

	mu         sync.Mutex
	generators map[Credential]Generator
}

func NewFallbackService(log *logger.Logger, pools []Pool, factory GeneratorFactory) *FallbackService {
	return &FallbackService{
		log:        log.With("service", "AIFallback"),
		pools:      pools,
		factory:    factory,
		generators: make(map[Credential]Generator),
	}
}

// Attempts returns the matrix starting at the given credential rotation.
func (f *FallbackService) Attempts(rotation int) []Attempt {
	return BuildAttempts(f.pools, rotation)
}

func (f *FallbackService) generator(ctx context.Context, cred Credential) (Generator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.generators[cred]; ok {
		return g, nil
	}
	g, err := f.factory(ctx, cred)
	if err != nil {
		return nil, err
	}
	f.generators[cred] = g
	return g, nil
}

// Stream opens a streaming generation for a single attempt.
func (f *FallbackService) Stream(ctx context.Context, a Attempt, prompt string) (TextStream, error) {
	g, err := f.generator(ctx, a.Credential)
	if err != nil {
		return nil, fmt.Errorf("build %s generator: %w", a.Credential.Provider, err)
	}
	s, err := g.Stream(ctx, a.Model, prompt)
	recordAttempt(a, err)
	return s, err
}

// Complete runs a one-shot generation, walking the matrix until a pair
// succeeds. Every failure advances; the last error is wrapped in ErrExhausted.
func (f *FallbackService) Complete(ctx context.Context, prompt string) (string, Attempt, error) {
	var lastErr error
	for _, a := range f.Attempts(0) {
		if err := ctx.Err(); err != nil {
			return "", Attempt{}, err
		}
		g, err := f.generator(ctx, a.Credential)
		if err != nil {
			lastErr = err
			continue
		}
		out, err := g.Generate(ctx, a.Model, prompt)
		recordAttempt(a, err)
		if err == nil {
			return out, a, nil
		}
		lastErr = err
		if IsQuotaError(err) {
			f.log.Info("rate limited, trying next option", "attempt", a.Label())
		} else {
			f.log.Warn("generation failed, trying next option", "attempt", a.Label(), "error", err)
		}
	}
	if lastErr == nil {
		return "", Attempt{}, ErrExhausted
	}
	return "", Attempt{}, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func recordAttempt(a Attempt, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsQuotaError(err):
		outcome = "quota"
	case IsConnectionError(err):
		outcome = "connection"
	default:
		outcome = "error"
	}
	metrics.FallbackAttempts.WithLabelValues(string(a.Credential.Provider), outcome).Inc()
}

// IsConnectionError checks if the error is a network/connection error
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsQuotaError checks if the error indicates API quota exhaustion (429)
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == 429 {
		return true
	}
	var aErr *anthropic.Error
	if errors.As(err, &aErr) && (aErr.StatusCode == 429 || aErr.StatusCode == 529) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
