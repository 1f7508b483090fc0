package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"memtex-backend/pkg/logger"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	err   error
	calls int
	seen  []string
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, document string) (embeddings.Embedding, error) {
	f.calls++
	f.seen = append(f.seen, document)
	if f.err != nil {
		return nil, f.err
	}
	return embeddings.NewEmbeddingFromFloat32([]float32{0.1, 0.2, 0.3}), nil
}

func newPool(t *testing.T, es ...*fakeEmbedder) *Pool {
	t.Helper()
	qs := make([]QueryEmbedder, 0, len(es))
	for _, e := range es {
		qs = append(qs, e)
	}
	p, err := NewPool(logger.Nop(), qs)
	require.NoError(t, err)
	return p
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	e := &fakeEmbedder{}
	_, err := newPool(t, e).Embed(context.Background(), "   \n\t ")

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 0, e.calls)
}

func TestEmbedFallsBackOnQuota(t *testing.T) {
	first := &fakeEmbedder{err: errors.New("googleapi: Error 429: quota exceeded")}
	second := &fakeEmbedder{}

	vec, err := newPool(t, first, second).Embed(context.Background(), "hello   world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, []string{"hello world"}, second.seen)
}

func TestEmbedStopsOnNonRetryableError(t *testing.T) {
	first := &fakeEmbedder{err: errors.New("API key not valid")}
	second := &fakeEmbedder{}

	_, err := newPool(t, first, second).Embed(context.Background(), "hello")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 0, second.calls)
}

func TestEmbedAllCredentialsExhausted(t *testing.T) {
	quota := errors.New("429 rate limit")
	a := &fakeEmbedder{err: quota}
	b := &fakeEmbedder{err: quota}

	_, err := newPool(t, a, b).Embed(context.Background(), "hello")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, embErr.Reason, "exhausted")
	assert.ErrorIs(t, err, quota)
}

func TestEmbedCachesByNormalizedText(t *testing.T) {
	e := &fakeEmbedder{}
	p := newPool(t, e)

	_, err := p.Embed(context.Background(), "who am i")
	require.NoError(t, err)
	p.cache.Wait()
	_, err = p.Embed(context.Background(), "  who   am i ")
	require.NoError(t, err)

	assert.Equal(t, 1, e.calls)
}

func TestCleanCapsLength(t *testing.T) {
	assert.Len(t, []rune(Clean(strings.Repeat("é", maxInputRunes+10))), maxInputRunes)
	assert.Equal(t, "a b", Clean(" a \n\n b "))
}
