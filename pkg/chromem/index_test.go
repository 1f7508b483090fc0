package chromem

import (
	"context"
	"testing"

	"memtex-backend/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, idx *Index) {
	t.Helper()
	require.NoError(t, idx.Upsert(context.Background(), []vectorindex.Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{Type: "conversation", Provider: "chatgpt", RefID: "s1", UserID: "u1"}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Payload: vectorindex.Payload{Type: "topic", Provider: "claude", RefID: "t1", UserID: "u1"}},
		{ID: "c", Vector: []float32{1, 0, 0}, Payload: vectorindex.Payload{Type: "conversation", Provider: "chatgpt", RefID: "s2", UserID: "u2"}},
	}))
}

func TestSearchIsScopedToTenant(t *testing.T) {
	idx := New("test")
	seed(t, idx)

	hits, err := idx.Search(context.Background(), vectorindex.SearchRequest{
		Vector: []float32{1, 0, 0},
		Limit:  10,
		Filter: vectorindex.TenantFilter("u1", ""),
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "u1", h.Payload.UserID)
	}
	assert.Equal(t, "a", hits[0].ID)
}

func TestSearchNarrowsByProvider(t *testing.T) {
	idx := New("test")
	seed(t, idx)

	hits, err := idx.Search(context.Background(), vectorindex.SearchRequest{
		Vector: []float32{1, 0, 0},
		Filter: vectorindex.TenantFilter("u1", "claude"),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t1", hits[0].Payload.RefID)
}

func TestSearchRequiresTenant(t *testing.T) {
	idx := New("test")
	_, err := idx.Search(context.Background(), vectorindex.SearchRequest{Vector: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, vectorindex.ErrMissingTenant)
}

func TestSearchOnEmptyIndex(t *testing.T) {
	idx := New("test")
	hits, err := idx.Search(context.Background(), vectorindex.SearchRequest{Vector: []float32{1, 0, 0}, Filter: vectorindex.TenantFilter("u1", "")})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScrollAndDelete(t *testing.T) {
	idx := New("test")
	seed(t, idx)

	page, err := idx.Scroll(context.Background(), vectorindex.ScrollRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Points, 2)
	assert.Equal(t, "c", page.NextOffset)

	page, err = idx.Scroll(context.Background(), vectorindex.ScrollRequest{Limit: 2, Offset: page.NextOffset})
	require.NoError(t, err)
	require.Len(t, page.Points, 1)
	assert.Empty(t, page.NextOffset)

	require.NoError(t, idx.Delete(context.Background(), []string{"a", "c"}))
	assert.Equal(t, 1, idx.Len())
}
