// Package chromem is an in-process vectorindex.Index backed by chromem-go.
// It serves local development and tests where no Qdrant instance is running.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"memtex-backend/pkg/vectorindex"
)

type Index struct {
	db   *chromem.DB
	name string

	mu         sync.RWMutex
	collection *chromem.Collection
	payloads   map[string]vectorindex.Payload
}

func New(collection string) *Index {
	if collection == "" {
		collection = "memory_vectors"
	}
	return &Index{
		db:       chromem.NewDB(),
		name:     collection,
		payloads: make(map[string]vectorindex.Payload),
	}
}

func (x *Index) EnsureCollection(ctx context.Context) error {
	_, err := x.getCollection()
	return err
}

func (x *Index) getCollection() (*chromem.Collection, error) {
	x.mu.RLock()
	col := x.collection
	x.mu.RUnlock()
	if col != nil {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.collection != nil {
		return x.collection, nil
	}
	// Embeddings are always supplied by the caller.
	col, err := x.db.GetOrCreateCollection(x.name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collection = col
	return col, nil
}

func (x *Index) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if err := vectorindex.ValidatePoints(points); err != nil {
		return err
	}
	col, err := x.getCollection()
	if err != nil {
		return err
	}
	for _, p := range points {
		doc := chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.RefID,
			Embedding: p.Vector,
			Metadata:  toMetadata(p.Payload),
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document %s: %w", p.ID, err)
		}
		x.mu.Lock()
		x.payloads[p.ID] = p.Payload
		x.mu.Unlock()
	}
	return nil
}

func (x *Index) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.Hit, error) {
	if err := vectorindex.ValidateSearch(req); err != nil {
		return nil, err
	}
	col, err := x.getCollection()
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	where := make(map[string]string, len(req.Filter.Must))
	for _, c := range req.Filter.Must {
		where[c.Key] = c.Value
	}

	// chromem-go rejects nResults above the filtered document count.
	var results []chromem.Result
	for n := limit; n >= 1; n-- {
		results, err = col.QueryEmbedding(ctx, req.Vector, n, where, nil)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		if n == 1 {
			return nil, nil
		}
	}

	hits := make([]vectorindex.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, vectorindex.Hit{
			ID:      r.ID,
			Score:   float64(r.Similarity),
			Payload: fromMetadata(r.Metadata),
		})
	}
	return hits, nil
}

// Scroll pages through point ids in lexical order. Offset is the first id of
// the page to return.
func (x *Index) Scroll(ctx context.Context, req vectorindex.ScrollRequest) (vectorindex.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	x.mu.RLock()
	ids := make([]string, 0, len(x.payloads))
	for id := range x.payloads {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	sort.Strings(ids)

	start := 0
	if req.Offset != "" {
		start = sort.SearchStrings(ids, req.Offset)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	page := vectorindex.ScrollPage{Points: make([]vectorindex.Point, 0, end-start)}
	x.mu.RLock()
	for _, id := range ids[start:end] {
		page.Points = append(page.Points, vectorindex.Point{ID: id, Payload: x.payloads[id]})
	}
	x.mu.RUnlock()
	if end < len(ids) {
		page.NextOffset = ids[end]
	}
	return page, nil
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := x.getCollection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	x.mu.Lock()
	for _, id := range ids {
		delete(x.payloads, id)
	}
	x.mu.Unlock()
	return nil
}

// Len reports how many points the index holds.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.payloads)
}

func toMetadata(p vectorindex.Payload) map[string]string {
	return map[string]string{
		vectorindex.KeyType:     p.Type,
		vectorindex.KeyProvider: p.Provider,
		vectorindex.KeyRefID:    p.RefID,
		vectorindex.KeyUserID:   p.UserID,
	}
}

func fromMetadata(m map[string]string) vectorindex.Payload {
	return vectorindex.Payload{
		Type:     m[vectorindex.KeyType],
		Provider: m[vectorindex.KeyProvider],
		RefID:    m[vectorindex.KeyRefID],
		UserID:   m[vectorindex.KeyUserID],
	}
}

// String is used in startup logs.
func (x *Index) String() string {
	return "chromem:" + x.name + "(" + strconv.Itoa(x.Len()) + " points)"
}
