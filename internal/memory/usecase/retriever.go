package usecase

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"memtex-backend/internal/memory/domain"
	"memtex-backend/internal/memory/repository"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/metrics"
	"memtex-backend/pkg/vectorindex"

	"golang.org/x/sync/errgroup"
)

const (
	searchLimit     = 10
	searchAttempts  = 3
	identityProbe   = "user profile, identity, name, and background"
	retryBackoffArg = time.Second
)

var identityPattern = regexp.MustCompile(`(?i)name|my name|who am i|who is|about me`)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the memory relevant to a query, strictly scoped to one user.
type Retriever struct {
	embedder Embedder
	index    vectorindex.Index
	convos   repository.ConversationSummaryRepository
	topics   repository.TopicSummaryRepository
	log      *logger.Logger

	// sleep waits between search retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetriever(
	embedder Embedder,
	index vectorindex.Index,
	convos repository.ConversationSummaryRepository,
	topics repository.TopicSummaryRepository,
	log *logger.Logger,
) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		convos:   convos,
		topics:   topics,
		log:      log.With("service", "Retriever"),
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrieve embeds the query, searches the user's vectors (narrowed to
// provider when set), hydrates the referenced summaries and ranks them.
func (r *Retriever) Retrieve(ctx context.Context, userID, query, provider string) (domain.Memory, error) {
	if userID == "" {
		return domain.Memory{}, vectorindex.ErrMissingTenant
	}

	vectors, err := r.probeVectors(ctx, query)
	if err != nil {
		return domain.Memory{}, err
	}

	start := time.Now()
	hits, err := r.searchWithRetry(ctx, vectors, vectorindex.TenantFilter(userID, provider))
	if err != nil {
		return domain.Memory{}, fmt.Errorf("memory search failed: %w", err)
	}
	r.log.Debug("vector search complete", "user_id", userID, "hits", len(hits), "took", time.Since(start))

	if len(hits) == 0 {
		return domain.EmptyMemory(), nil
	}

	var convoIDs, topicIDs []string
	for _, h := range hits {
		switch h.Payload.Type {
		case vectorindex.TypeConversation:
			convoIDs = append(convoIDs, h.Payload.RefID)
		case vectorindex.TypeTopic:
			topicIDs = append(topicIDs, h.Payload.RefID)
		}
	}

	mem, err := r.hydrate(ctx, userID, convoIDs, topicIDs)
	if err != nil {
		return domain.Memory{}, err
	}
	metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
	return RankMemories(mem), nil
}

func (r *Retriever) probeVectors(ctx context.Context, query string) ([][]float32, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	vectors := [][]float32{vec}

	if identityPattern.MatchString(query) {
		personal, err := r.embedder.Embed(ctx, identityProbe)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, personal)
	}
	return vectors, nil
}

// searchWithRetry runs one search per probe vector in parallel and unions the
// hits by point id, first occurrence wins. Transient failures are retried
// with linear backoff.
func (r *Retriever) searchWithRetry(ctx context.Context, vectors [][]float32, filter vectorindex.Filter) ([]vectorindex.Hit, error) {
	var lastErr error
	for attempt := 0; attempt < searchAttempts; attempt++ {
		results := make([][]vectorindex.Hit, len(vectors))
		g, gctx := errgroup.WithContext(ctx)
		for i, vec := range vectors {
			g.Go(func() error {
				hits, err := r.index.Search(gctx, vectorindex.SearchRequest{
					Vector: vec,
					Limit:  searchLimit,
					Filter: filter,
				})
				results[i] = hits
				return err
			})
		}
		err := g.Wait()
		if err == nil {
			return unionHits(results), nil
		}

		lastErr = err
		if !vectorindex.IsTransient(err) || attempt == searchAttempts-1 {
			break
		}
		r.log.Warn("vector search failed, retrying", "attempt", attempt+1, "max", searchAttempts, "error", err)
		if serr := r.sleep(ctx, retryBackoffArg*time.Duration(attempt+1)); serr != nil {
			return nil, serr
		}
	}
	return nil, lastErr
}

func unionHits(results [][]vectorindex.Hit) []vectorindex.Hit {
	seen := make(map[string]bool)
	var out []vectorindex.Hit
	for _, hits := range results {
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			out = append(out, h)
		}
	}
	return out
}

// hydrate loads summary text for the referenced rows, filtering by userID
// again. Rows owned by anyone else are dropped without error.
func (r *Retriever) hydrate(ctx context.Context, userID string, convoIDs, topicIDs []string) (domain.Memory, error) {
	var (
		convos []*domain.ConversationSummary
		topics []*domain.TopicSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convos, err = r.convos.FindByIDs(gctx, userID, convoIDs)
		return err
	})
	g.Go(func() error {
		var err error
		topics, err = r.topics.FindByIDs(gctx, userID, topicIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Memory{}, fmt.Errorf("failed to hydrate memory: %w", err)
	}

	convoByID := make(map[string]*domain.ConversationSummary, len(convos))
	for _, c := range convos {
		if c.UserID == userID {
			convoByID[c.ID] = c
		}
	}
	topicByID := make(map[string]*domain.TopicSummary, len(topics))
	for _, t := range topics {
		if t.UserID == userID {
			topicByID[t.ID] = t
		}
	}

	mem := domain.EmptyMemory()
	for _, id := range dedupe(convoIDs) {
		if c, ok := convoByID[id]; ok {
			mem.ConversationSummaries = append(mem.ConversationSummaries, fmt.Sprintf("[%s] %s", c.Provider, c.Summary))
		}
	}
	for _, id := range dedupe(topicIDs) {
		t, ok := topicByID[id]
		if !ok {
			continue
		}
		if t.Provider != nil && *t.Provider != "" {
			mem.TopicSummaries = append(mem.TopicSummaries, fmt.Sprintf("[%s] %s", *t.Provider, t.Summary))
		} else {
			mem.TopicSummaries = append(mem.TopicSummaries, t.Summary)
		}
	}
	return mem, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
