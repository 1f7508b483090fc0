package chroma

import (
	"context"
	"fmt"
	"strconv"

	"memtex-backend/pkg/config"
	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/vectorindex"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// ChromaClient implements vectorindex.Index on a Chroma collection. Vectors
// are computed by the embedding pool and passed in explicitly; the collection
// still records the Gemini embedding function so that Chroma-side tooling
// embeds with the same model.
type ChromaClient struct {
	log        *logger.Logger
	client     chroma.Client
	embedFunc  embeddings.EmbeddingFunction
	name       string
	collection chroma.Collection
}

func NewChromaClient(log *logger.Logger, cfg *config.Config, embedFunc embeddings.EmbeddingFunction) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" && cfg.ChromaBaseURL == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY or CHROMA_BASE_URL is required")
	}

	baseURL := cfg.ChromaBaseURL
	if baseURL == "" {
		baseURL = chroma.ChromaCloudEndpoint
	}
	opts := []chroma.ClientOption{chroma.WithBaseURL(baseURL)}
	if cfg.ChromaAPIKey != "" {
		opts = append(opts, chroma.WithCloudAPIKey(cfg.ChromaAPIKey))
	}
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		opts = append(opts, chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant))
	} else if cfg.ChromaTenant != "" {
		opts = append(opts, chroma.WithTenant(cfg.ChromaTenant))
	}

	client, err := chroma.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	return &ChromaClient{
		log:       log.With("service", "ChromaIndex", "collection", cfg.VectorCollection),
		client:    client,
		embedFunc: embedFunc,
		name:      cfg.VectorCollection,
	}, nil
}

func (c *ChromaClient) EnsureCollection(ctx context.Context) error {
	if c.collection != nil {
		return nil
	}
	var opts []chroma.CreateCollectionOption
	if c.embedFunc != nil {
		opts = append(opts, chroma.WithEmbeddingFunctionCreate(c.embedFunc))
	}
	collection, err := c.client.GetOrCreateCollection(ctx, c.name, opts...)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	c.collection = collection
	c.log.Info("chroma collection ready")
	return nil
}

func (c *ChromaClient) getCollection(ctx context.Context) (chroma.Collection, error) {
	if err := c.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	return c.collection, nil
}

func (c *ChromaClient) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := vectorindex.ValidatePoints(points); err != nil {
		return err
	}
	collection, err := c.getCollection(ctx)
	if err != nil {
		return err
	}

	ids := make([]chroma.DocumentID, 0, len(points))
	metas := make([]chroma.DocumentMetadata, 0, len(points))
	embs := make([]embeddings.Embedding, 0, len(points))
	texts := make([]string, 0, len(points))
	for _, p := range points {
		metadata, err := chroma.NewDocumentMetadataFromMap(p.Payload.AsMap())
		if err != nil {
			return fmt.Errorf("failed to create metadata: %w", err)
		}
		ids = append(ids, chroma.DocumentID(p.ID))
		metas = append(metas, metadata)
		embs = append(embs, embeddings.NewEmbeddingFromFloat32(p.Vector))
		texts = append(texts, p.Payload.RefID)
	}

	err = collection.Upsert(ctx,
		chroma.WithIDs(ids...),
		chroma.WithMetadatas(metas...),
		chroma.WithEmbeddings(embs...),
		chroma.WithTexts(texts...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (c *ChromaClient) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.Hit, error) {
	if err := vectorindex.ValidateSearch(req); err != nil {
		return nil, err
	}
	collection, err := c.getCollection(ctx)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	clauses := make([]chroma.WhereClause, 0, len(req.Filter.Must))
	for _, cond := range req.Filter.Must {
		clauses = append(clauses, chroma.EqString(cond.Key, cond.Value))
	}
	where := clauses[0]
	if len(clauses) > 1 {
		where = chroma.And(clauses...)
	}

	results, err := collection.Query(ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(req.Vector)),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(where),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	metadataGroups := results.GetMetadatasGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}

	hits := make([]vectorindex.Hit, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		hit := vectorindex.Hit{ID: string(id)}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			hit.Score = 1 - float64(distanceGroups[0][i])
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			hit.Payload = payloadFromMetadata(metadataGroups[0][i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Scroll pages with a numeric offset encoded as a string.
func (c *ChromaClient) Scroll(ctx context.Context, req vectorindex.ScrollRequest) (vectorindex.ScrollPage, error) {
	collection, err := c.getCollection(ctx)
	if err != nil {
		return vectorindex.ScrollPage{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if req.Offset != "" {
		if offset, err = strconv.Atoi(req.Offset); err != nil {
			return vectorindex.ScrollPage{}, fmt.Errorf("invalid scroll offset %q: %w", req.Offset, err)
		}
	}

	res, err := collection.Get(ctx,
		chroma.WithLimitGet(limit),
		chroma.WithOffsetGet(offset),
		chroma.WithIncludeGet(chroma.IncludeMetadatas),
	)
	if err != nil {
		return vectorindex.ScrollPage{}, fmt.Errorf("failed to scroll collection: %w", err)
	}

	ids := res.GetIDs()
	metas := res.GetMetadatas()
	page := vectorindex.ScrollPage{Points: make([]vectorindex.Point, 0, len(ids))}
	for i, id := range ids {
		p := vectorindex.Point{ID: string(id)}
		if i < len(metas) {
			p.Payload = payloadFromMetadata(metas[i])
		}
		page.Points = append(page.Points, p)
	}
	if len(ids) == limit {
		page.NextOffset = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func (c *ChromaClient) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collection, err := c.getCollection(ctx)
	if err != nil {
		return err
	}
	docIDs := make([]chroma.DocumentID, 0, len(ids))
	for _, id := range ids {
		docIDs = append(docIDs, chroma.DocumentID(id))
	}
	if err := collection.Delete(ctx, chroma.WithIDsDelete(docIDs...)); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func payloadFromMetadata(md chroma.DocumentMetadata) vectorindex.Payload {
	if md == nil {
		return vectorindex.Payload{}
	}
	str := func(k string) string {
		v, _ := md.GetString(k)
		return v
	}
	return vectorindex.Payload{
		Type:     str(vectorindex.KeyType),
		Provider: str(vectorindex.KeyProvider),
		RefID:    str(vectorindex.KeyRefID),
		UserID:   str(vectorindex.KeyUserID),
	}
}
