package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memtex-backend/pkg/logger"
	"memtex-backend/pkg/vectorindex"
)

const maxErrorBodyBytes = 1024

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	Timeout    time.Duration
}

// Client talks to the Qdrant REST API and implements vectorindex.Index.
type Client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type scrollResult struct {
	Points []struct {
		ID      json.RawMessage `json:"id"`
		Payload map[string]any  `json:"payload"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("QDRANT_URL is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		log:     log.With("service", "QdrantIndex", "collection", cfg.Collection),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// EnsureCollection creates the collection and its keyword payload indexes,
// recreating it when the configured dimension no longer matches.
func (c *Client) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
		PayloadSchema map[string]any `json:"payload_schema"`
	}
	err := c.doJSON(ctx, op, http.MethodGet, c.collectionPath(""), nil, &info)
	exists := err == nil
	if err != nil {
		var opErrTyped *OperationError
		if !errors.As(err, &opErrTyped) || opErrTyped.Code != OperationErrorNotFound {
			return err
		}
	}

	if exists && info.Config.Params.Vectors.Size != 0 && info.Config.Params.Vectors.Size != c.cfg.VectorDim {
		c.log.Warn("vector size mismatch, recreating collection", "current", info.Config.Params.Vectors.Size, "target", c.cfg.VectorDim)
		if err := c.doJSON(ctx, op, http.MethodDelete, c.collectionPath(""), nil, nil); err != nil {
			return err
		}
		exists = false
	}

	if !exists {
		req := map[string]any{
			"vectors": map[string]any{"size": c.cfg.VectorDim, "distance": "Cosine"},
		}
		if err := c.doJSON(ctx, op, http.MethodPut, c.collectionPath(""), req, nil); err != nil {
			var opErrTyped *OperationError
			if !errors.As(err, &opErrTyped) || opErrTyped.StatusCode != http.StatusConflict {
				return err
			}
			c.log.Info("collection created by another process")
		}
	}

	for _, field := range []string{vectorindex.KeyUserID, vectorindex.KeyProvider} {
		if exists && info.PayloadSchema[field] != nil {
			continue
		}
		req := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := c.doJSON(ctx, op, http.MethodPut, c.collectionPath("/index?wait=true"), req, nil); err != nil {
			c.log.Warn("create payload index failed", "field", field, "error", err)
		}
	}
	c.log.Info("vector collection ready", "dim", c.cfg.VectorDim)
	return nil
}

func (c *Client) Upsert(ctx context.Context, points []vectorindex.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	if err := vectorindex.ValidatePoints(points); err != nil {
		return opErr(op, OperationErrorValidation, err.Error(), err)
	}

	wire := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if c.cfg.VectorDim > 0 && len(p.Vector) != c.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", p.ID, c.cfg.VectorDim, len(p.Vector)), nil)
		}
		wire = append(wire, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload.AsMap(),
		})
	}
	return c.doJSON(ctx, op, http.MethodPut, c.collectionPath("/points?wait=true"), map[string]any{"points": wire}, nil)
}

func (c *Client) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.Hit, error) {
	const op = "search"
	if err := vectorindex.ValidateSearch(req); err != nil {
		return nil, opErr(op, OperationErrorValidation, err.Error(), err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter":       translateFilter(req.Filter),
	}
	var raw []searchResultItem
	if err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/search"), body, &raw); err != nil {
		return nil, err
	}

	hits := make([]vectorindex.Hit, 0, len(raw))
	for _, item := range raw {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		hits = append(hits, vectorindex.Hit{
			ID:      id,
			Score:   item.Score,
			Payload: vectorindex.PayloadFromMap(item.Payload),
		})
	}
	return hits, nil
}

func (c *Client) Scroll(ctx context.Context, req vectorindex.ScrollRequest) (vectorindex.ScrollPage, error) {
	const op = "scroll"
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if req.Offset != "" {
		body["offset"] = encodePointID(req.Offset)
	}

	var res scrollResult
	if err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/scroll"), body, &res); err != nil {
		return vectorindex.ScrollPage{}, err
	}

	page := vectorindex.ScrollPage{
		Points:     make([]vectorindex.Point, 0, len(res.Points)),
		NextOffset: decodePointID(res.NextPageOffset),
	}
	for _, p := range res.Points {
		page.Points = append(page.Points, vectorindex.Point{
			ID:      decodePointID(p.ID),
			Payload: vectorindex.PayloadFromMap(p.Payload),
		})
	}
	return page, nil
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	const op = "delete"
	points := make([]any, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		points = append(points, encodePointID(id))
	}
	if len(points) == 0 {
		return nil
	}
	return c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/delete?wait=true"), map[string]any{"points": points}, nil)
}

func translateFilter(f vectorindex.Filter) map[string]any {
	must := make([]any, 0, len(f.Must))
	for _, cond := range f.Must {
		must = append(must, map[string]any{
			"key":   cond.Key,
			"match": map[string]any{"value": cond.Value},
		})
	}
	return map[string]any{"must": must}
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if readErr != nil {
		return classifyHTTPCallError(op, "read response failed", readErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &OperationError{Code: OperationErrorNotFound, Operation: op, StatusCode: resp.StatusCode, Message: "not found"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{Code: OperationErrorQueryFailed, Operation: op, StatusCode: resp.StatusCode, Message: statusErr}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber uint64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return strconv.FormatUint(idNumber, 10)
	}
	return strings.TrimSpace(string(raw))
}

// encodePointID sends numeric ids as numbers; Qdrant rejects "42" as a string id.
func encodePointID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return id
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + c.cfg.Collection + suffix
}
