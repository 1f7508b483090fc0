// Package vectorindex defines the tenant-scoped similarity index shared by
// the qdrant, chroma and chromem drivers.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Payload keys written on every point.
const (
	KeyType     = "type"
	KeyProvider = "provider"
	KeyRefID    = "supabase_ref_id"
	KeyUserID   = "user_id"
)

// Point types.
const (
	TypeConversation = "conversation"
	TypeTopic        = "topic"
)

var (
	ErrMissingTenant = errors.New("vector index: user_id is required")
	ErrEmptyVector   = errors.New("vector index: vector is empty")
)

type Payload struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	RefID    string `json:"supabase_ref_id"`
	UserID   string `json:"user_id"`
}

// AsMap renders the payload with its wire keys.
func (p Payload) AsMap() map[string]any {
	return map[string]any{
		KeyType:     p.Type,
		KeyProvider: p.Provider,
		KeyRefID:    p.RefID,
		KeyUserID:   p.UserID,
	}
}

// PayloadFromMap is the inverse of AsMap. Unknown keys are ignored.
func PayloadFromMap(m map[string]any) Payload {
	str := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	return Payload{
		Type:     str(KeyType),
		Provider: str(KeyProvider),
		RefID:    str(KeyRefID),
		UserID:   str(KeyUserID),
	}
}

var pointIDNamespace = uuid.MustParse("6c1f3e0a-9b7d-4f52-8a2e-3d4b5c6e7f80")

// PointID derives a stable point id from the point type and the summary row
// it references, so re-indexing the same row overwrites instead of appending.
func PointID(pointType, refID string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(pointType+"|"+refID)).String()
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Condition is an exact keyword match on a payload key.
type Condition struct {
	Key   string
	Value string
}

type Filter struct {
	Must []Condition
}

// Match builds a Condition.
func Match(key, value string) Condition {
	return Condition{Key: key, Value: value}
}

// TenantFilter returns the mandatory user filter, narrowed to provider when
// provider is non-empty.
func TenantFilter(userID, provider string) Filter {
	f := Filter{Must: []Condition{Match(KeyUserID, userID)}}
	if provider != "" {
		f.Must = append(f.Must, Match(KeyProvider, provider))
	}
	return f
}

// UserID returns the user_id condition value, or "" when absent.
func (f Filter) UserID() string {
	for _, c := range f.Must {
		if c.Key == KeyUserID {
			return c.Value
		}
	}
	return ""
}

type SearchRequest struct {
	Vector []float32
	Limit  int
	Filter Filter
}

type ScrollRequest struct {
	Limit  int
	Offset string
}

type ScrollPage struct {
	Points     []Point
	NextOffset string
}

// Index is a similarity search collection.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
	Upsert(ctx context.Context, points []Point) error
	Scroll(ctx context.Context, req ScrollRequest) (ScrollPage, error)
	Delete(ctx context.Context, ids []string) error
}

// ValidateSearch enforces the tenant filter on every read.
func ValidateSearch(req SearchRequest) error {
	if len(req.Vector) == 0 {
		return ErrEmptyVector
	}
	if strings.TrimSpace(req.Filter.UserID()) == "" {
		return ErrMissingTenant
	}
	return nil
}

// ValidatePoints enforces user_id and a vector on every written point.
func ValidatePoints(points []Point) error {
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("vector index: point id is required")
		}
		if len(p.Vector) == 0 {
			return fmt.Errorf("point %s: %w", p.ID, ErrEmptyVector)
		}
		if strings.TrimSpace(p.Payload.UserID) == "" {
			return fmt.Errorf("point %s: %w", p.ID, ErrMissingTenant)
		}
	}
	return nil
}

// TransientError marks failures worth retrying (timeouts, dropped connections).
type TransientError interface {
	Transient() bool
}

// IsTransient reports whether err, or anything it wraps, is a retryable
// network or timeout failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t TransientError
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "fetch failed") || strings.Contains(msg, "connection reset")
}
