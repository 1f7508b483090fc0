package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantFilter(t *testing.T) {
	f := TenantFilter("u1", "")
	require.Len(t, f.Must, 1)
	assert.Equal(t, "u1", f.UserID())

	f = TenantFilter("u1", "claude")
	require.Len(t, f.Must, 2)
	assert.Equal(t, Condition{Key: KeyProvider, Value: "claude"}, f.Must[1])
}

func TestValidateSearchRequiresTenant(t *testing.T) {
	err := ValidateSearch(SearchRequest{Vector: []float32{1}, Filter: Filter{Must: []Condition{Match(KeyProvider, "gemini")}}})
	assert.ErrorIs(t, err, ErrMissingTenant)

	err = ValidateSearch(SearchRequest{Filter: TenantFilter("u1", "")})
	assert.ErrorIs(t, err, ErrEmptyVector)

	assert.NoError(t, ValidateSearch(SearchRequest{Vector: []float32{1}, Filter: TenantFilter("u1", "")}))
}

func TestValidatePointsRequiresTenant(t *testing.T) {
	err := ValidatePoints([]Point{{ID: "p1", Vector: []float32{1}, Payload: Payload{Type: TypeTopic}}})
	assert.ErrorIs(t, err, ErrMissingTenant)

	err = ValidatePoints([]Point{{ID: "p1", Vector: []float32{1}, Payload: Payload{UserID: "u1"}}})
	assert.NoError(t, err)
}

func TestPayloadRoundTripThroughMap(t *testing.T) {
	p := Payload{Type: TypeConversation, Provider: "chatgpt", RefID: "s1", UserID: "u1"}
	assert.Equal(t, p, PayloadFromMap(p.AsMap()))
	assert.Equal(t, Payload{}, PayloadFromMap(map[string]any{"user_id": 42}))
}

type transientErr struct{}

func (transientErr) Error() string   { return "boom" }
func (transientErr) Transient() bool { return true }

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", transientErr{})))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("request timeout after 30s")))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.False(t, IsTransient(nil))
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := PointID(TypeConversation, "s1")
	assert.Equal(t, a, PointID(TypeConversation, "s1"))
	assert.NotEqual(t, a, PointID(TypeTopic, "s1"))
	assert.Len(t, a, 36)
}
