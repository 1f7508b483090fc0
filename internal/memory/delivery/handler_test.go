package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"memtex-backend/internal/memory/domain"
	"memtex-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	rows      []*domain.TopicSummary
	err       error
	gotUser   string
	gotText   string
	gotLimit  int
	storeResp bool
}

func (s *stubService) StoreMemory(ctx context.Context, userID, text, provider string) (bool, error) {
	s.gotUser, s.gotText = userID, text
	return s.storeResp, s.err
}

func (s *stubService) Latest(ctx context.Context, userID string, limit int) ([]*domain.TopicSummary, error) {
	s.gotUser, s.gotLimit = userID, limit
	return s.rows, s.err
}

func newRouter(svc MemoryService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMemoryHandler(svc, logger.Nop())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u1"); c.Next() })
	r.GET("/api/memory", h.List)
	r.POST("/api/memory", h.Store)
	return r
}

func TestListMemories(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{rows: []*domain.TopicSummary{{ID: "t1", UserID: "u1", Topic: "database", Summary: "Use Postgres", CreatedAt: created}}}

	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/memory", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Memories []map[string]any `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Memories, 1)
	assert.Equal(t, "database", body.Memories[0]["topic"])
	assert.Equal(t, "Use Postgres", body.Memories[0]["summary"])
	assert.NotContains(t, body.Memories[0], "id")
	assert.Equal(t, "u1", svc.gotUser)
	assert.Equal(t, 20, svc.gotLimit)
}

func TestListMemoriesEmptyIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&stubService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/memory", nil))
	assert.JSONEq(t, `{"memories":[]}`, w.Body.String())
}

func TestListMemoriesFailure(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&stubService{err: errors.New("db down")}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/memory", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to load memory"}`, w.Body.String())
}

func TestStoreMemory(t *testing.T) {
	svc := &stubService{storeResp: true}
	req := httptest.NewRequest(http.MethodPost, "/api/memory", bytes.NewBufferString(`{"text":"remember this"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"stored":true}`, w.Body.String())
	assert.Equal(t, "remember this", svc.gotText)
}

func TestStoreMemoryRequiresText(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/memory", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(&stubService{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
