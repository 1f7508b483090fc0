package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaStreamDecodesNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, "llama3", body["model"])
		fmt.Fprintln(w, `{"response":"Hel","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":false}`)
		fmt.Fprintln(w, `{"response":"lo","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	svc := NewOllamaService(srv.URL, "llama3")
	stream, err := svc.Stream(context.Background(), "", "hi")
	require.NoError(t, err)

	out, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestOllamaStreamReportsStatusAtOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaService(srv.URL, "missing").Stream(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaGenerateUsesRuntimeModel(t *testing.T) {
	model := "llama3"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprintf(w, `{"response":"  ran %s  ","done":true}`, body["model"])
	}))
	defer srv.Close()

	svc := NewOllamaServiceWithGetters(func() string { return srv.URL }, func() string { return model })
	out, err := svc.Generate(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ran llama3", out)

	model = "mistral"
	out, err = svc.Generate(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ran mistral", out)
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:latest"}]}`)
	}))
	defer srv.Close()

	assert.NoError(t, NewOllamaService(srv.URL, "llama3").Ping(context.Background()))
	assert.Error(t, NewOllamaService(srv.URL, "mistral").Ping(context.Background()))
}
