package processing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	var prompts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		prompts = append(prompts, req.Prompt)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(server.URL+"/", "")
	vecs, err := e.Embed(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "abcd"}, prompts)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, vecs)
	assert.Equal(t, "ollama:nomic-embed-text", e.Model())
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaEmbedder(server.URL, "missing").Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestEmbedQuery(t *testing.T) {
	e := NewHashEmbedder(32)

	_, err := EmbedQuery(context.Background(), e, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	v, err := EmbedQuery(context.Background(), e, "fever")
	require.NoError(t, err)
	assert.Len(t, v, 32)
}
