package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "minicpm-v4", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, []byte("hello"), []byte(req.Messages[0].Images[0]))
		assert.EqualValues(t, 4096, req.Options["num_ctx"])

		json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   req.Model,
			Message: api.Message{Role: "assistant", Content: "a train station"},
			Done:    true,
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req api.EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		json.NewEncoder(w).Encode(api.EmbedResponse{
			Model:      req.Model,
			Embeddings: [][]float32{{1, 2, 3}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDescribe(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)

	text, err := c.Describe(context.Background(), "minicpm-v4", "describe", "aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "a train station", text)
}

func TestDescribe_BadBase64(t *testing.T) {
	c, err := NewClient("http://localhost:11434")
	require.NoError(t, err)
	_, err = c.Describe(context.Background(), "m", "p", "%%%")
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	emb, err := c.Embed(context.Background(), "nomic-embed-text", "a train station")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, emb)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("localhost")
	assert.Error(t, err)
}

func TestModelOptions(t *testing.T) {
	assert.NotContains(t, modelOptions("llava"), "num_ctx")
	assert.Contains(t, modelOptions("MiniCPM-V-4.5"), "num_ctx")
}
