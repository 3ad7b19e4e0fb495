package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var n int
		switch inputs := req.Inputs.(type) {
		case string:
			n = 1
		case []any:
			n = len(inputs)
		}

		vectors := make([][]float32, n)
		for i := range vectors {
			vectors[i] = []float32{0.1, 0.2, 0.3}
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	}))
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	srv := newTEIServer(t)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	require.True(t, p.Available())

	vectors, err := p.EmbedDocuments(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vectors[0])
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	srv := newTEIServer(t)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	vector, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestTEIProvider_UnavailableFailsFast(t *testing.T) {
	p, err := NewTEIProvider(TEIConfig{})
	require.NoError(t, err)
	assert.False(t, p.Available())

	_, err = p.EmbedDocuments(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	srv := newTEIServer(t)
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(Config{Provider: "mystery"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 1536, dimensionForModel("text-embedding-3-small"))
	assert.Equal(t, 3072, dimensionForModel("text-embedding-3-large"))
	assert.Equal(t, 384, dimensionForModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 768, dimensionForModel("BAAI/bge-base-en-v1.5"))
}
