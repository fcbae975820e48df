package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/corerr"
)

func fakeEmbedServer(t *testing.T, calls *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedReturnsAllVectorsAcrossBatches(t *testing.T) {
	var calls int
	srv := fakeEmbedServer(t, &calls)
	defer srv.Close()

	e := New(srv.URL, "", "test-model", 8191, nil, zap.NewNop())
	texts := make([]string, 65)
	for i := range texts {
		texts[i] = "hello world"
	}

	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 65)
	assert.Equal(t, 2, calls)
}

func TestEmbedTokenLimitPreflight(t *testing.T) {
	e := New("http://unused", "", "test-model", 5, nil, zap.NewNop())
	huge := strings.Repeat("word ", 1000)

	_, err := e.Embed(context.Background(), []string{huge})
	require.Error(t, err)
	assert.True(t, corerr.Of(err, corerr.TokenLimit))
}

func TestEmbedNonRetryable4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e := New(srv.URL, "", "test-model", 8191, nil, zap.NewNop())
	_, err := e.Embed(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.True(t, corerr.Of(err, corerr.ApiError))
}
