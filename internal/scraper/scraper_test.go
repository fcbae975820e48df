package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/corerr"
)

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(time.Millisecond, zap.NewNop())
	_, err := s.Fetch(context.Background(), srv.URL, "test")
	require.Error(t, err)
	assert.True(t, corerr.Of(err, corerr.NotFound))
}

func TestFetchSucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := New(time.Millisecond, zap.NewNop())
	resp, err := s.Fetch(context.Background(), srv.URL, "test")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.GreaterOrEqual(t, calls, int32(2))
}

func TestFetchScrapingErrorOnNon404Client(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := New(time.Millisecond, zap.NewNop())
	_, err := s.Fetch(context.Background(), srv.URL, "test")
	require.Error(t, err)
	assert.True(t, corerr.Of(err, corerr.ScrapingError))
}
