package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveNoAddressFallsBackToUS(t *testing.T) {
	c := New("http://unused", "", zap.NewNop())
	j, err := c.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"US"}, j)
}

func TestResolveGeocoderFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zap.NewNop())
	j, err := c.Resolve(context.Background(), "1000 Main St, Houston, TX 77002")
	require.Error(t, err)
	assert.Equal(t, []string{"US"}, j)
}

func TestResolveFullAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"state": "TX", "county_fips": "48201", "city": "Houston",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", zap.NewNop())
	j, err := c.Resolve(context.Background(), "1000 Main St, Houston, TX 77002")
	require.NoError(t, err)
	assert.Equal(t, []string{"US", "TX", "TX-48201", "TX-houston"}, j)
}
