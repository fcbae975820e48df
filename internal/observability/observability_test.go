package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerProductionAndDebug(t *testing.T) {
	logger, err := NewLogger(false)
	require.NoError(t, err)
	require.NotNil(t, logger)

	debugLogger, err := NewLogger(true)
	require.NoError(t, err)
	require.NotNil(t, debugLogger)
}

func TestNewMetricsRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ChunksIngested.WithLabelValues("federal").Add(5)
	m.QueriesTotal.WithLabelValues("High").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "regcore_startup_timestamp")
}
