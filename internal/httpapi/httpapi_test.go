package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/appdb"
	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/geocode"
	"regulatory-rag-core/internal/ingest"
	"regulatory-rag-core/internal/llm"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/retrieval"
	"regulatory-rag-core/internal/validation"
	"regulatory-rag-core/internal/vectorindex"
)

type fakeIngestService struct {
	batchResult ingest.BatchPipelineResult
	unitResult  ingest.UnitResult
	unitErr     error
}

func (f *fakeIngestService) RunBatch(_ context.Context, _ []string) (ingest.BatchPipelineResult, error) {
	return f.batchResult, nil
}

func (f *fakeIngestService) RunUnit(_ context.Context, _, _ string) (ingest.UnitResult, error) {
	return f.unitResult, f.unitErr
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}}},
		})
	}))
	t.Cleanup(embedSrv.Close)
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "### Federal\nAnswer. [1]\n"})
	}))
	t.Cleanup(llmSrv.Close)

	index := vectorindex.NewFake()
	require.NoError(t, index.Upsert(context.Background(), []vectorindex.Record{{
		ID:     "c1",
		Values: []float32{1, 0, 0},
		Metadata: map[string]any{
			"text": "Sample text.", "citation": "21 C.F.R. § 117.3", "jurisdiction": "US",
			"source_type": "federal", "last_updated": time.Now().UTC().Format(time.RFC3339),
		},
	}}))

	geo := geocode.New("http://unused.invalid", "", zap.NewNop())
	emb := embedder.New(embedSrv.URL, "", "test-model", 10000, nil, zap.NewNop())
	llmClient := llm.New(llmSrv.URL, "", "test-model")
	db := appdb.NewFake()
	pipeline := retrieval.New(geo, emb, index, llmClient, db, zap.NewNop())

	store := objectstore.NewFake()
	validator := validation.New(index, store, 3, &config.Registry{})

	ingestSvc := &fakeIngestService{
		batchResult: ingest.BatchPipelineResult{Families: []ingest.FamilyResult{{Family: "federal"}}},
		unitResult:  ingest.UnitResult{UnitID: "title-21", ChunksProcessed: 3},
	}

	srv := New(ingestSvc, pipeline, validator, db, zap.NewNop())
	return httptest.NewServer(srv.Router())
}

func TestHealthEndpoint(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestRunEndpoint(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	body, _ := json.Marshal(map[string]any{"families": []string{"federal"}})
	resp, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result ingest.BatchPipelineResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Families, 1)
	assert.Equal(t, "federal", result.Families[0].Family)
}

func TestIngestUnitEndpointRejectsMissingFields(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/api/v1/ingest/unit", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryEndpoint(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	body, _ := json.Marshal(map[string]string{"question": "What permits do I need?"})
	resp, err := http.Post(ts.URL+"/api/v1/query", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result retrieval.QueryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.QueryID)
}

func TestGetConversationNotFound(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/v1/conversations/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListConversationsEmpty(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/v1/conversations?user_id=nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCoverageEndpoint(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/v1/validation/coverage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var report validation.CoverageReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
}

func TestValidationReportMarkdownFormat(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/v1/validation/report?format=markdown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
}
