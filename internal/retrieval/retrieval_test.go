package retrieval

import (
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
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/geocode"
	"regulatory-rag-core/internal/llm"
	"regulatory-rag-core/internal/vectorindex"
)

func fakeEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{1, 0, 0}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func fakeLLMServer(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": answer})
	}))
}

func seedIndex(t *testing.T, index *vectorindex.Fake, n int, jurisdiction string) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := jurisdiction + "-chunk-" + string(rune('a'+i))
		require.NoError(t, index.Upsert(context.Background(), []vectorindex.Record{{
			ID:     id,
			Values: []float32{1, 0, 0},
			Metadata: map[string]any{
				"text":         "Sample regulatory text about food safety requirements.",
				"citation":     "21 C.F.R. § 117.3",
				"url":          "https://example.com/117.3",
				"jurisdiction": jurisdiction,
				"last_updated": time.Now().UTC().Format(time.RFC3339),
			},
		}}))
	}
}

func TestProcessQueryHighConfidence(t *testing.T) {
	embedSrv := fakeEmbedServer(t)
	defer embedSrv.Close()
	answer := "### Federal\nFood facilities must register. [1]\n\n### Required Permits\nPermit Name: Food Facility Registration\nIssuing Agency: FDA\nJurisdiction: US\nRegulatory Reference: 21 C.F.R. § 117.3\n"
	llmSrv := fakeLLMServer(t, answer)
	defer llmSrv.Close()

	index := vectorindex.NewFake()
	seedIndex(t, index, 12, "US")

	geo := geocode.New("http://unused.invalid", "", zap.NewNop())
	emb := embedder.New(embedSrv.URL, "", "test-model", 10000, nil, zap.NewNop())
	llmClient := llm.New(llmSrv.URL, "", "test-model")
	db := appdb.NewFake()

	p := New(geo, emb, index, llmClient, db, zap.NewNop())

	result, err := p.ProcessQuery(context.Background(), "", "What permits do I need to open a food facility?", "")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "High", result.Confidence.Level)
	assert.Contains(t, result.Jurisdictions, "US")
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "21 C.F.R. § 117.3", result.Citations[0].Citation)
	require.Len(t, result.Permits, 1)
	assert.Equal(t, "Food Facility Registration", result.Permits[0].Name)
	assert.Equal(t, "FDA", result.Permits[0].IssuingAgency)

	conv, err := db.GetConversation(context.Background(), result.QueryID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
}

func TestProcessQueryNoMatchesLowConfidence(t *testing.T) {
	embedSrv := fakeEmbedServer(t)
	defer embedSrv.Close()
	llmSrv := fakeLLMServer(t, "Insufficient coverage for definitive answer.")
	defer llmSrv.Close()

	index := vectorindex.NewFake()
	geo := geocode.New("http://unused.invalid", "", zap.NewNop())
	emb := embedder.New(embedSrv.URL, "", "test-model", 10000, nil, zap.NewNop())
	llmClient := llm.New(llmSrv.URL, "", "test-model")
	db := appdb.NewFake()

	p := New(geo, emb, index, llmClient, db, zap.NewNop())

	result, err := p.ProcessQuery(context.Background(), "", "Unrelated question", "")
	require.NoError(t, err)
	assert.Equal(t, "Low", result.Confidence.Level)
	assert.Empty(t, result.Citations)
}

func TestParseCitationsOutOfRangeWarns(t *testing.T) {
	chunks := []candidate{{chunkID: "c1", citation: "cite-1"}}
	citations, warnings := parseCitations("See [1] and also [5].", chunks)
	require.Len(t, citations, 1)
	assert.Equal(t, 1, citations[0].Index)
	require.Len(t, warnings, 1)
}

func TestFirstParagraphTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "a"
	}
	out := firstParagraph(long+"\n\nsecond", 500)
	assert.Len(t, out, 500)
}
