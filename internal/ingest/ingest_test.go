package ingest

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

	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/embedder"
	"regulatory-rag-core/internal/objectstore"
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
			}{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testOrchestrator(t *testing.T) (*Orchestrator, *objectstore.Fake, *vectorindex.Fake) {
	t.Helper()
	srv := fakeEmbedServer(t)
	t.Cleanup(srv.Close)

	store := objectstore.NewFake()
	index := vectorindex.NewFake()
	emb := embedder.New(srv.URL, "", "test-model", 10000, nil, zap.NewNop())
	return New(store, emb, index, nil, zap.NewNop()), store, index
}

func oneSectionUnit(id string, sectionID string) Unit {
	return Unit{
		ID: id,
		Fetch: func(ctx context.Context) ([]domain.Section, error) {
			return []domain.Section{{
				SourceType:   domain.SourceFederal,
				Jurisdiction: "US",
				SectionID:    sectionID,
				Heading:      "Definitions",
				Text:         "Act means the governing statute. It defines key terms used throughout this part.",
				SourceURL:    "https://example.com/" + sectionID,
				FetchedAt:    time.Now().UTC(),
			}}, nil
		},
		Citation: func(s domain.Section) string { return "21 C.F.R. § " + s.SectionID },
	}
}

func TestRunFamilyProcessesUnitsAndClearsCheckpoint(t *testing.T) {
	o, store, index := testOrchestrator(t)
	family := Family{Name: "federal", Units: []Unit{oneSectionUnit("117", "117.3")}}

	result := o.RunFamily(context.Background(), family)
	require.False(t, result.Aborted)
	require.Len(t, result.Units, 1)
	assert.Empty(t, result.Units[0].Error)
	assert.Equal(t, 1, result.Units[0].ChunksProcessed)

	obj, err := store.Get(context.Background(), checkpointKeyForUnit("federal", "117"))
	require.NoError(t, err)
	assert.Nil(t, obj, "checkpoint should be cleared after a successful run")

	keys, err := store.List(context.Background(), checkpointPrefix("federal"))
	require.NoError(t, err)
	assert.Empty(t, keys, "no stray checkpoint files should remain under the family's prefix")

	fake := index
	matches, err := fake.Query(context.Background(), []float32{0.1, 0.2, 0.3}, 10, vectorindex.Filter{}, true)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunFamilySkipsAlreadyProcessedUnits(t *testing.T) {
	o, store, _ := testOrchestrator(t)

	cp := domain.Checkpoint{Family: "federal", LastProcessed: "117", ChunksProcessed: 3, Status: "in_progress", Timestamp: time.Now().UTC()}
	b, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), checkpointKeyForUnit("federal", "117"), b, "application/json", nil))

	var called bool
	unit := Unit{
		ID: "117",
		Fetch: func(ctx context.Context) ([]domain.Section, error) {
			called = true
			return nil, nil
		},
	}
	family := Family{Name: "federal", Units: []Unit{unit, oneSectionUnit("118", "118.1")}}

	result := o.RunFamily(context.Background(), family)
	assert.False(t, called, "already-processed unit should be skipped")
	require.Len(t, result.Units, 1)
	assert.Equal(t, "118", result.Units[0].UnitID)
}

func TestRunFamilyContinuesAfterUnitFailure(t *testing.T) {
	o, _, _ := testOrchestrator(t)

	failing := Unit{
		ID: "bad",
		Fetch: func(ctx context.Context) ([]domain.Section, error) {
			return nil, assertError("boom")
		},
	}
	family := Family{Name: "federal", Units: []Unit{failing, oneSectionUnit("117", "117.3")}}

	result := o.RunFamily(context.Background(), family)
	require.Len(t, result.Units, 2)
	assert.NotEmpty(t, result.Units[0].Error)
	assert.Empty(t, result.Units[1].Error)
}

type assertError string

func (e assertError) Error() string { return string(e) }
