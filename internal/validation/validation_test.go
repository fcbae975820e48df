package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/vectorindex"
)

func seedChunk(t *testing.T, index *vectorindex.Fake, id, sourceType, jurisdiction, text, citation string) {
	t.Helper()
	meta := map[string]any{
		"source_type":  sourceType,
		"jurisdiction": jurisdiction,
		"text":         text,
		"chunk_id":     id,
	}
	if citation != "" {
		meta["citation"] = citation
		meta["url"] = "https://example.com/" + id
	}
	require.NoError(t, index.Upsert(context.Background(), []vectorindex.Record{{
		ID:       id,
		Values:   []float32{0, 0, 0},
		Metadata: meta,
	}}))
}

func testRegistry() *config.Registry {
	return &config.Registry{
		Counties: []config.CountyEntry{{State: "TX", FIPS: "201", Name: "Harris"}},
		Cities:   []config.CityEntry{{State: "TX", Name: "Houston"}},
	}
}

func TestCheckCoverageReportsActiveAndMissing(t *testing.T) {
	index := vectorindex.NewFake()
	seedChunk(t, index, "us-1", "federal", "US", "Federal rule text about facilities.", "21 C.F.R. § 117.3")

	store := objectstore.NewFake()
	c := New(index, store, 3, testRegistry())

	report, err := c.CheckCoverage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalIndexed)
	assert.Greater(t, report.TotalExpected, 1)
	assert.Less(t, report.CoveragePercent, 100.0)
	assert.NotEmpty(t, report.Gaps)

	var foundUS bool
	for _, j := range report.Jurisdictions {
		if j.Jurisdiction == "US" {
			foundUS = true
			assert.Equal(t, "active", j.Status)
		}
	}
	assert.True(t, foundUS)
}

func TestCheckQualityComputesTokenDistributionAndIssues(t *testing.T) {
	index := vectorindex.NewFake()
	seedChunk(t, index, "us-1", "federal", "US", "Food facilities must register with the agency before operating.", "21 C.F.R. § 117.3")
	seedChunk(t, index, "us-2", "federal", "US", "Missing citation chunk text here.", "")

	store := objectstore.NewFake()
	c := New(index, store, 3, testRegistry())

	reports, err := c.CheckQuality(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 4)

	var federal *QualityReport
	for i := range reports {
		if reports[i].SourceType == "federal" {
			federal = &reports[i]
		}
	}
	require.NotNil(t, federal)
	assert.Equal(t, 2, federal.SampleSize)
	assert.Equal(t, 1, federal.Metadata.WithCitation)
	assert.Equal(t, 50.0, federal.CitationCoveragePct)
	assert.NotEmpty(t, federal.Issues)
	assert.Greater(t, federal.Tokens.Count, 0)
}

func TestCheckStorageFlagsMissingJurisdictions(t *testing.T) {
	index := vectorindex.NewFake()
	store := objectstore.NewFake()
	require.NoError(t, store.Put(context.Background(), "federal/cfr/title-21/part-117.xml", []byte("{}"), "application/json", nil))

	c := New(index, store, 3, testRegistry())
	report, err := c.CheckStorage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report.JurisdictionsWithoutData, "TX")
	assert.NotContains(t, report.JurisdictionsWithoutData, "US")
}

func TestGenerateFullValidationReportAndRender(t *testing.T) {
	index := vectorindex.NewFake()
	seedChunk(t, index, "us-1", "federal", "US", "Sample regulatory text for rendering checks.", "21 C.F.R. § 117.3")
	store := objectstore.NewFake()

	c := New(index, store, 3, testRegistry())
	full, err := c.GenerateFullValidationReport(context.Background())
	require.NoError(t, err)
	require.NotNil(t, full)

	rendered := RenderHumanReadable(full)
	assert.Contains(t, rendered, "Coverage:")
	assert.Contains(t, rendered, "Quality:")
}

func TestPercentileSingleElement(t *testing.T) {
	assert.Equal(t, 7, percentile([]int{7}, 0.95))
}

func TestTokenDistributionEmpty(t *testing.T) {
	d := tokenDistribution(nil)
	assert.Equal(t, 0, d.Count)
}
