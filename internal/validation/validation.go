// Package validation computes coverage and quality reports over the vector
// index and object store: jurisdiction coverage against expected target
// lists, per-source-type chunk quality, and object-store presence checks.
// See spec.md §4.10.
package validation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/tokenizer"
	"regulatory-rag-core/internal/vectorindex"
)

const (
	sampleTopK = 10000
	qualityCap = 1000
)

var sourceTypes = []domain.SourceType{domain.SourceFederal, domain.SourceState, domain.SourceCounty, domain.SourceMunicipal}

// TokenDistribution summarizes chunk token counts for one source type.
type TokenDistribution struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Avg   float64 `json:"avg"`
	P50   int     `json:"p50"`
	P95   int     `json:"p95"`
	P99   int     `json:"p99"`
}

// MetadataCompleteness counts chunks carrying each optional field.
type MetadataCompleteness struct {
	WithCitation     int `json:"with_citation"`
	WithURL          int `json:"with_url"`
	WithCategory     int `json:"with_category"`
	WithHierarchy    int `json:"with_hierarchy"`
	WithEffectiveDate int `json:"with_effective_date"`
}

// Issue is one chunk failing a required-field validation check.
type Issue struct {
	ChunkID string `json:"chunk_id"`
	Issue   string `json:"issue"`
}

// QualityReport is the per-source-type quality summary.
type QualityReport struct {
	SourceType          domain.SourceType    `json:"source_type"`
	SampleSize          int                  `json:"sample_size"`
	Tokens              TokenDistribution    `json:"tokens"`
	Metadata            MetadataCompleteness `json:"metadata"`
	CitationCoveragePct float64              `json:"citation_coverage_pct"`
	Issues              []Issue              `json:"issues"`
}

// JurisdictionStatus reports one jurisdiction's indexing state.
type JurisdictionStatus struct {
	Jurisdiction string `json:"jurisdiction"`
	SourceType   domain.SourceType `json:"source_type"`
	Status       string `json:"status"` // "active" | "missing"
}

// CoverageReport aggregates expected-vs-indexed jurisdiction coverage.
type CoverageReport struct {
	TotalExpected  int                          `json:"total_expected"`
	TotalIndexed   int                          `json:"total_indexed"`
	CoveragePercent float64                      `json:"coverage_percent"`
	BySourceType   map[domain.SourceType]float64 `json:"by_source_type"`
	Jurisdictions  []JurisdictionStatus          `json:"jurisdictions"`
	Gaps           []string                      `json:"gaps"`
}

// StorageCheckReport reports expected jurisdictions with no raw object in
// the object store.
type StorageCheckReport struct {
	MissingFolders           []string `json:"missing_folders"`
	JurisdictionsWithoutData []string `json:"jurisdictions_without_data"`
}

// FullReport is generate_full_validation_report's structured output.
type FullReport struct {
	Coverage CoverageReport            `json:"coverage"`
	Quality  []QualityReport           `json:"quality"`
	Storage  StorageCheckReport        `json:"storage"`
}

// Checker runs coverage/quality/storage checks against one vector index and
// object store.
type Checker struct {
	index     vectorindex.Interface
	store     objectstore.Interface
	dimension int
	registry  *config.Registry
}

func New(index vectorindex.Interface, store objectstore.Interface, dimension int, registry *config.Registry) *Checker {
	return &Checker{index: index, store: store, dimension: dimension, registry: registry}
}

// expectedJurisdictions maps each source type to its registry-derived
// expected jurisdiction list.
func (c *Checker) expectedJurisdictions() map[domain.SourceType][]string {
	out := map[domain.SourceType][]string{
		domain.SourceFederal: {domain.FederalJurisdiction},
		domain.SourceState:   {"TX"},
	}
	for _, county := range c.registry.Counties {
		out[domain.SourceCounty] = append(out[domain.SourceCounty], tokenizer.CountyJurisdiction(county.State, county.FIPS))
	}
	for _, city := range c.registry.Cities {
		out[domain.SourceMunicipal] = append(out[domain.SourceMunicipal], tokenizer.MunicipalJurisdiction(city.State, city.Name))
	}
	return out
}

func (c *Checker) zeroVector() []float32 {
	return make([]float32, c.dimension)
}

// sampleJurisdictions queries the index with a zero vector filtered by
// sourceType, extracting unique jurisdiction values (spec.md §4.10
// "Sampling").
func (c *Checker) sampleJurisdictions(ctx context.Context, sourceType domain.SourceType) (map[string]bool, error) {
	filter := vectorindex.Filter{Or: []vectorindex.Clause{{Field: "source_type", Values: []string{string(sourceType)}}}}
	matches, err := c.index.Query(ctx, c.zeroVector(), sampleTopK, filter, true)
	if err != nil {
		return nil, fmt.Errorf("validation: sample %s: %w", sourceType, err)
	}
	seen := make(map[string]bool)
	for _, m := range matches {
		if j, ok := m.Metadata["jurisdiction"].(string); ok && j != "" {
			seen[j] = true
		}
	}
	return seen, nil
}

// CheckCoverage implements check_coverage(index).
func (c *Checker) CheckCoverage(ctx context.Context) (*CoverageReport, error) {
	expected := c.expectedJurisdictions()
	report := CoverageReport{BySourceType: make(map[domain.SourceType]float64)}

	for _, st := range sourceTypes {
		indexed, err := c.sampleJurisdictions(ctx, st)
		if err != nil {
			return nil, err
		}
		want := expected[st]
		var activeCount int
		for _, j := range want {
			status := "missing"
			if indexed[j] {
				status = "active"
				activeCount++
			} else {
				report.Gaps = append(report.Gaps, fmt.Sprintf("%s: %s", st, j))
			}
			report.Jurisdictions = append(report.Jurisdictions, JurisdictionStatus{Jurisdiction: j, SourceType: st, Status: status})
		}
		report.TotalExpected += len(want)
		report.TotalIndexed += activeCount
		if len(want) > 0 {
			report.BySourceType[st] = 100 * float64(activeCount) / float64(len(want))
		}
	}
	if report.TotalExpected > 0 {
		report.CoveragePercent = 100 * float64(report.TotalIndexed) / float64(report.TotalExpected)
	}
	return &report, nil
}

// CheckQuality fetches up to qualityCap sample chunks per source type and
// computes TokenDistribution, MetadataCompleteness, and citation coverage.
// Source types run concurrently via an errgroup since each is an
// independent read against the index.
func (c *Checker) CheckQuality(ctx context.Context) ([]QualityReport, error) {
	reports := make([]QualityReport, len(sourceTypes))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range sourceTypes {
		i, st := i, st
		g.Go(func() error {
			r, err := c.qualityForSourceType(gctx, st)
			if err != nil {
				return err
			}
			reports[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Checker) qualityForSourceType(ctx context.Context, st domain.SourceType) (*QualityReport, error) {
	filter := vectorindex.Filter{Or: []vectorindex.Clause{{Field: "source_type", Values: []string{string(st)}}}}
	matches, err := c.index.Query(ctx, c.zeroVector(), qualityCap, filter, true)
	if err != nil {
		return nil, fmt.Errorf("validation: quality sample %s: %w", st, err)
	}

	report := QualityReport{SourceType: st, SampleSize: len(matches)}
	var tokenCounts []int
	var citedCount int

	for _, m := range matches {
		text, _ := m.Metadata["text"].(string)
		tokens := tokenizer.CountTokens(text)
		tokenCounts = append(tokenCounts, tokens)

		chunkID, _ := m.Metadata["chunk_id"].(string)
		if chunkID == "" {
			chunkID = m.ID
		}

		if citation, _ := m.Metadata["citation"].(string); citation != "" {
			report.Metadata.WithCitation++
			citedCount++
		} else {
			report.Issues = append(report.Issues, Issue{ChunkID: chunkID, Issue: "missing citation"})
		}
		if url, _ := m.Metadata["url"].(string); url != "" {
			report.Metadata.WithURL++
		} else {
			report.Issues = append(report.Issues, Issue{ChunkID: chunkID, Issue: "missing url"})
		}
		if cat, _ := m.Metadata["category"].(string); cat != "" {
			report.Metadata.WithCategory++
		}
		if hier, ok := m.Metadata["hierarchy"].([]any); ok && len(hier) > 0 {
			report.Metadata.WithHierarchy++
		}
		if eff, _ := m.Metadata["effective_date"].(string); eff != "" {
			report.Metadata.WithEffectiveDate++
		}
		if text == "" {
			report.Issues = append(report.Issues, Issue{ChunkID: chunkID, Issue: "empty text"})
		}
	}

	report.Tokens = tokenDistribution(tokenCounts)
	if len(matches) > 0 {
		report.CitationCoveragePct = 100 * float64(citedCount) / float64(len(matches))
	}
	return &report, nil
}

func tokenDistribution(counts []int) TokenDistribution {
	if len(counts) == 0 {
		return TokenDistribution{}
	}
	sorted := append([]int(nil), counts...)
	sort.Ints(sorted)

	var sum int
	for _, c := range sorted {
		sum += c
	}
	return TokenDistribution{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   float64(sum) / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

func percentile(sorted []int, p float64) int {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CheckStorage verifies at least one object exists under the canonical
// prefix for each expected jurisdiction.
func (c *Checker) CheckStorage(ctx context.Context) (*StorageCheckReport, error) {
	report := &StorageCheckReport{}
	expected := c.expectedJurisdictions()
	for st, jurisdictions := range expected {
		for _, j := range jurisdictions {
			prefix := storagePrefix(st, j)
			keys, err := c.store.List(ctx, prefix)
			if err != nil {
				return nil, fmt.Errorf("validation: list %s: %w", prefix, err)
			}
			if len(keys) == 0 {
				report.MissingFolders = append(report.MissingFolders, prefix)
				report.JurisdictionsWithoutData = append(report.JurisdictionsWithoutData, j)
			}
		}
	}
	return report, nil
}

// storagePrefix returns the object-store prefix the fetchers write a
// jurisdiction's documents under.
func storagePrefix(st domain.SourceType, j string) string {
	switch st {
	case domain.SourceFederal:
		return "federal/cfr/"
	case domain.SourceState:
		return "texas/"
	case domain.SourceCounty:
		return "counties/" + j + "/"
	case domain.SourceMunicipal:
		return "municipal/" + j + "/"
	}
	return fmt.Sprintf("raw/%s/%s/", strings.ToLower(string(st)), j)
}

// GenerateFullValidationReport implements generate_full_validation_report(index).
func (c *Checker) GenerateFullValidationReport(ctx context.Context) (*FullReport, error) {
	coverage, err := c.CheckCoverage(ctx)
	if err != nil {
		return nil, err
	}
	quality, err := c.CheckQuality(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := c.CheckStorage(ctx)
	if err != nil {
		return nil, err
	}
	return &FullReport{Coverage: *coverage, Quality: quality, Storage: *storage}, nil
}

// RenderHumanReadable produces the tabular report format for operators.
func RenderHumanReadable(r *FullReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Coverage: %d/%d (%.1f%%)\n", r.Coverage.TotalIndexed, r.Coverage.TotalExpected, r.Coverage.CoveragePercent)
	for st, pct := range r.Coverage.BySourceType {
		fmt.Fprintf(&b, "  %-10s %.1f%%\n", st, pct)
	}
	if len(r.Coverage.Gaps) > 0 {
		b.WriteString("Gaps:\n")
		for _, g := range r.Coverage.Gaps {
			fmt.Fprintf(&b, "  - %s\n", g)
		}
	}
	b.WriteString("\nQuality:\n")
	for _, q := range r.Quality {
		fmt.Fprintf(&b, "  %-10s sample=%d avg_tokens=%.0f p95=%d citation_coverage=%.1f%% issues=%d\n",
			q.SourceType, q.SampleSize, q.Tokens.Avg, q.Tokens.P95, q.CitationCoveragePct, len(q.Issues))
	}
	if len(r.Storage.MissingFolders) > 0 {
		b.WriteString("\nMissing storage folders:\n")
		for _, f := range r.Storage.MissingFolders {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	return b.String()
}
