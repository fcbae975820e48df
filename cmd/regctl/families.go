package main

import (
	"context"
	"fmt"

	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/fetch/county"
	"regulatory-rag-core/internal/fetch/federal"
	"regulatory-rag-core/internal/fetch/municipal"
	"regulatory-rag-core/internal/fetch/txstatute"
	"regulatory-rag-core/internal/fetch/txtac"
	"regulatory-rag-core/internal/ingest"
	"regulatory-rag-core/internal/tokenizer"
)

// buildFamilies constructs every family's Units from the registry, closing
// each fetcher's family-specific signature over the shared Unit.Fetch shape
// (spec.md §4.8 step 2 / DESIGN.md's internal/ingest entry).
func (d *deps) buildFamilies() []ingest.Family {
	return []ingest.Family{
		d.federalFamily(),
		d.stateFamily(),
		d.countyFamily(),
		d.municipalFamily(),
	}
}

func (d *deps) federalFamily() ingest.Family {
	fetcher := federal.New(d.scraper, d.store, d.logger)
	var units []ingest.Unit
	for _, title := range d.registry.FederalTitles {
		title := title
		units = append(units, ingest.Unit{
			ID:       fmt.Sprintf("title-%d", title),
			Fetch:    func(ctx context.Context) ([]domain.Section, error) { return fetcher.FetchTitle(ctx, title) },
			Citation: func(s domain.Section) string { return tokenizer.CitationFederal(s.TitleNumber, s.SectionID) },
		})
	}
	return ingest.Family{Name: "federal", Units: units}
}

func (d *deps) stateFamily() ingest.Family {
	statuteFetcher := txstatute.New(d.scraper, d.store, d.logger)
	tacFetcher := txtac.New(d.scraper, d.store, d.logger)
	var units []ingest.Unit
	for _, code := range d.registry.TexasStatutes {
		code := code
		units = append(units, ingest.Unit{
			ID:       "statute-" + code,
			Fetch:    func(ctx context.Context) ([]domain.Section, error) { return statuteFetcher.FetchCode(ctx, code) },
			Citation: func(s domain.Section) string { return txstatute.Citation(s.Code, s.SectionID) },
		})
	}
	for _, title := range d.registry.TexasTACTitles {
		title := title
		units = append(units, ingest.Unit{
			ID:       fmt.Sprintf("tac-%d", title),
			Fetch:    func(ctx context.Context) ([]domain.Section, error) { return tacFetcher.FetchTitle(ctx, title) },
			Citation: func(s domain.Section) string { return txtac.Citation(s.TitleNumber, s.SectionID) },
		})
	}
	return ingest.Family{Name: "state", Units: units}
}

func (d *deps) countyFamily() ingest.Family {
	fetcher := county.New(d.scraper, d.store, d.logger)
	var units []ingest.Unit
	for _, entry := range d.registry.Counties {
		entry := entry
		units = append(units, ingest.Unit{
			ID:       fmt.Sprintf("%s-%s", entry.State, entry.FIPS),
			Fetch:    func(ctx context.Context) ([]domain.Section, error) { return fetcher.FetchCounty(ctx, entry) },
			Citation: func(s domain.Section) string { return county.Citation(entry.Name, s.SectionID) },
		})
	}
	return ingest.Family{Name: "county", Units: units}
}

func (d *deps) municipalFamily() ingest.Family {
	fetcher := municipal.New(d.render, d.store, d.logger)
	var units []ingest.Unit
	for _, entry := range d.registry.Cities {
		entry := entry
		units = append(units, ingest.Unit{
			ID:       fmt.Sprintf("%s-%s", entry.State, tokenizer.Slugify(entry.Name)),
			Fetch:    func(ctx context.Context) ([]domain.Section, error) { return fetcher.FetchCity(ctx, entry) },
			Citation: func(s domain.Section) string { return municipal.Citation(entry.Name, s.SectionID) },
		})
	}
	return ingest.Family{Name: "municipal", Units: units}
}

// ingestService adapts *deps/ingest.Orchestrator to httpapi.IngestService,
// resolving a family name and unit identifier to the matching pre-built
// Family/Unit so the router never needs to know about fetchers or the
// registry.
type ingestService struct {
	d *deps
}

func (s *ingestService) RunBatch(ctx context.Context, families []string) (ingest.BatchPipelineResult, error) {
	all := s.d.buildFamilies()
	selected := filterFamilies(all, families)
	return s.d.orch.RunBatch(ctx, selected), nil
}

func (s *ingestService) RunUnit(ctx context.Context, familyName, identifier string) (ingest.UnitResult, error) {
	all := s.d.buildFamilies()
	for _, family := range all {
		if family.Name != familyName {
			continue
		}
		for _, unit := range family.Units {
			if unit.ID == identifier {
				result := s.d.orch.RunFamily(ctx, ingest.Family{Name: family.Name, Units: []ingest.Unit{unit}})
				if len(result.Units) == 0 {
					return ingest.UnitResult{UnitID: identifier}, fmt.Errorf("unit %s produced no result", identifier)
				}
				return result.Units[0], nil
			}
		}
		return ingest.UnitResult{}, fmt.Errorf("unknown unit %q in family %q", identifier, familyName)
	}
	return ingest.UnitResult{}, fmt.Errorf("unknown family %q", familyName)
}

// filterFamilies keeps only the named families, in registry order, when
// names is non-empty; an empty names list selects every family.
func filterFamilies(all []ingest.Family, names []string) []ingest.Family {
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []ingest.Family
	for _, f := range all {
		if want[f.Name] {
			out = append(out, f)
		}
	}
	return out
}
