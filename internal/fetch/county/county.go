// Package county fetches county ordinance codes from one of the HTML
// publishing platforms used by Texas counties. See spec.md §4.5.4.
package county

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
	"regulatory-rag-core/internal/tokenizer"
)

// adapter yields Sections for one county given its base URL. Each publishing
// platform (amlegal, municode, generic) implements this.
type adapter interface {
	Fetch(ctx context.Context, s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger, county config.CountyEntry) ([]domain.Section, error)
}

// Fetcher selects an adapter per county.Platform and delegates to it,
// composing rather than subclassing per spec.md §9's preference for adapter
// registries over class hierarchies.
type Fetcher struct {
	scraper  *scraper.Scraper
	store    objectstore.Interface
	logger   *zap.Logger
	adapters map[string]adapter
}

// New constructs a Fetcher. store may be nil to disable raw-document
// persistence (tests mostly don't need it).
func New(s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		scraper: s,
		store:   store,
		logger:  logger,
		adapters: map[string]adapter{
			"amlegal":  amlegalAdapter{},
			"municode": municodeAdapter{},
			"generic":  genericAdapter{},
		},
	}
}

// FetchCounty dispatches to the adapter named by county.Platform, defaulting
// to the generic HTML adapter for unrecognized platforms.
func (f *Fetcher) FetchCounty(ctx context.Context, county config.CountyEntry) ([]domain.Section, error) {
	a, ok := f.adapters[strings.ToLower(county.Platform)]
	if !ok {
		f.logger.Warn("unknown county platform, using generic adapter", zap.String("county", county.Name), zap.String("platform", county.Platform))
		a = f.adapters["generic"]
	}
	sections, err := a.Fetch(ctx, f.scraper, f.store, f.logger, county)
	if err != nil {
		return nil, err
	}
	jurisdiction := tokenizer.CountyJurisdiction(county.State, county.FIPS)
	for i := range sections {
		sections[i].SourceType = domain.SourceCounty
		sections[i].Jurisdiction = jurisdiction
	}
	return sections, nil
}

// --- shared parsing helpers across platforms ---

var headingSelectors = []string{"h2.section-heading", "h2", ".statute-heading", "h1 + h2", "p.heading", "b"}
var bodySelectors = []string{".section-text", ".statute-body", "article", "main", "body"}
var subsectionMarker = regexp.MustCompile(`(\([a-z0-9]+\)(?:\([a-z0-9]+\))*)`)
var whitespaceCollapse = regexp.MustCompile(`[ \t]+`)
var blankLineCollapse = regexp.MustCompile(`\n{3,}`)

func firstMatch(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func cleanBody(text string) string {
	collapsed := whitespaceCollapse.ReplaceAllString(text, " ")
	return strings.TrimSpace(blankLineCollapse.ReplaceAllString(collapsed, "\n\n"))
}

func detectSubsections(body string) []domain.Subsection {
	locs := subsectionMarker.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return nil
	}
	var subs []domain.Subsection
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		subs = append(subs, domain.Subsection{ID: body[loc[0]:loc[1]], Text: strings.TrimSpace(body[loc[0]:end])})
	}
	return subs
}

// storeRawSection persists a fetched section page under the canonical key
// (spec.md §6.1: counties/{state}-{fips}/chapter-{ch}/{section}.html).
// chapter is "chapter-0" for platforms with no chapter grouping (municode,
// generic) since the layout requires a chapter segment.
func storeRawSection(ctx context.Context, store objectstore.Interface, logger *zap.Logger, county config.CountyEntry, chapter, secID string, body []byte) {
	if store == nil {
		return
	}
	if chapter == "" {
		chapter = "chapter-0"
	}
	key := fmt.Sprintf("counties/%s-%s/%s/%s.html", county.State, county.FIPS, chapter, secID)
	if err := store.Put(ctx, key, body, "text/html", map[string]string{
		"source":     county.Name,
		"data_type":  "raw-html",
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Warn("failed to store raw county section html", zap.String("key", key), zap.Error(err))
	}
}

func sectionFromPage(body []byte, county config.CountyEntry, secID, url string) (*domain.Section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, corerr.New(corerr.Validation, secID, fmt.Errorf("parse html: %w", err))
	}
	heading := firstMatch(doc, headingSelectors)
	text := cleanBody(firstMatch(doc, bodySelectors))
	if len(text) < 10 {
		return nil, corerr.New(corerr.Validation, secID, fmt.Errorf("section body too short (%d chars)", len(text)))
	}
	return &domain.Section{
		SectionID:   secID,
		Heading:     heading,
		Text:        text,
		Subsections: detectSubsections(text),
		SourceURL:   url,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// extractAnchorMatches collects the first capture group of every anchor href
// matching pattern, de-duplicated and in document order.
func extractAnchorMatches(body []byte, pattern string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("county: parse anchors: %w", err)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		m := re.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id := m[1]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	})
	return out, nil
}

// Citation formats a county ordinance citation.
func Citation(countyName, section string) string {
	return tokenizer.CitationCounty(countyName, section)
}
