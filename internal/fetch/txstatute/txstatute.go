// Package txstatute fetches and parses Texas statutes from the Texas
// Legislature's static HTML site. See spec.md §4.5.2.
package txstatute

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
	"regulatory-rag-core/internal/tokenizer"
)

// baseURL is a var (not const) so tests can redirect it at an httptest server.
var baseURL = "https://statutes.capitol.texas.gov"

// headingSelectors and bodySelectors are ranked: first match wins, per
// spec.md §4.5.2 step 3.
var headingSelectors = []string{"h2.section-heading", "h2", ".statute-heading", "h1 + h2", "p.heading", "b"}
var bodySelectors = []string{".section-text", ".statute-body", "article", "main", "body"}

var subsectionMarker = regexp.MustCompile(`(\([a-z0-9]+\)(?:\([a-z0-9]+\))*)`)

// Fetcher yields parsed Sections for one Texas statute code.
type Fetcher struct {
	scraper *scraper.Scraper
	store   objectstore.Interface
	logger  *zap.Logger
}

// New constructs a Fetcher. store may be nil to disable raw-document
// persistence (tests mostly don't need it).
func New(s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger) *Fetcher {
	return &Fetcher{scraper: s, store: store, logger: logger}
}

// FetchCode discovers all chapters and sections for code (e.g. "PE") and
// returns their parsed Sections.
func (f *Fetcher) FetchCode(ctx context.Context, code string) ([]domain.Section, error) {
	tocURL := fmt.Sprintf("%s/Docs/%s/htm/%s.toc.htm", baseURL, code, code)
	resp, err := f.scraper.Fetch(ctx, tocURL, fmt.Sprintf("%s-toc", code))
	if err != nil {
		return nil, err
	}

	chapters, err := extractAnchorMatches(resp.Body, fmt.Sprintf(`%s\.(\d+)\.htm`, regexp.QuoteMeta(code)))
	if err != nil {
		return nil, err
	}
	sort.Strings(chapters)

	var sections []domain.Section
	for _, ch := range chapters {
		chURL := fmt.Sprintf("%s/Docs/%s/htm/%s.%s.htm", baseURL, code, code, ch)
		chResp, err := f.scraper.Fetch(ctx, chURL, fmt.Sprintf("%s-ch-%s", code, ch))
		if err != nil {
			if corerr.Of(err, corerr.NotFound) {
				continue
			}
			return nil, err
		}

		secIDs, err := extractAnchorMatches(chResp.Body, fmt.Sprintf(`%s\.%s\.([\w-]+)\.htm`, regexp.QuoteMeta(code), regexp.QuoteMeta(ch)))
		if err != nil {
			return nil, err
		}

		for _, secID := range secIDs {
			section, err := f.fetchSection(ctx, code, ch, secID)
			if err != nil {
				if corerr.Of(err, corerr.NotFound) {
					continue
				}
				return nil, err
			}
			sections = append(sections, *section)
		}
	}
	return sections, nil
}

func (f *Fetcher) fetchSection(ctx context.Context, code, chapter, secID string) (*domain.Section, error) {
	url := fmt.Sprintf("%s/Docs/%s/htm/%s.%s.%s.htm", baseURL, code, code, chapter, secID)
	resp, err := f.scraper.Fetch(ctx, url, fmt.Sprintf("%s.%s.%s", code, chapter, secID))
	if err != nil {
		return nil, err
	}

	f.storeRaw(ctx, code, chapter, secID, resp.Body)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return nil, corerr.New(corerr.Validation, secID, fmt.Errorf("parse html: %w", err))
	}

	heading := firstMatch(doc, headingSelectors)
	body := firstMatch(doc, bodySelectors)
	body = cleanBody(body)

	if len(body) < 10 {
		return nil, corerr.New(corerr.Validation, secID, fmt.Errorf("section body too short (%d chars)", len(body)))
	}
	if heading == "" {
		f.logger.Warn("missing heading", zap.String("section", secID), zap.String("url", url))
	}

	section := &domain.Section{
		SourceType:   domain.SourceState,
		Jurisdiction: "TX",
		Code:         code,
		ChapterNumber: chapter,
		SectionID:    fmt.Sprintf("%s.%s", chapter, secID),
		Heading:      heading,
		Text:         body,
		Subsections:  detectSubsections(body),
		SourceURL:    url,
		FetchedAt:    time.Now().UTC(),
	}
	return section, nil
}

// storeRaw persists the fetched section HTML under the canonical key
// (spec.md §6.1: texas/statutes/{code}/chapter-{ch}/{section}.html).
func (f *Fetcher) storeRaw(ctx context.Context, code, chapter, secID string, body []byte) {
	if f.store == nil {
		return
	}
	key := fmt.Sprintf("texas/statutes/%s/chapter-%s/%s.html", code, chapter, secID)
	if err := f.store.Put(ctx, key, body, "text/html", map[string]string{
		"source":     fmt.Sprintf("tx-statute-%s", code),
		"data_type":  "raw-html",
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		f.logger.Warn("failed to store raw statute section html", zap.String("key", key), zap.Error(err))
	}
}

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

var whitespaceCollapse = regexp.MustCompile(`[ \t]+`)
var blankLineCollapse = regexp.MustCompile(`\n{3,}`)
var boilerplateLines = regexp.MustCompile(`(?i)^(statutes|home|site map|texas constitution|copyright).*$`)

func cleanBody(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	for _, l := range lines {
		if boilerplateLines.MatchString(strings.TrimSpace(l)) {
			continue
		}
		kept = append(kept, whitespaceCollapse.ReplaceAllString(l, " "))
	}
	joined := strings.Join(kept, "\n")
	return strings.TrimSpace(blankLineCollapse.ReplaceAllString(joined, "\n\n"))
}

// detectSubsections scans body for markers like "(a)", "(a)(1)" and splits
// sequentially at match boundaries, attaching each subsequent block to the
// preceding marker (spec.md §4.5.2 step 4).
func detectSubsections(body string) []domain.Subsection {
	locs := subsectionMarker.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return nil
	}
	var subs []domain.Subsection
	for i, loc := range locs {
		start := loc[0]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		marker := body[loc[0]:loc[1]]
		text := strings.TrimSpace(body[start:end])
		subs = append(subs, domain.Subsection{ID: marker, Text: text})
	}
	return subs
}

func extractAnchorMatches(body []byte, pattern string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("txstatute: parse anchors: %w", err)
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

// Citation formats this code/section as a Bluebook citation.
func Citation(code, section string) string {
	return tokenizer.CitationTexasStatute(code, section)
}
