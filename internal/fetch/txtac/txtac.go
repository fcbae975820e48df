// Package txtac fetches and parses the Texas Administrative Code from the
// Secretary of State's TAC viewer. See spec.md §4.5.3.
package txtac

import (
	"context"
	"fmt"
	"net/url"
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
var baseURL = "https://texreg.sos.state.tx.us/public/readtac$ext.ViewTAC"

var headingSelectors = []string{"h2.section-heading", "h2", ".statute-heading", "h1 + h2", "p.heading", "b"}
var bodySelectors = []string{".section-text", ".statute-body", "article", "main", "body"}

// subsectionMarker accepts (a), (a)(1), (a)(2)(A) shapes.
var subsectionMarker = regexp.MustCompile(`(\([a-zA-Z0-9]+\)(?:\([a-zA-Z0-9]+\))*)`)

// Fetcher yields parsed Sections for one TAC title.
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

func (f *Fetcher) FetchTitle(ctx context.Context, title int) ([]domain.Section, error) {
	tocURL := fmt.Sprintf("%s?ti=%d", baseURL, title)
	resp, err := f.scraper.Fetch(ctx, tocURL, fmt.Sprintf("tac-title-%d-toc", title))
	if err != nil {
		return nil, err
	}

	chapters, err := extractQueryParam(resp.Body, "ch")
	if err != nil {
		return nil, err
	}
	sort.Strings(chapters)

	var sections []domain.Section
	for _, ch := range chapters {
		chURL := fmt.Sprintf("%s?ti=%d&ch=%s", baseURL, title, ch)
		chResp, err := f.scraper.Fetch(ctx, chURL, fmt.Sprintf("tac-title-%d-ch-%s", title, ch))
		if err != nil {
			if corerr.Of(err, corerr.NotFound) {
				continue
			}
			return nil, err
		}

		rules, err := extractQueryParam(chResp.Body, "rl")
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			section, err := f.fetchRule(ctx, title, ch, rule)
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

func (f *Fetcher) fetchRule(ctx context.Context, title int, chapter, rule string) (*domain.Section, error) {
	ruleURL := fmt.Sprintf("%s?ti=%d&ch=%s&rl=%s", baseURL, title, chapter, rule)
	resp, err := f.scraper.Fetch(ctx, ruleURL, fmt.Sprintf("tac-%d-%s-%s", title, chapter, rule))
	if err != nil {
		return nil, err
	}

	f.storeRaw(ctx, title, chapter, rule, resp.Body)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return nil, corerr.New(corerr.Validation, rule, fmt.Errorf("parse html: %w", err))
	}

	heading := firstMatch(doc, headingSelectors)
	body := cleanBody(firstMatch(doc, bodySelectors))
	if len(body) < 10 {
		return nil, corerr.New(corerr.Validation, rule, fmt.Errorf("rule body too short"))
	}

	return &domain.Section{
		SourceType:    domain.SourceState,
		Jurisdiction:  "TX",
		TitleNumber:   fmt.Sprintf("%d", title),
		ChapterNumber: chapter,
		SectionID:     rule,
		Heading:       heading,
		Text:          body,
		Subsections:   detectSubsections(body),
		SourceURL:     ruleURL,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// storeRaw persists the fetched rule HTML under the canonical key
// (spec.md §6.1: texas/tac/title-{N}/chapter-{ch}/{section}.html).
func (f *Fetcher) storeRaw(ctx context.Context, title int, chapter, rule string, body []byte) {
	if f.store == nil {
		return
	}
	key := fmt.Sprintf("texas/tac/title-%d/chapter-%s/%s.html", title, chapter, rule)
	if err := f.store.Put(ctx, key, body, "text/html", map[string]string{
		"source":     fmt.Sprintf("tx-tac-%d", title),
		"data_type":  "raw-html",
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		f.logger.Warn("failed to store raw tac rule html", zap.String("key", key), zap.Error(err))
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

// extractQueryParam finds anchors carrying the given query parameter and
// returns their unique values, matching spec.md §4.5.3's "discover via
// anchors carrying ch=/rl=" rule.
func extractQueryParam(body []byte, param string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("txtac: parse anchors: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		v := u.Query().Get(param)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	})
	return out, nil
}

// Citation formats this title/section as a Bluebook citation.
func Citation(title, section string) string {
	return tokenizer.CitationTexasTAC(title, section)
}
