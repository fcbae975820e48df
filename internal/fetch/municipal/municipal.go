// Package municipal fetches city ordinance codes via an external Markdown
// rendering service and splits the resulting Markdown into Sections by
// walking its goldmark AST. See spec.md §4.5.5.
package municipal

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/mdrender"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/tokenizer"
)

// chapterHeading recognizes "# Chapter N", "## Article I", "## Part I".
var chapterHeading = regexp.MustCompile(`(?i)^(chapter|article|part)\s+([\w.-]+)`)

// sectionHeading recognizes "Sec. 1-2. Definitions" style headings at
// depth 2-4.
var sectionHeading = regexp.MustCompile(`(?i)^(sec(?:tion)?\.?\s*)?([\d.-]+)[.:\s-]+(.+)$`)

var subsectionMarker = regexp.MustCompile(`(\([a-z0-9]+\)(?:\([a-z0-9]+\))*)`)

// Client renders a city's base URL to Markdown and splits it into Sections.
type Client struct {
	render *mdrender.Client
	store  objectstore.Interface
	logger *zap.Logger
}

// New constructs a Client. store may be nil to disable raw-document
// persistence (tests mostly don't need it).
func New(render *mdrender.Client, store objectstore.Interface, logger *zap.Logger) *Client {
	return &Client{render: render, store: store, logger: logger}
}

// FetchCity renders city.BaseURL and parses the result into Sections. It
// logs a warning (not an error) if fewer than half the discovered section
// candidates pass validation, per spec.md §4.5.5's last bullet.
func (c *Client) FetchCity(ctx context.Context, city config.CityEntry) ([]domain.Section, error) {
	markdown, err := c.render.Render(ctx, city.BaseURL)
	if err != nil {
		return nil, err
	}

	slug := tokenizer.Slugify(city.Name)
	c.storeRawPage(ctx, city, slug, markdown)

	candidates := splitSections(markdown)
	jurisdiction := tokenizer.MunicipalJurisdiction(city.State, city.Name)

	var sections []domain.Section
	var total int
	for _, cand := range candidates {
		total++
		sec, warnings := validate(cand)
		if sec == nil {
			continue
		}
		sec.SourceType = domain.SourceMunicipal
		sec.Jurisdiction = jurisdiction
		sec.City = city.Name
		sec.SourceURL = city.BaseURL
		sec.FetchedAt = time.Now().UTC()
		sec.Warnings = warnings
		c.storeSection(ctx, city, slug, *sec)
		sections = append(sections, *sec)
	}

	if total > 0 && len(sections)*2 < total {
		c.logger.Warn("municipal section pass rate below 50%",
			zap.String("city", city.Name), zap.Int("candidates", total), zap.Int("passed", len(sections)))
	}
	return sections, nil
}

// storeRawPage persists the whole rendered Markdown page under the
// canonical key (spec.md §6.1: municipal/{state}-{slug}/raw/page.md).
func (c *Client) storeRawPage(ctx context.Context, city config.CityEntry, slug, markdown string) {
	if c.store == nil {
		return
	}
	key := "municipal/" + city.State + "-" + slug + "/raw/page.md"
	if err := c.store.Put(ctx, key, []byte(markdown), "text/markdown", map[string]string{
		"source":     city.Name,
		"data_type":  "raw-markdown",
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		c.logger.Warn("failed to store raw city markdown page", zap.String("key", key), zap.Error(err))
	}
}

// storeSection persists one parsed Section under the canonical key
// (spec.md §6.1: municipal/{state}-{slug}/chapter-{ch}/{section}.json).
func (c *Client) storeSection(ctx context.Context, city config.CityEntry, slug string, sec domain.Section) {
	if c.store == nil {
		return
	}
	chapter := tokenizer.Slugify(sec.ChapterNumber)
	if chapter == "" {
		chapter = "chapter-0"
	}
	b, err := json.Marshal(sec)
	if err != nil {
		return
	}
	key := "municipal/" + city.State + "-" + slug + "/" + chapter + "/" + sec.SectionID + ".json"
	if err := c.store.Put(ctx, key, b, "application/json", map[string]string{
		"source":     city.Name,
		"data_type":  "parsed-section",
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		c.logger.Warn("failed to store parsed city section", zap.String("key", key), zap.Error(err))
	}
}

// rawSection is a section candidate before validation: an optional chapter
// label, a heading line, and the accumulated body text.
type rawSection struct {
	chapter string
	heading string
	secID   string
	body    strings.Builder
}

// splitSections walks the Markdown AST, tracking the current chapter label
// via heading-depth-1/2 chapter markers, and starting a new rawSection at
// every heading (depth 2-4) matching sectionHeading.
func splitSections(markdown string) []*rawSection {
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var sections []*rawSection
	var current *rawSection
	var chapter string

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			switch node := child.(type) {
			case *ast.Heading:
				line := headingText(node, src)
				if node.Level <= 2 {
					if m := chapterHeading.FindStringSubmatch(line); m != nil {
						chapter = strings.TrimSpace(m[1] + " " + m[2])
						continue
					}
				}
				if node.Level >= 2 && node.Level <= 4 {
					if m := sectionHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
						current = &rawSection{chapter: chapter, heading: strings.TrimSpace(m[3]), secID: strings.TrimRight(m[2], ".")}
						sections = append(sections, current)
						continue
					}
				}
				walk(child)
			case *ast.Paragraph, *ast.List, *ast.Blockquote, *ast.FencedCodeBlock, *ast.CodeBlock:
				if current != nil {
					if current.body.Len() > 0 {
						current.body.WriteString("\n\n")
					}
					current.body.WriteString(blockText(child, src))
				}
				walk(child)
			default:
				walk(child)
			}
		}
	}
	walk(doc)
	return sections
}

func headingText(h *ast.Heading, src []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString("\n")
			}
			return
		}
		if n.Type() == ast.TypeBlock {
			if cb, ok := n.(*ast.FencedCodeBlock); ok {
				for i := 0; i < cb.Lines().Len(); i++ {
					seg := cb.Lines().At(i)
					b.Write(seg.Value(src))
				}
				return
			}
			if cb, ok := n.(*ast.CodeBlock); ok {
				for i := 0; i < cb.Lines().Len(); i++ {
					seg := cb.Lines().At(i)
					b.Write(seg.Value(src))
				}
				return
			}
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// validate checks minimum-field requirements and returns accumulated
// warnings rather than discarding the section outright when non-fatal
// fields are missing, per spec.md §4.5.5's "collect warnings but include
// the section if minimum fields hold."
func validate(r *rawSection) (*domain.Section, []string) {
	var warnings []string
	body := strings.TrimSpace(r.body.String())

	if r.secID == "" {
		return nil, nil
	}
	if len(body) < 10 {
		return nil, nil
	}
	if r.heading == "" {
		warnings = append(warnings, "missing heading")
	}

	return &domain.Section{
		ChapterNumber: r.chapter,
		SectionID:     r.secID,
		Heading:       r.heading,
		Text:          body,
		Subsections:   detectSubsections(body),
	}, warnings
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

// Citation formats this city/section as a Bluebook citation.
func Citation(city, section string) string {
	return tokenizer.CitationMunicipal(city, section)
}
