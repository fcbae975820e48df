// Package federal fetches and parses the Code of Federal Regulations from
// the eCFR versioner API. See spec.md §4.5.1.
package federal

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
)

const baseURL = "https://www.ecfr.gov/api/versioner/v1"

// Fetcher yields parsed Sections for one CFR title, with a process-
// lifetime cache of the "available date" (spec.md §4.5.1 step 1) and the
// object-store-backed CachedPart layer (§4.5.1 closing paragraph).
type Fetcher struct {
	scraper *scraper.Scraper
	store   objectstore.Interface
	logger  *zap.Logger

	dateOnce sync.Once
	date     string
	dateErr  error
}

func New(s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger) *Fetcher {
	return &Fetcher{scraper: s, store: store, logger: logger}
}

// availableDate resolves and caches the versioner's "available date" for
// the process lifetime, falling back to 7 days ago if the /titles endpoint
// is unreachable.
func (f *Fetcher) availableDate(ctx context.Context) (string, error) {
	f.dateOnce.Do(func() {
		resp, err := f.scraper.Fetch(ctx, baseURL+"/titles", "ecfr-titles-metadata")
		if err != nil {
			f.logger.Warn("ecfr titles metadata unavailable, falling back to 7 days ago", zap.Error(err))
			f.date = time.Now().AddDate(0, 0, -7).Format("2006-01-02")
			return
		}
		var parsed struct {
			Titles []struct {
				Number     int    `json:"number"`
				LatestDate string `json:"latest_issue_date"`
			} `json:"titles"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil || len(parsed.Titles) == 0 {
			f.date = time.Now().AddDate(0, 0, -7).Format("2006-01-02")
			return
		}
		f.date = parsed.Titles[0].LatestDate
	})
	return f.date, f.dateErr
}

// FetchTitle discovers all parts under title N and returns their Sections,
// storing the raw XML and a CachedPart blob per part along the way.
func (f *Fetcher) FetchTitle(ctx context.Context, titleNumber int) ([]domain.Section, error) {
	date, err := f.availableDate(ctx)
	if err != nil {
		return nil, err
	}

	structURL := fmt.Sprintf("%s/structure/%s/title-%d.json", baseURL, date, titleNumber)
	resp, err := f.scraper.Fetch(ctx, structURL, fmt.Sprintf("title-%d-structure", titleNumber))
	if err != nil {
		return nil, err
	}

	parts, err := collectParts(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("federal: parse structure for title %d: %w", titleNumber, err)
	}

	var allSections []domain.Section
	for _, part := range parts {
		sections, err := f.fetchPart(ctx, titleNumber, part, date)
		if err != nil {
			f.logger.Warn("part fetch failed", zap.Int("title", titleNumber), zap.String("part", part), zap.Error(err))
			continue
		}
		allSections = append(allSections, sections...)
	}
	return allSections, nil
}

func (f *Fetcher) fetchPart(ctx context.Context, titleNumber int, part, date string) ([]domain.Section, error) {
	url := fmt.Sprintf("%s/full/%s/title-%d.xml?part=%s", baseURL, date, titleNumber, part)
	resp, err := f.scraper.Fetch(ctx, url, fmt.Sprintf("title-%d-part-%s", titleNumber, part))
	if err != nil {
		return nil, err
	}

	rawKey := fmt.Sprintf("federal/cfr/title-%d/part-%s.xml", titleNumber, part)
	if f.store != nil {
		if err := f.store.Put(ctx, rawKey, resp.Body, "application/xml", map[string]string{
			"source":     fmt.Sprintf("cfr-title-%d", titleNumber),
			"data_type":  "raw-xml",
			"fetched_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			f.logger.Warn("failed to store raw part xml", zap.String("key", rawKey), zap.Error(err))
		}
	}

	sections, err := parsePartXML(resp.Body, titleNumber)
	if err != nil {
		return nil, fmt.Errorf("federal: parse part %s xml: %w", part, err)
	}

	if f.store != nil {
		cached := domain.CachedPart{
			TitleNumber: fmt.Sprintf("%d", titleNumber),
			PartNumber:  part,
			Sections:    sections,
			Metadata: domain.CachedPartMetadata{
				FetchedAt:    time.Now().UTC(),
				ParsedAt:     time.Now().UTC(),
				XMLHash:      xmlHash(resp.Body),
				SectionCount: len(sections),
			},
		}
		if b, err := json.Marshal(cached); err == nil {
			cacheKey := fmt.Sprintf("cache/federal/title-%d/part-%s.json", titleNumber, part)
			if err := f.store.Put(ctx, cacheKey, b, "application/json", map[string]string{
				"source":     fmt.Sprintf("cfr-title-%d", titleNumber),
				"data_type":  "cached-part",
				"fetched_at": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				f.logger.Warn("failed to store cached part", zap.String("key", cacheKey), zap.Error(err))
			}
		}
	}

	return sections, nil
}

func xmlHash(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}

// --- structure.json walking ---

type structureNode struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Children   []structureNode `json:"children"`
}

func collectParts(body []byte) ([]string, error) {
	var root structureNode
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, err
	}
	var parts []string
	var walk func(structureNode)
	walk = func(n structureNode) {
		if n.Type == "part" {
			parts = append(parts, n.Identifier)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return parts, nil
}

// --- XML DIV hierarchy parsing (spec.md §4.5.1 steps 3-4) ---

// div is a generic node matching any DIVn element; DIV5 TYPE="PART" is a
// bare single-part response, ECFR/DIV1 wraps a full-title response.
type div struct {
	XMLName  xml.Name
	Type     string `xml:"TYPE,attr"`
	N        string `xml:"N,attr"`
	Effective string `xml:"EFFECTIVE,attr"`
	Amended   string `xml:"AMENDED,attr"`
	Head     string `xml:"HEAD"`
	Sectno   string `xml:"SECTNO"`
	P        []string `xml:"P"`
	FP       []string `xml:"FP"`
	Divs     []div    `xml:",any"`
}

var headingStrip = regexp.MustCompile(`^§\s*[\d.]+\.?\s*`)

func parsePartXML(body []byte, titleNumber int) ([]domain.Section, error) {
	var root div
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, err
	}

	var sections []domain.Section
	var walk func(d div, partNumber string)
	walk = func(d div, partNumber string) {
		if d.XMLName.Local == "DIV5" && d.Type == "PART" {
			partNumber = d.N
		}
		if d.XMLName.Local == "DIV8" && d.Type == "SECTION" {
			sections = append(sections, sectionFromDiv(d, titleNumber, partNumber))
			return
		}
		for _, child := range d.Divs {
			walk(child, partNumber)
		}
	}
	walk(root, "")
	return sections, nil
}

var sectnoStrip = regexp.MustCompile(`^§\s*`)

func sectionFromDiv(d div, titleNumber int, partNumber string) domain.Section {
	sectNo := sectnoStrip.ReplaceAllString(strings.TrimSpace(d.Sectno), "")
	if sectNo == "" {
		sectNo = d.N
	}
	heading := headingStrip.ReplaceAllString(strings.TrimSpace(d.Head), "")

	var paragraphs []string
	for _, p := range d.P {
		if t := strings.TrimSpace(p); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	for _, p := range d.FP {
		if t := strings.TrimSpace(p); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}

	section := domain.Section{
		SourceType:   domain.SourceFederal,
		Jurisdiction: domain.FederalJurisdiction,
		TitleNumber:  fmt.Sprintf("%d", titleNumber),
		PartNumber:   partNumber,
		SectionID:    sectNo,
		Heading:      heading,
		Text:         strings.Join(paragraphs, "\n\n"),
		SourceURL:    fmt.Sprintf("https://www.ecfr.gov/current/title-%d/part-%s#%s", titleNumber, partNumber, sectNo),
		FetchedAt:    time.Now().UTC(),
	}
	if d.Effective != "" {
		if t, err := dateparse.ParseAny(d.Effective); err == nil {
			section.EffectiveDate = &t
		}
	}
	if d.Amended != "" {
		if t, err := dateparse.ParseAny(d.Amended); err == nil {
			section.LastAmended = &t
		}
	}
	return section
}
