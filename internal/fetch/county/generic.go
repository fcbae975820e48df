package county

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"regulatory-rag-core/internal/config"
	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/objectstore"
	"regulatory-rag-core/internal/scraper"
)

// genericAdapter handles county sites with no known platform signature: it
// treats every same-directory anchor on the base page as a section page and
// relies on sectionFromPage's ranked-selector parsing and ≥10-char body
// validation to discard navigation chrome.
type genericAdapter struct{}

func (genericAdapter) Fetch(ctx context.Context, s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger, county config.CountyEntry) ([]domain.Section, error) {
	base := strings.TrimRight(county.BaseURL, "/")
	resp, err := s.Fetch(ctx, base+"/", county.Name+"-toc")
	if err != nil {
		return nil, err
	}
	links, err := extractAnchorMatches(resp.Body, `/([\w-]+\.html?)$`)
	if err != nil {
		return nil, err
	}

	var sections []domain.Section
	for _, link := range links {
		secURL := fmt.Sprintf("%s/%s", base, link)
		secResp, err := s.Fetch(ctx, secURL, county.Name+"-"+link)
		if err != nil {
			if corerr.Of(err, corerr.NotFound) {
				continue
			}
			return nil, err
		}
		storeRawSection(ctx, store, logger, county, "", link, secResp.Body)
		section, err := sectionFromPage(secResp.Body, county, link, secURL)
		if err != nil {
			continue
		}
		sections = append(sections, *section)
	}
	return sections, nil
}
