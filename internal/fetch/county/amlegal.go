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

// amlegalAdapter scrapes American Legal Publishing's codelibrary platform:
// a chapter index page links to individual section pages under /chapter-N/.
type amlegalAdapter struct{}

func (amlegalAdapter) Fetch(ctx context.Context, s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger, county config.CountyEntry) ([]domain.Section, error) {
	base := strings.TrimRight(county.BaseURL, "/")
	resp, err := s.Fetch(ctx, base+"/", county.Name+"-toc")
	if err != nil {
		return nil, err
	}
	chapters, err := extractAnchorMatches(resp.Body, `/(chapter-[\w-]+)/?$`)
	if err != nil {
		return nil, err
	}

	var sections []domain.Section
	for _, chapter := range chapters {
		chURL := fmt.Sprintf("%s/%s/", base, chapter)
		chResp, err := s.Fetch(ctx, chURL, county.Name+"-"+chapter)
		if err != nil {
			if corerr.Of(err, corerr.NotFound) {
				continue
			}
			return nil, err
		}
		secIDs, err := extractAnchorMatches(chResp.Body, `/(sec[\w.-]+)/?$`)
		if err != nil {
			return nil, err
		}
		for _, secID := range secIDs {
			secURL := fmt.Sprintf("%s/%s/", chURL, secID)
			secResp, err := s.Fetch(ctx, secURL, county.Name+"-"+secID)
			if err != nil {
				if corerr.Of(err, corerr.NotFound) {
					continue
				}
				return nil, err
			}
			cleanID := strings.TrimPrefix(secID, "sec")
			cleanID = strings.TrimLeft(cleanID, "-_")
			storeRawSection(ctx, store, logger, county, chapter, cleanID, secResp.Body)
			section, err := sectionFromPage(secResp.Body, county, cleanID, secURL)
			if err != nil {
				continue
			}
			section.Code = chapter
			sections = append(sections, *section)
		}
	}
	return sections, nil
}
