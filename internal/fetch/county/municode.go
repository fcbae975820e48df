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

// municodeAdapter scrapes Municipal Code Corporation's library platform:
// a single-page table of contents linking directly to section anchors
// within the same document tree, addressed by numeric node id.
type municodeAdapter struct{}

func (municodeAdapter) Fetch(ctx context.Context, s *scraper.Scraper, store objectstore.Interface, logger *zap.Logger, county config.CountyEntry) ([]domain.Section, error) {
	base := strings.TrimRight(county.BaseURL, "/")
	resp, err := s.Fetch(ctx, base+"/", county.Name+"-toc")
	if err != nil {
		return nil, err
	}
	nodeIDs, err := extractAnchorMatches(resp.Body, `nodeId=([\w-]+)`)
	if err != nil {
		return nil, err
	}

	var sections []domain.Section
	for _, nodeID := range nodeIDs {
		secURL := fmt.Sprintf("%s/?nodeId=%s", base, nodeID)
		secResp, err := s.Fetch(ctx, secURL, county.Name+"-"+nodeID)
		if err != nil {
			if corerr.Of(err, corerr.NotFound) {
				continue
			}
			return nil, err
		}
		storeRawSection(ctx, store, logger, county, "", nodeID, secResp.Body)
		section, err := sectionFromPage(secResp.Body, county, nodeID, secURL)
		if err != nil {
			continue
		}
		sections = append(sections, *section)
	}
	return sections, nil
}
