// Package geocode calls the external geocoder (spec.md §6.5) and resolves
// the jurisdiction list for a street address. A geocoder failure never
// raises to the caller: it downgrades to the federal-only fallback.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/domain"
	"regulatory-rag-core/internal/tokenizer"
)

// Client calls the geocoder.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

func New(endpoint, apiKey string, logger *zap.Logger) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 5 * time.Second}, logger: logger}
}

type geocodeResponse struct {
	State      string `json:"state"`
	CountyFIPS string `json:"county_fips"`
	City       string `json:"city"`
}

// Resolve calls the geocoder for address and composes the jurisdiction list
// per spec.md §4.9 step 1: always "US", plus state/county/municipal forms
// when present. On any failure it logs and returns (["US"], err) so the
// caller can distinguish "fell back" from "succeeded" while still getting a
// usable list either way.
func (c *Client) Resolve(ctx context.Context, address string) ([]domain.Jurisdiction, error) {
	fallback := []domain.Jurisdiction{domain.FederalJurisdiction}
	if address == "" {
		return fallback, nil
	}

	geo, err := c.call(ctx, address)
	if err != nil {
		c.logger.Warn("geocoder failed, falling back to federal jurisdiction", zap.Error(err))
		return fallback, corerr.New(corerr.GeocodeError, address, err)
	}

	jurisdictions := []domain.Jurisdiction{domain.FederalJurisdiction}
	if geo.State != "" {
		jurisdictions = append(jurisdictions, geo.State)
	}
	if geo.State != "" && geo.CountyFIPS != "" {
		jurisdictions = append(jurisdictions, tokenizer.CountyJurisdiction(geo.State, geo.CountyFIPS))
	}
	if geo.State != "" && geo.City != "" {
		jurisdictions = append(jurisdictions, tokenizer.MunicipalJurisdiction(geo.State, geo.City))
	}
	return jurisdictions, nil
}

func (c *Client) call(ctx context.Context, address string) (*geocodeResponse, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}

	var out geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	return &out, nil
}
