// Package mdrender calls the external Markdown rendering service used only
// by the municipal fetcher (spec.md §6.6).
package mdrender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"regulatory-rag-core/internal/corerr"
)

type renderRequest struct {
	URL string `json:"url"`
}

type renderResponse struct {
	Markdown string `json:"markdown"`
}

// Client calls the rendering service.
type Client struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string) *Client {
	return &Client{endpoint: endpoint, client: &http.Client{Timeout: 30 * time.Second}}
}

// Render requests clean Markdown for a city page URL.
func (c *Client) Render(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(renderRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("mdrender: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mdrender: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", corerr.New(corerr.ApiError, url, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return "", corerr.New(corerr.NotFound, url, fmt.Errorf("404"))
	}
	if resp.StatusCode >= 400 {
		return "", corerr.New(corerr.ScrapingError, url, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out renderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", corerr.New(corerr.ApiError, url, fmt.Errorf("unmarshal response: %w", err))
	}
	return out.Markdown, nil
}
