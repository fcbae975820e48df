// Package llm calls the external LLM (spec.md §6.4) with a raw HTTP POST,
// matching the teacher's own pattern for calling its inference backend
// (no vendor SDK — see DESIGN.md).
package llm

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

// Message is one chat turn in the request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Client calls the LLM.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func New(endpoint, apiKey, model string) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, model: model, client: &http.Client{Timeout: 120 * time.Second}}
}

// Generate calls the LLM with temperature=0 (spec.md §4.9 step 7), mapping
// failures to the taxonomy in §7.
func (c *Client) Generate(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:       c.model,
		System:      system,
		Messages:    []Message{{Role: "user", Content: userPrompt}},
		Temperature: 0,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", corerr.New(corerr.Timeout, "", err)
		}
		return "", corerr.New(corerr.ApiError, "", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", corerr.New(corerr.RateLimit, "", fmt.Errorf("status 429: %s", string(respBody)))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", corerr.New(corerr.ContentFilter, "", fmt.Errorf("refused: %s", string(respBody)))
	case resp.StatusCode >= 400:
		return "", corerr.New(corerr.ApiError, "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", corerr.New(corerr.ApiError, "", fmt.Errorf("unmarshal response: %w", err))
	}
	return out.Text, nil
}
