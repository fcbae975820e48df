// Package embedder batches text into fixed-dimension vectors against an
// external embedding service, with pre-validation, retry/backoff, and a
// Redis-backed cache. See spec.md §4.7 and §6.3.
package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/corerr"
	"regulatory-rag-core/internal/tokenizer"
)

const (
	BatchSize        = 64
	InterBatchSleep  = 100 * time.Millisecond
	maxRetries       = 4
)

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Embedder embeds text batches, preserving order.
type Embedder struct {
	endpoint   string
	apiKey     string
	model      string
	hardLimit  int
	client     *http.Client
	cache      *redis.Client
	logger     *zap.Logger
	sleepBatch func(context.Context) bool
}

// New constructs an Embedder. cache may be nil to disable response caching.
func New(endpoint, apiKey, model string, hardLimit int, cache *redis.Client, logger *zap.Logger) *Embedder {
	return &Embedder{
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		hardLimit: hardLimit,
		client:    &http.Client{Timeout: 60 * time.Second},
		cache:     cache,
		logger:    logger,
		sleepBatch: func(ctx context.Context) bool {
			select {
			case <-time.After(InterBatchSleep):
				return true
			case <-ctx.Done():
				return false
			}
		},
	}
}

// Embed embeds texts, preserving order. Pre-validates each text's token
// count against hardLimit before calling the service at all.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if n := tokenizer.CountTokens(t); n > e.hardLimit {
			return nil, corerr.New(corerr.TokenLimit, fmt.Sprintf("text[%d]", i), fmt.Errorf(
				"text exceeds hard limit of %d tokens (measured %d)", e.hardLimit, n))
		}
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := e.embedBatchWithCache(ctx, batch)
		if err != nil {
			return nil, err
		}
		copy(out[start:end], vectors)

		if end < len(texts) {
			if !e.sleepBatch(ctx) {
				return nil, corerr.New(corerr.Timeout, "", ctx.Err())
			}
		}
	}
	return out, nil
}

func (e *Embedder) embedBatchWithCache(ctx context.Context, batch []string) ([][]float32, error) {
	if e.cache == nil {
		return e.embedBatch(ctx, batch)
	}

	result := make([][]float32, len(batch))
	missIdx := make([]int, 0, len(batch))
	missTexts := make([]string, 0, len(batch))

	for i, text := range batch {
		key := cacheKey(e.model, text)
		val, err := e.cache.Get(ctx, key).Result()
		if err == nil {
			var v []float32
			if jsonErr := json.Unmarshal([]byte(val), &v); jsonErr == nil {
				result[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	fetched, err := e.embedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		result[idx] = fetched[i]
		if b, err := json.Marshal(fetched[i]); err == nil {
			e.cache.Set(ctx, cacheKey(e.model, missTexts[i]), b, 30*24*time.Hour)
		}
	}
	return result, nil
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%s:%s", model, hex.EncodeToString(h[:]))
}

type embedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embedBatch calls the external embedding service once, retrying on 429/5xx
// per spec.md §4.7.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	var lastErr error
	var last429 bool
	var retryAfter time.Duration
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if !e.sleepRetry(ctx, attempt-1, retryAfter) {
				return nil, corerr.New(corerr.Timeout, "", ctx.Err())
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedder: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = err
			retryAfter = 0
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
			last429 = resp.StatusCode == http.StatusTooManyRequests
			retryAfter = parseRetryAfter(resp.Header)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, corerr.New(corerr.ApiError, "", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, corerr.New(corerr.ApiError, "", fmt.Errorf("unmarshal response: %w", err))
		}
		vectors := make([][]float32, len(parsed.Data))
		for i, d := range parsed.Data {
			vectors[i] = d.Embedding
		}
		return vectors, nil
	}

	if last429 {
		return nil, corerr.New(corerr.RateLimit, "", fmt.Errorf("retries exhausted: %w", lastErr))
	}
	return nil, corerr.New(corerr.ApiError, "", fmt.Errorf("retries exhausted: %w", lastErr))
}

func (e *Embedder) sleepRetry(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	d := backoffSchedule[attempt%len(backoffSchedule)]
	if retryAfter > 0 {
		d = retryAfter
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
