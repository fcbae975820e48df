// Package scraper implements the HTTP fetch utility shared by every source
// fetcher: per-host rate limiting, exponential backoff, and 404-vs-transient
// classification. See spec.md §4.4.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"regulatory-rag-core/internal/corerr"
)

const maxAttempts = 4

var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// Scraper fetches URLs with a per-host minimum delay and retry/backoff.
type Scraper struct {
	client      *http.Client
	logger      *zap.Logger
	minDelay    time.Duration
	mu          sync.Mutex
	hostLimiter map[string]*rate.Limiter
}

// New builds a Scraper with the given per-host minimum delay (default
// 200ms per spec.md §4.4).
func New(minDelay time.Duration, logger *zap.Logger) *Scraper {
	if minDelay <= 0 {
		minDelay = 200 * time.Millisecond
	}
	return &Scraper{
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		minDelay:    minDelay,
		hostLimiter: make(map[string]*rate.Limiter),
	}
}

func (s *Scraper) limiterFor(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.hostLimiter[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.minDelay), 1)
		s.hostLimiter[host] = l
	}
	return l
}

// Response is the fetched body plus headers the caller may need.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Fetch performs a GET with per-host rate limiting and retry/backoff. On a
// 404 it returns a corerr.NotFound error; after retries are exhausted on any
// other failure it returns corerr.ScrapingError. label identifies the unit
// of work in logs and in the returned error.
func (s *Scraper) Fetch(ctx context.Context, url, label string) (*Response, error) {
	host, err := hostOf(url)
	if err != nil {
		return nil, corerr.New(corerr.ScrapingError, label, err)
	}
	limiter := s.limiterFor(host)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, corerr.New(corerr.Timeout, label, err)
		}

		resp, err := s.doOnce(ctx, url)
		if err != nil {
			lastErr = err
			if !sleepBackoff(ctx, attempt, 0) {
				return nil, corerr.New(corerr.Timeout, label, ctx.Err())
			}
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, corerr.New(corerr.NotFound, label, fmt.Errorf("404 at %s", url))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d from %s", resp.StatusCode, url)
			retryAfter := parseRetryAfter(resp.Header)
			if !sleepBackoff(ctx, attempt, retryAfter) {
				return nil, corerr.New(corerr.Timeout, label, ctx.Err())
			}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, corerr.New(corerr.ScrapingError, label, fmt.Errorf("status %d from %s", resp.StatusCode, url))
		}
		return resp, nil
	}

	s.logger.Warn("scrape retries exhausted", zap.String("label", label), zap.String("url", url), zap.Error(lastErr))
	return nil, corerr.New(corerr.ScrapingError, label, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (s *Scraper) doOnce(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}, nil
}

// sleepBackoff sleeps the schedule entry for attempt (overridden by
// retryAfter if positive), returning false if ctx was cancelled first.
func sleepBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
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
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func hostOf(rawURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	return req.URL.Host, nil
}
