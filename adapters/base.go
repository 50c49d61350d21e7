// Package adapters converts each civic-tech vendor's native representation
// into a stream of normalized meeting records.
package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// UserAgent identifies the crawler politely on every request.
const UserAgent = "engagic-crawler/1.0 (+https://engagic.org/crawler)"

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
)

// Session is a retrying HTTP client shared by every adapter. GETs retry up to
// three times with exponential backoff (1s, 2s, 4s) on transport errors, 429
// and 5xx.
type Session struct {
	client *http.Client
	logger *slog.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewSession builds a session with the default timeout.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Get fetches a URL with retries and returns the response body. The caller
// owns closing the body. Non-retryable statuses (4xx other than 429) fail
// immediately.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned %d for %s", resp.StatusCode, url)
		} else if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("request failed with %d for %s", resp.StatusCode, url)
		} else {
			return resp, nil
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			s.sleep(backoff)
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// GetBytes fetches a URL and reads the whole body.
func (s *Session) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

// GetDocument fetches a URL and parses it into a goquery DOM for CSS-selector
// extraction.
func (s *Session) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html from %s: %w", url, err)
	}
	return doc, nil
}
