package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// Client wraps an HTTP client with a circuit breaker. Both connectors fetch
// through one of these; repeated upstream failures trip the breaker so a
// down feed is skipped quickly instead of timing out candidate by candidate.
type Client struct {
	feed    string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client for one feed. timeout bounds a single request on
// top of whatever deadline the caller's context carries.
func NewClient(feed string, timeout time.Duration) *Client {
	return &Client{
		feed:  feed,
		httpc: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        feed,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Get fetches url and returns the response body. Network failures, non-2xx
// statuses and an open breaker all come back as a TransientFetchError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, &domain.TransientFetchError{Feed: c.feed, URL: url, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &domain.TransientFetchError{Feed: c.feed, URL: url, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &domain.TransientFetchError{Feed: c.feed, URL: url, Err: err}
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.TransientFetchError{Feed: c.feed, URL: url, Err: fmt.Errorf("circuit open: %w", err)}
		}
		return nil, err
	}
	return result.([]byte), nil
}
