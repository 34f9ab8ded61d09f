// Package httpretry retries HTTP requests that fail with a transient status
// or a network error, using capped exponential backoff with jitter.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Doer executes HTTP requests. *http.Client and *Client both satisfy it, as
// does the HTTPDoer the Prometheus push client accepts.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps a Doer with retries.
type Client struct {
	next       Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New wraps next, or a 30s-timeout http.Client when next is nil. Non-positive
// maxRetries means 3 and a non-positive baseDelay means one second.
func New(next Doer, maxRetries int, baseDelay time.Duration) *Client {
	if next == nil {
		next = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Client{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   30 * baseDelay,
	}
}

// Do sends req, retrying 429 and 5xx gateway statuses and network errors.
// The last response is returned as-is so the caller sees the final status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	ctx := req.Context()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset body: %w", err)
				}
				req.Body = body
			}

			delay := c.delay(attempt)
			log.Printf("[httpretry] %s %s%s attempt %d/%d in %s",
				req.Method, req.URL.Host, req.URL.Path, attempt, c.maxRetries, delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, ctx.Err()
			}
		}

		resp, err := c.next.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: %s returned %d", req.URL.Host, resp.StatusCode)
	}

	return nil, lastErr
}

// delay is full jitter over min(maxDelay, baseDelay*2^(attempt-1)).
func (c *Client) delay(attempt int) time.Duration {
	d := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(c.maxDelay) {
		d = float64(c.maxDelay)
	}
	j := time.Duration(rand.Float64() * d)
	if floor := c.baseDelay / 10; j < floor {
		j = floor
	}
	return j
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
