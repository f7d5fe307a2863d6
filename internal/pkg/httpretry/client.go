// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient calls to HTTP email APIs.
package httpretry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/mailqueue/internal/backoff"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// minDelay avoids busy-looping when jitter lands near zero.
const minDelay = 100 * time.Millisecond

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	strategy   backoff.Strategy
	sleep      func(time.Duration) <-chan time.Time
	log        *logger.Component
}

// Option tunes a RetryClient.
type Option func(*RetryClient)

// WithDelays overrides the backoff base and cap (1s and 30s by default).
func WithDelays(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		if base > 0 {
			rc.baseDelay = base
		}
		if max > 0 {
			rc.maxDelay = max
		}
	}
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
		sleep:      time.After,
		log:        logger.For("httpretry"),
	}
	for _, o := range opts {
		o(rc)
	}
	rc.strategy = backoff.ExponentialWithJitter{Initial: rc.baseDelay, Max: rc.maxDelay}
	return rc
}

// Do sends req, retrying 429, 5xx gateway/server errors and transport
// errors with jittered exponential backoff. Client errors and context
// cancellation end the loop at once. The final retryable response is
// returned as-is so the caller can read its status and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var (
		lastErr    error
		retryAfter time.Duration
	)
	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, fmt.Errorf("%w (after: %v)", err, lastErr)
			}
			if err := rc.wait(ctx, req, attempt, retryAfter); err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr, retryAfter = err, 0
			continue
		}
		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: %s %s returned %d", req.Method, req.URL.Host, resp.StatusCode)
	}
	return nil, lastErr
}

// rewind restores the request body for another attempt. A body without
// GetBody cannot be replayed, so such requests are not retried.
func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return errors.New("httpretry: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: reset request body: %w", err)
	}
	req.Body = body
	return nil
}

func (rc *RetryClient) wait(ctx context.Context, req *http.Request, attempt int, retryAfter time.Duration) error {
	delay := rc.calculateDelay(attempt, retryAfter)
	rc.log.Warn("retrying request", "attempt", attempt, "max_retries", rc.maxRetries,
		"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay.String())
	select {
	case <-rc.sleep(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateDelay returns the wait before retry attempt n. A server-provided
// Retry-After wins over the jittered exponential delay; both are capped at
// maxDelay.
func (rc *RetryClient) calculateDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, rc.maxDelay)
	}
	return max(rc.strategy.Delay(attempt), minDelay)
}

// parseRetryAfter understands the delta-seconds form only.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient server error that should be retried.
// Retries: 429 (Too Many Requests), 500, 502, 503, 504.
// Does NOT retry: 400, 401, 403, 404, or any other client error.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
