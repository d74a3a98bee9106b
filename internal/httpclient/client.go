// Package httpclient provides the HTTP fetch client used for remote
// source documents and raw repository files.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// MaxResponseSize is the maximum allowed response size (10MB).
	// Source documents and descriptor files are small; anything larger
	// is either misconfigured or hostile.
	MaxResponseSize = 10 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "curio/1.0"

	// DefaultMaxTries is the number of attempts made by the retrying client
	DefaultMaxTries = 3

	// defaultRetryInterval is the initial backoff interval between retries
	defaultRetryInterval = 1 * time.Second
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client  *http.Client
	timeout time.Duration
}

// NewDefaultClient creates a new default HTTP client with the specified timeout.
// If timeout is 0, uses DefaultTimeout
func NewDefaultClient(timeout time.Duration) Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Source documents may be served as JSON or YAML depending on the host.
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, application/yaml, text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, resp.Status)
	}

	// Check Content-Length header if available
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	// Read response body with size limit.
	// Use LimitReader to prevent reading more than MaxResponseSize
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1) // +1 to detect if limit exceeded
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	return body, nil
}

// RetryingClient decorates another Client with exponential backoff.
// Transient failures (network errors, HTTP 429 and 5xx) are retried up to
// maxTries attempts; other HTTP errors fail immediately.
type RetryingClient struct {
	inner    Client
	maxTries uint
	interval time.Duration
}

// RetryOption configures a RetryingClient
type RetryOption func(*RetryingClient)

// WithRetryInterval sets the initial backoff interval between attempts
func WithRetryInterval(d time.Duration) RetryOption {
	return func(c *RetryingClient) {
		c.interval = d
	}
}

// NewRetryingClient wraps inner with retry behavior.
// If maxTries is 0, uses DefaultMaxTries
func NewRetryingClient(inner Client, maxTries uint, opts ...RetryOption) Client {
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	c := &RetryingClient{
		inner:    inner,
		maxTries: maxTries,
		interval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request, retrying transient failures
func (c *RetryingClient) Get(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		body, err := c.inner.Get(ctx, url)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				return nil, backoff.Permanent(err)
			}
			slog.Debug("Retryable fetch failure", "url", url, "error", err)
			return nil, err
		}
		return body, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.interval
	expo.Multiplier = 2

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	return body, nil
}
