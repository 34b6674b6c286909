// Package httpclient provides an HTTP client with retry and rate-limit
// awareness, shared by the LLM providers and the geolocation resolver.
package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// RetryStrategy classifies how a failed attempt should be handled: not at
// all, with a couple of quick retries, or with hint-aware backoff.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

// RateLimitInfo carries whatever throttling hints an upstream response
// exposed through its headers.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	InputTokensRemaining  int
	OutputTokensRemaining int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy retries aggressively on throttling, cautiously on
// transient server errors, and not at all otherwise.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying according to the configured strategy.
// Bodies are replayed through req.GetBody, so requests built with
// http.NewRequest retry correctly. Backoff waits honor the request context.
//
// Transport-level errors are returned as-is without retrying. When the retry
// budget runs out the last response is returned together with a
// *RetryableError wrapping the HTTP status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		httpErr := fmt.Errorf("HTTP %d", resp.StatusCode)
		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry {
			return resp, httpErr
		}

		var hints RateLimitInfo
		if c.headerParser != nil {
			hints = c.headerParser(resp.Header)
		}
		delay := c.retryDelay(strategy, attempt, hints)

		if attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: delay,
				Err:        httpErr,
			}
		}
		if delay <= 0 {
			return resp, httpErr
		}

		c.logRetry(strategy, delay, attempt, resp.StatusCode)
		resp.Body.Close()
		if err := sleepCtx(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) retryDelay(strategy RetryStrategy, attempt int, hints RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if hints.RetryAfter > 0 {
			return hints.RetryAfter
		}
		if hints.ResetTime > 0 {
			if until := time.Until(time.Unix(hints.ResetTime, 0)); until > 0 {
				return until
			}
		}
		backoff := c.baseDelay << attempt
		return backoff + backoff/10

	case ConservativeRetry:
		// At most two quick retries for server-side blips.
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

func (c *Client) logRetry(strategy RetryStrategy, delay time.Duration, attempt, statusCode int) {
	switch strategy {
	case SmartRetry:
		slog.Warn("Rate limited, retrying",
			"status_code", statusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries,
		)
	case ConservativeRetry:
		slog.Debug("Server error, quick retry",
			"status_code", statusCode,
			"delay", delay,
			"attempt", attempt+1,
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
