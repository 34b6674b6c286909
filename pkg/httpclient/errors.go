package httpclient

import (
	"fmt"
	"time"
)

// RetryableError reports a transient HTTP failure: a 429 or 5xx answer, or
// retry budget exhaustion. RetryAfter carries the server's backoff hint when
// one was sent; callers that retry at a higher level (the LLM providers)
// should honor it.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return msg
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable marks the error for retry-aware callers.
func (e *RetryableError) IsRetryable() bool {
	return true
}
