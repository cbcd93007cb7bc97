package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from an upstream provider. The status code
// decides whether a retry is worth attempting.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error (%d): %s", e.Status, e.Body)
}

// Retryable reports whether the failure class can plausibly succeed on a
// later attempt. Rate limits and server errors are transient; auth and
// not-found failures are not.
func (e *APIError) Retryable() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	case http.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// GenerationError marks an upstream call that failed after the retry budget
// was spent (or failed hard with a non-retryable kind).
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable classifies an arbitrary client error. Context cancellation is
// never retried; typed API errors decide for themselves; anything else
// (network resets, malformed bodies) is treated as transient.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}
