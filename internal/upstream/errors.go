package upstream

import (
	"fmt"
	"time"
)

// ConnectionError means the upstream could not be reached at all.
type ConnectionError struct {
	Provider string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("provider %q unreachable: %v", e.Provider, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %q rate limited", e.Provider)
}

// BadRequestError means the upstream rejected the request as malformed.
// Body is the raw provider error payload; it is embedded in Error() the way
// upstream SDKs embed it in their exception text.
type BadRequestError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("Error code: %d - %s", e.StatusCode, e.Body)
}

// StatusError covers any other non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %q unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// StreamError wraps a failure that happened after the stream was opened.
type StreamError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q stream error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q stream error: %s", e.Provider, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}
