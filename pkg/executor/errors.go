package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies an execution failure for the retry decision.
type ErrorKind string

const (
	// KindTransient failures (timeouts, network errors, 5xx) are retried
	// once.
	KindTransient ErrorKind = "transient"

	// KindPermanent failures are never retried.
	KindPermanent ErrorKind = "permanent"
)

var (
	// ErrUnknownActionType is returned when no executor is registered for
	// an action type.
	ErrUnknownActionType = errors.New("no executor registered for action type")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("executor registry is frozen")

	// ErrMissingIdempotencyKey is returned when Execute is called without a
	// key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
)

// ExecutionError is the result of a failed dispatch.
type ExecutionError struct {
	// ActionType is the action type that was dispatched.
	ActionType string

	// Kind is the classification of the last attempt's error.
	Kind ErrorKind

	// Attempts is the number of times the executor was invoked.
	Attempts int

	// Cause is the error of the last attempt.
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %s failure after %d attempt(s): %v", e.ActionType, e.Kind, e.Attempts, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// kindError marks an error with an explicit classification.
type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Transient marks err as retryable. Executors use it for failures the
// classifier cannot recognize on its own, such as a downstream "try again".
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindTransient, err: err}
}

// Permanent marks err as not retryable, overriding the classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: KindPermanent, err: err}
}

// StatusError is an unexpected HTTP response from a webhook endpoint.
type StatusError struct {
	// URL is the endpoint that was called.
	URL string

	// StatusCode is the HTTP status code returned.
	StatusCode int

	// Body is the start of the response body, for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status indicates a server-side or
// throttling failure.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Classify returns the kind of err. Explicit marks win; otherwise
// timeouts, deadline expiry, network errors and retryable HTTP statuses
// are transient and everything else is permanent.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return KindTransient
		}
		return KindPermanent
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
