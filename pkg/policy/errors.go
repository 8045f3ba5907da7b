package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrImmutable is the cause of a ValidationError raised when editing a
// bundle that has left draft.
var ErrImmutable = errors.New("bundle is immutable outside draft")

// ValidationError indicates a policy or bundle failed validation.
type ValidationError struct {
	Subject string // policy ID or bundle version
	Errors  []string
	Cause   error
}

// NewValidationError creates a ValidationError with a single message.
func NewValidationError(subject, msg string, cause error) *ValidationError {
	return &ValidationError{Subject: subject, Errors: []string{msg}, Cause: cause}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		if e.Cause != nil {
			return fmt.Sprintf("%s: validation error: %v", e.Subject, e.Cause)
		}
		return fmt.Sprintf("%s: validation error", e.Subject)
	case 1:
		return fmt.Sprintf("%s: validation error: %s", e.Subject, e.Errors[0])
	}
	return fmt.Sprintf("%s: %d validation errors: %s", e.Subject, len(e.Errors), strings.Join(e.Errors, "; "))
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ConflictError indicates an optimistic version check failed: the caller
// acted on a stale view of the registry.
type ConflictError struct {
	Version  string // bundle being changed
	Expected string // version the caller believed current
	Actual   string // version actually current
}

// Error returns the error message.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("bundle %s: conflict: expected current %q, found %q", e.Version, e.Expected, e.Actual)
}

// RollbackError indicates a rollback could not restore a known-good bundle.
type RollbackError struct {
	Version string
	Reason  string
	Cause   error
}

// Error returns the error message.
func (e *RollbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rollback of bundle %s failed: %s: %v", e.Version, e.Reason, e.Cause)
	}
	return fmt.Sprintf("rollback of bundle %s failed: %s", e.Version, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// NotFoundError indicates a bundle, policy or other record does not exist.
type NotFoundError struct {
	Kind string // "bundle", "policy", "action", ...
	ID   string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
