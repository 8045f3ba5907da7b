package storage

import (
	"fmt"
	"strings"
)

// Error is a database failure outside a specific store, such as opening
// the database or applying migrations.
type Error struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op string, cause error) *Error {
	return &Error{Op: op, Cause: cause}
}

// Both drivers surface SQLite's own message text, so constraint failures
// are recognized by it rather than by driver-specific error codes.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isTriggerAbort(err error, msg string) bool {
	return err != nil && strings.Contains(err.Error(), msg)
}
