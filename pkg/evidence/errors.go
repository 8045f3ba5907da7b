package evidence

import (
	"errors"
	"fmt"
)

// ErrAppendOnly is returned when a caller tries to overwrite, update or
// delete an audit record.
var ErrAppendOnly = errors.New("audit trail is append-only")

// ErrRecordNotFound is returned by Get for unknown record IDs.
var ErrRecordNotFound = errors.New("audit record not found")

// ErrBlobNotFound is returned when an evidence reference has no blob.
var ErrBlobNotFound = errors.New("evidence blob not found")

// ErrBlobCorrupt is returned when a blob's content no longer hashes to its
// reference.
var ErrBlobCorrupt = errors.New("evidence blob content does not match its reference")

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string // "memory", "sqlite"
	Operation string // "append", "query", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// QueryError represents an invalid audit query.
type QueryError struct {
	Query *Query
	Cause error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(query *Query, cause error) *QueryError {
	return &QueryError{
		Query: query,
		Cause: cause,
	}
}

// RecorderError represents a failure to record an audit entry.
type RecorderError struct {
	Event Event
	Cause error
}

// Error implements the error interface.
func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder error [event=%s]: %v", e.Event, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RecorderError) Unwrap() error {
	return e.Cause
}

// NewRecorderError creates a new RecorderError.
func NewRecorderError(event Event, cause error) *RecorderError {
	return &RecorderError{Event: event, Cause: cause}
}

// ExportError represents an error during audit export.
type ExportError struct {
	Format      string // "json", "csv"
	RecordCount int
	Cause       error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, record_count=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, recordCount int, cause error) *ExportError {
	return &ExportError{
		Format:      format,
		RecordCount: recordCount,
		Cause:       cause,
	}
}
