package errors

import (
	"fmt"
	"strings"
)

// ErrorType categorizes the type of error encountered during parsing or validation.
type ErrorType string

const (
	ErrorTypeSyntax     ErrorType = "syntax"     // YAML/JSON syntax error
	ErrorTypeStructural ErrorType = "structural" // malformed node (operator, children, field)
	ErrorTypeLiteral    ErrorType = "literal"    // literal incompatible with operator
	ErrorTypeLimit      ErrorType = "limit"      // configured limit exceeded
)

// Error is a single parse or validation problem.
type Error struct {
	Type       ErrorType
	Message    string
	Path       string // node path inside the tree; empty for the root
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Type, e.Message))
	if e.Path != "" {
		sb.WriteString(fmt.Sprintf(" (at %s)", e.Path))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("; %s", e.Suggestion))
	}
	return sb.String()
}

// ErrorList accumulates errors instead of failing on the first one.
type ErrorList struct {
	Errors []*Error
}

// NewErrorList creates a new empty error list.
func NewErrorList() *ErrorList {
	return &ErrorList{Errors: make([]*Error, 0)}
}

// Add appends an error to the list.
func (el *ErrorList) Add(err *Error) {
	el.Errors = append(el.Errors, err)
}

// AddError creates and adds a new error.
func (el *ErrorList) AddError(errType ErrorType, message, path string) {
	el.Add(&Error{Type: errType, Message: message, Path: path})
}

// AddErrorWithSuggestion creates and adds a new error with a suggestion.
func (el *ErrorList) AddErrorWithSuggestion(errType ErrorType, message, path, suggestion string) {
	el.Add(&Error{Type: errType, Message: message, Path: path, Suggestion: suggestion})
}

// HasErrors returns true if the list contains any errors.
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// Count returns the number of errors in the list.
func (el *ErrorList) Count() int {
	return len(el.Errors)
}

// Error implements the error interface.
func (el *ErrorList) Error() string {
	switch len(el.Errors) {
	case 0:
		return ""
	case 1:
		return el.Errors[0].Error()
	}
	msgs := make([]string, len(el.Errors))
	for i, err := range el.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(el.Errors), strings.Join(msgs, "; "))
}

// ToError returns nil if the list is empty, otherwise the list itself.
func (el *ErrorList) ToError() error {
	if !el.HasErrors() {
		return nil
	}
	return el
}

// HasErrorType returns true if the list contains an error of the given type.
func (el *ErrorList) HasErrorType(errType ErrorType) bool {
	for _, err := range el.Errors {
		if err.Type == errType {
			return true
		}
	}
	return false
}
