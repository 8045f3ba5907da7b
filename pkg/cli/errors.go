package cli

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"jobmail-hq/governor/pkg/client"
	"jobmail-hq/governor/pkg/policy"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitInvalid     = 3
	ExitNotFound    = 4
	ExitConflict    = 5
	ExitRejected    = 6
	ExitUnavailable = 7
	ExitDenied      = 8
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode returns the exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitUsage
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			return ExitInvalid
		case http.StatusNotFound:
			return ExitNotFound
		case http.StatusConflict:
			return ExitConflict
		case http.StatusUnprocessableEntity:
			return ExitRejected
		case http.StatusNotImplemented, http.StatusServiceUnavailable:
			return ExitUnavailable
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitDenied
		}
		return ExitError
	}

	var valErr *policy.ValidationError
	if errors.As(err, &valErr) {
		return ExitInvalid
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ExitUnavailable
	}
	return ExitError
}
