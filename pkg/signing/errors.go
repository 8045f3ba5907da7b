package signing

import "fmt"

// ImportReason classifies a rejected import.
type ImportReason string

const (
	ReasonSignatureInvalid ImportReason = "signature_invalid"
	ReasonSignatureExpired ImportReason = "signature_expired"
	ReasonVersionConflict  ImportReason = "version_conflict"

	// ReasonMalformed covers exports that cannot be decoded at all.
	ReasonMalformed ImportReason = "malformed"
)

// ImportError reports why a signed bundle was not imported.
type ImportError struct {
	Reason  ImportReason
	Version string
	KeyID   string
	Cause   error
}

// Error returns the error message.
func (e *ImportError) Error() string {
	msg := fmt.Sprintf("import rejected: %s", e.Reason)
	if e.Version != "" {
		msg += fmt.Sprintf(" (bundle %s)", e.Version)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ImportError) Unwrap() error {
	return e.Cause
}

func importError(reason ImportReason, version, keyID string, cause error) *ImportError {
	return &ImportError{Reason: reason, Version: version, KeyID: keyID, Cause: cause}
}
