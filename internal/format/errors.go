package format

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnsupportedVersion = errors.New("unsupported binary version")
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrTooManyVariables   = errors.New("too many variables in file")
	ErrNameTooLong        = errors.New("variable name too long")
	ErrInvalidName        = errors.New("invalid variable name")
	ErrDuplicateName      = errors.New("duplicate variable name")
	ErrInvalidDType       = errors.New("invalid dtype code")
	ErrSizeMismatch       = errors.New("variable size does not match shape")
	ErrDanglingAlias      = errors.New("alias target not found")
	ErrMalformedString    = errors.New("malformed string")
	ErrInvalidEnum        = errors.New("enumeration attribute is not a scalar")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type     string // Type of error (e.g., "duplicate_name", "size_mismatch")
	Variable string // Variable involved
	Err      error  // Sentinel error
	Details  string // Additional details
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("%s: variable %q: %s", e.Type, e.Variable, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Unwrap returns the sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
