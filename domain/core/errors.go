package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound = errors.New("resource not found")

	// Trial integrity errors
	ErrIncompleteTrial    = errors.New("incomplete trial")
	ErrAlignmentFailure   = errors.New("alignment failure")
	ErrPreambleCorruption = errors.New("preamble corruption")
	ErrDenominatorMissing = errors.New("tick count denominator missing")

	// On-device errors
	ErrSignalSourceTimeout = errors.New("signal source timeout")
	ErrPreambleIncomplete  = errors.New("tick emitted before preamble completed")
	ErrTrialNotOpen        = errors.New("trial not open")

	// Format errors
	ErrInvalidTag      = errors.New("invalid transmission tag")
	ErrInvalidLogEntry = errors.New("invalid log entry")
)

// ValidationError reports an invalid field of a domain object
type ValidationError struct {
	Object string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Object, e.Reason)
}

// NewValidationError creates a validation error for a named object
func NewValidationError(object, reason string) error {
	return &ValidationError{Object: object, Reason: reason}
}
