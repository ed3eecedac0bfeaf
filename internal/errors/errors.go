package errors

import (
	stderrors "errors"
	"fmt"

	"beaconrig/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    codeForSentinel(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	if code := codeForSentinel(err); code != CodeInternalError {
		return code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"

	CodeIncompleteTrial     = "INCOMPLETE_TRIAL"
	CodeAlignmentFailure    = "ALIGNMENT_FAILURE"
	CodeSignalSourceTimeout = "SIGNAL_SOURCE_TIMEOUT"
	CodePreambleCorruption  = "PREAMBLE_CORRUPTION"
	CodeDenominatorMissing  = "DENOMINATOR_MISSING"
)

func codeForSentinel(err error) string {
	switch {
	case stderrors.Is(err, core.ErrIncompleteTrial):
		return CodeIncompleteTrial
	case stderrors.Is(err, core.ErrAlignmentFailure):
		return CodeAlignmentFailure
	case stderrors.Is(err, core.ErrSignalSourceTimeout):
		return CodeSignalSourceTimeout
	case stderrors.Is(err, core.ErrPreambleCorruption):
		return CodePreambleCorruption
	case stderrors.Is(err, core.ErrDenominatorMissing):
		return CodeDenominatorMissing
	case stderrors.Is(err, core.ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Cause:   core.ErrNotFound,
	}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// IncompleteTrial marks a trial that lacks its closing footer or minimum duration
func IncompleteTrial(reason string) *AppError {
	return &AppError{Code: CodeIncompleteTrial, Message: reason, Cause: core.ErrIncompleteTrial}
}

// AlignmentFailure marks a trial with no unique step indices to fit an offset
func AlignmentFailure(reason string) *AppError {
	return &AppError{Code: CodeAlignmentFailure, Message: reason, Cause: core.ErrAlignmentFailure}
}

// PreambleCorruption marks a condition id that could not be trusted
func PreambleCorruption(reason string) *AppError {
	return &AppError{Code: CodePreambleCorruption, Message: reason, Cause: core.ErrPreambleCorruption}
}
