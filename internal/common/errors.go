package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error taxonomy. Only ErrConfig is fatal to a run; everything else degrades
// to a per-document flag surfaced by the reporter.
var (
	ErrConfig        = errors.New("invalid project configuration")
	ErrNoTextLayer   = errors.New("no extractable text layer")
	ErrFilteredOut   = errors.New("known non-target document")
	ErrUnrecognized  = errors.New("unrecognized document layout")
	ErrFieldMissing  = errors.New("required field missing")
	ErrOCRExhausted  = errors.New("ocr attempts exhausted")
	ErrMergeConflict = errors.New("conflicting record with same identity")
	ErrWriteConflict = errors.New("spreadsheet cell changed since snapshot")
	ErrOutOfScope    = errors.New("provider outside batch scope")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
