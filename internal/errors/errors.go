// Package errors holds the error definitions shared by the fault log store.
//
// This file provides:
// - API error codes surfaced to the binding layer
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities
// - ValidationErrors for configuration checks
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// API error codes - stable values handed to the binding layer
// ============================================================================

const (
	CodeOK               int32 = 0
	CodeUnknown          int32 = 1
	CodeInternal         int32 = 2
	CodeStorage          int32 = 3
	CodeIngestionFailed  int32 = 4
	CodeNotRunning       int32 = 5
	CodeInvalidParameter int32 = 401
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeUnknown:
		return "Unknown"
	case CodeInternal:
		return "Internal"
	case CodeStorage:
		return "Storage"
	case CodeIngestionFailed:
		return "IngestionFailed"
	case CodeNotRunning:
		return "NotRunning"
	case CodeInvalidParameter:
		return "InvalidParameter"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Parameter errors
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidCategory  = errors.New("invalid fault category")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Write path
	ErrIngestion   = errors.New("ingestion failed")
	ErrRateLimited = errors.New("rate limited")

	// Storage errors
	ErrStorage       = errors.New("storage error")
	ErrCorruptRecord = errors.New("corrupt record")
	ErrSegmentGone   = errors.New("segment no longer exists")

	// State errors
	ErrNotRunning     = errors.New("not running")
	ErrAlreadyRunning = errors.New("already running")
	ErrClosed         = errors.New("closed")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsInvalidParameter returns true if err is a parameter validation error.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrMissingField)
}

// isStorage returns true if err originated in the durable log.
func isStorage(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrSegmentGone)
}

// isStateError returns true if err is a lifecycle error.
func isStateError(err error) bool {
	return errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrClosed)
}

// ============================================================================
// Error to code mapping
// ============================================================================

// ErrorToCode maps an error to its API code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeOK
	}

	switch {
	case IsInvalidParameter(err):
		return CodeInvalidParameter
	case Is(err, ErrIngestion), Is(err, ErrRateLimited):
		return CodeIngestionFailed
	case isStorage(err):
		return CodeStorage
	case isStateError(err):
		return CodeNotRunning
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// NewIngestion marks cause as an ingestion failure while keeping it inspectable.
func NewIngestion(cause error) error {
	return fmt.Errorf("%w: %w", ErrIngestion, cause)
}

// NewStorage marks cause as a storage failure while keeping it inspectable.
func NewStorage(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, cause)
}

// NewInvalidParameter creates a parameter error with context.
func NewInvalidParameter(param, reason string) error {
	return fmt.Errorf("%s: %s: %w", param, reason, ErrInvalidParameter)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a validation error for a config field.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
