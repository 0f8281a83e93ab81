package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These map one-to-one onto the engine's externally visible failure kinds
// and can be wrapped with additional context.
var (
	// Request validation errors
	ErrInvalidRequest = errors.New("invalid request")

	// Lookup errors
	ErrNotFound = errors.New("not found")

	// Availability errors
	ErrUnavailable = errors.New("all safety analyzers unavailable")
	ErrTimeout     = errors.New("operation timeout")

	// Unexpected failures
	ErrInternal = errors.New("internal error")

	// Persistence errors
	ErrPartialSuccess = errors.New("written to some but not all destinations")
	ErrConflict       = errors.New("concurrent write conflict")

	// Resilience errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// EngineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type EngineError struct {
	Op      string // Operation that failed (e.g., "checkpoint.Save")
	Kind    string // Error kind (e.g., "checkpoint", "arbitration", "model")
	ID      string // Optional ID of the entity involved (thread, disruption)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *EngineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError
func NewEngineError(op, kind string, err error) *EngineError {
	return &EngineError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsInvalidRequest checks if an error is an input validation failure
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable checks if an error is the all-safety-analyzers-down halt
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsRetryable checks if an error is a transient failure worth retrying
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConflict)
}
