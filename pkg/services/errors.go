// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/persistence"
)

var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid callback status")

	// ErrProcessingFailed is the only error text a caller sees for internal failures.
	ErrProcessingFailed = errors.New("failed to process callback")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsNotFoundError reports the lead and reply lookups that answer with a 404.
func IsNotFoundError(err error) bool {
	return persistence.IsLeadNotFound(err) || persistence.IsReplyNotFound(err)
}

// IsProcessingError reports an internal failure that must not leak details.
func IsProcessingError(err error) bool {
	return errors.Is(err, ErrProcessingFailed)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newProcessingError(op string) *ServiceError {
	return &ServiceError{Op: op, Code: "processing_failed", Err: ErrProcessingFailed}
}

func newNotFoundError(op, entity string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: entity + "_not_found", Message: entity + " not found", Err: err}
}
