package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound marks application errors raised for ids that do not resolve.
var ErrNotFound = errors.New("not found")

// ValidationError reports a violated numeric or structural precondition.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return validationf(format, args...)
}

// ApplicationError reports a violated cross-entity business rule.
type ApplicationError struct {
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	return e.Message
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// NewApplicationError creates an ApplicationError with a formatted message.
func NewApplicationError(format string, args ...interface{}) error {
	return &ApplicationError{Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates an ApplicationError that matches ErrNotFound.
func NewNotFoundError(format string, args ...interface{}) error {
	return &ApplicationError{Message: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

// IsNotFound reports whether err is a not-found application error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AllocationError is returned when the pool allocator breaks its own
// post-conditions. It signals a bug, not bad input.
type AllocationError struct {
	ShipID string
	Reason string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("pool allocation invariant violated for %s: %s", e.ShipID, e.Reason)
}
