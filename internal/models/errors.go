package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure so handlers and retry logic can treat the
// classes uniformly without string matching.
type ErrorCode string

const (
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeOwnership    ErrorCode = "OWNERSHIP_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeProvider     ErrorCode = "PROVIDER_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// DomainError carries the error class alongside the human-readable message.
// Provider and internal errors wrap their cause for diagnostics.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error class to its HTTP-equivalent status code.
func (e *DomainError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation, ErrCodeInvalidState:
		return http.StatusBadRequest
	case ErrCodeOwnership:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports malformed or missing input. Never retried.
func NewValidationError(format string, args ...interface{}) error {
	return &DomainError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewOwnershipError reports that an entity does not belong to the caller.
func NewOwnershipError(format string, args ...interface{}) error {
	return &DomainError{Code: ErrCodeOwnership, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(format string, args ...interface{}) error {
	return &DomainError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransitionError reports a state change absent from the transition
// table. The requesting operation must not have mutated any state.
func NewInvalidTransitionError(entityType EntityType, from, to string) error {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entityType, from, to),
	}
}

// NewProviderError reports an external TSP failure, wrapping the cause.
func NewProviderError(cause error, format string, args ...interface{}) error {
	return &DomainError{Code: ErrCodeProvider, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewInternalError wraps an unexpected database or infrastructure failure.
func NewInternalError(cause error, format string, args ...interface{}) error {
	return &DomainError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the error class, defaulting to INTERNAL_ERROR for untyped
// errors that escaped classification.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given class.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
