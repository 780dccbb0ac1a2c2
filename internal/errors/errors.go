// Package errors provides typed errors for the holdings link service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common error cases.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the user is not authenticated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates a validation error.
	ErrValidation = errors.New("validation error")

	// ErrInternal indicates an internal server error.
	ErrInternal = errors.New("internal error")

	// ErrRateLimit indicates too many requests.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrAuthRequired indicates a missing user identity or bearer credential.
	// It is a precondition failure and is never retried automatically.
	ErrAuthRequired = errors.New("authentication required")

	// ErrTokenRequest indicates the link token could not be issued.
	ErrTokenRequest = errors.New("link token request failed")

	// ErrExchange indicates the public token exchange failed.
	ErrExchange = errors.New("public token exchange failed")

	// ErrSyncTrigger indicates the provider sync could not be triggered.
	ErrSyncTrigger = errors.New("holdings sync trigger failed")

	// ErrStoreRead indicates the holdings store could not be read after a sync.
	ErrStoreRead = errors.New("holdings store read failed")

	// ErrSync is the link-level failure of the final holdings sync step.
	ErrSync = errors.New("holdings sync failed")

	// ErrTimeout indicates a network call exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrUserCancelled marks a consent flow the user exited. It is an
	// outcome, not a failure.
	ErrUserCancelled = errors.New("user cancelled")

	// ErrBusy indicates another link or refresh operation is in flight.
	ErrBusy = errors.New("operation already in progress")
)

// AppError is a structured application error.
type AppError struct {
	// Type is the error type (sentinel error).
	Type error
	// Message is the user-facing error message.
	Message string
	// Details contains additional error details.
	Details map[string]any
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the error type and the cause, so a timeout raised while
// issuing a link token matches ErrTimeout as well as ErrTokenRequest.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Type, e.Cause}
	}
	return []error{e.Type}
}

// Is checks if this error matches the target.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

// New creates a new AppError.
func New(errType error, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(errType error, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails adds details to an AppError.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Type:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// AuthRequired creates an authentication precondition error.
func AuthRequired(message string) *AppError {
	if message == "" {
		message = "user identity and bearer token are required"
	}
	return &AppError{
		Type:    ErrAuthRequired,
		Message: message,
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Type:    ErrValidation,
		Message: message,
	}
}

// Internal creates an internal error.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthRequired checks if an error is an authentication precondition error.
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrAuthRequired)
}

// IsTimeout checks if an error is a network timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if an error marks a user-cancelled consent flow.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTokenRequest), errors.Is(err, ErrExchange),
		errors.Is(err, ErrSyncTrigger), errors.Is(err, ErrStoreRead), errors.Is(err, ErrSync):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
