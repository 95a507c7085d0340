// Package errors provides structured error types for the inactivity agent.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrDenied       = errors.New("access denied")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrCorrupt      = errors.New("corrupt document")
)

// APIError represents an error from a chat platform call.
type APIError struct {
	Service string
	Method  string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Service, e.Method, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Service, e.Method, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError wraps err as a failed call to service.method.
func NewAPIError(service, method string, err error) *APIError {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return &APIError{Service: service, Method: method, Message: msg, Err: err}
}

// IsAPIError reports whether err came from an external collaborator.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsTransient returns true if the error is likely transient. Delivery is
// never retried automatically; the flag only selects the log level and
// metric label.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
