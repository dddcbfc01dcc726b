// Package domain provides the negotiation model and the canonical error types
// surfaced to transports.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of a transport-level error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates bad framing (content markers) on the inbound message.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeDecode indicates bytes that could not be decoded into a message.
	ErrorTypeDecode ErrorType = "decode"

	// ErrorTypeServer indicates an internal fault; the caller should resend later.
	ErrorTypeServer ErrorType = "server"
)

// APIError is an error that reaches the transport. Protocol disagreements are
// never APIErrors: they are recorded on the message instead.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCause records the error that produced e.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrDecode creates a decode error.
func ErrDecode(err error) *APIError {
	return NewAPIError(ErrorTypeDecode, "unable to decode message").WithCause(err)
}

// ErrServer creates a server error.
func ErrServer(message string, err error) *APIError {
	return NewAPIError(ErrorTypeServer, message).WithCause(err)
}
