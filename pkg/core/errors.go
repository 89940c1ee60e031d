package core

import (
	"fmt"
)

// Error is the canonical error surfaced through session callbacks.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	CallID  string    `json:"call_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrNetwork        ErrorType = "network_error"
	ErrTransport      ErrorType = "transport_error"
	ErrAPI            ErrorType = "api_error"
	ErrMedia          ErrorType = "media_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(message string) *Error {
	return &Error{
		Type:    ErrNetwork,
		Message: message,
	}
}

// NewTransportError creates a transport error.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// NewMediaError creates an audio device error. Media errors are
// degraded conditions: the session continues without the device.
func NewMediaError(message string) *Error {
	return &Error{
		Type:    ErrMedia,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsFatal reports whether the error aborts the current connection attempt.
// Degraded conditions (microphone, playback) are reported without tearing
// the session down.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrAuthentication, ErrTimeout, ErrNetwork, ErrTransport, ErrAPI:
		return true
	default:
		return false
	}
}
