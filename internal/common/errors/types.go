// Package errors defines the structured error taxonomy shared across the cache engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeRemoteUnavailable represents network, timeout or connection failures
	// against the shared remote tier. Always locally recoverable.
	ErrTypeRemoteUnavailable ErrorType = "remote_unavailable"
	// ErrTypeSerialization represents a malformed cached payload
	ErrTypeSerialization ErrorType = "serialization"
	// ErrTypeFetcher represents a failure raised by a caller-supplied fetcher
	ErrTypeFetcher ErrorType = "fetcher"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// RemoteUnavailableError creates a new remote-tier availability error
func RemoteUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRemoteUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// SerializationError creates a new serialization error
func SerializationError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeSerialization,
		Message: msg,
		Cause:   cause,
	}
}

// FetcherError creates a new fetcher error
func FetcherError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeFetcher,
		Message: msg,
		Cause:   cause,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
