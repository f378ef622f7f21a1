// Package core provides core types, interfaces, and the error taxonomy for
// the data cache gateway.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeCacheUnavailable indicates the shared cache tier is unreachable.
	// Always recovered locally; never surfaced to callers as a failure.
	ErrorTypeCacheUnavailable ErrorType = "cache_unavailable"
	// ErrorTypeRoutingExhausted indicates no provider satisfies the request's
	// cost, rate-limit, and deadline constraints.
	ErrorTypeRoutingExhausted ErrorType = "routing_exhausted"
	// ErrorTypeBudgetExceeded indicates the call was refused because it would
	// overrun the spend budget. Distinct from RoutingExhausted so callers can
	// tell "temporarily too expensive" from "structurally unservable".
	ErrorTypeBudgetExceeded ErrorType = "budget_exceeded"
	// ErrorTypeProviderFailure indicates an upstream transport or HTTP error
	// from a specific provider.
	ErrorTypeProviderFailure ErrorType = "provider_failure"
	// ErrorTypeSizeLimit indicates an entry was too large to cache. The value
	// is still returned to the caller.
	ErrorTypeSizeLimit ErrorType = "size_limit_exceeded"
	// ErrorTypeTimeout indicates the request deadline elapsed before a
	// provider responded.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInvalidRequest indicates a malformed request from the caller.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
)

// GatewayError is the base error type for all gateway errors.
type GatewayError struct {
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
	Provider string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeBudgetExceeded:
		return http.StatusPaymentRequired
	case ErrorTypeRoutingExhausted:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map.
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewCacheUnavailableError wraps a remote cache tier failure.
func NewCacheUnavailableError(err error) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeCacheUnavailable,
		Message: "shared cache tier unreachable",
		Err:     err,
	}
}

// NewRoutingExhaustedError creates an error for a request no provider can serve.
func NewRoutingExhaustedError(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeRoutingExhausted,
		Message: message,
	}
}

// NewBudgetExceededError creates an error for a call refused by the budget gate.
func NewBudgetExceededError(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeBudgetExceeded,
		Message: message,
	}
}

// NewProviderFailureError creates an error for an upstream provider failure.
func NewProviderFailureError(provider, message string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeProviderFailure,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// NewSizeLimitError creates an error for an entry too large to cache.
func NewSizeLimitError(key string, size, limit int) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeSizeLimit,
		Message: fmt.Sprintf("entry %q is %d bytes, cache limit is %d", key, size, limit),
	}
}

// NewTimeoutError creates an error for a request that missed its deadline.
func NewTimeoutError(provider, message string) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeTimeout,
		Message:  message,
		Provider: provider,
	}
}

// NewInvalidRequestError creates an error for a malformed caller request.
func NewInvalidRequestError(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
	}
}

// IsErrorType reports whether err is a GatewayError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Type == t
	}
	return false
}
