// Package core provides core types and interfaces for the chat gateway.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider call failure (5xx)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates malformed client input (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeUnknownProvider indicates the requested provider has no profile
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrorTypeMissingCredential indicates the provider's API key is not configured
	ErrorTypeMissingCredential ErrorType = "missing_credential"
	// ErrorTypeStreamingNotPermitted indicates the provider rejected streaming
	// for permission/verification reasons. Non-fatal: triggers one-shot fallback.
	ErrorTypeStreamingNotPermitted ErrorType = "streaming_not_permitted"
	// ErrorTypeCancelled indicates the turn was cancelled by the client.
	// Not a failure: it is a normal terminal state.
	ErrorTypeCancelled ErrorType = "cancelled"
)

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest, ErrorTypeUnknownProvider:
		return http.StatusBadRequest
	case ErrorTypeAuthentication, ErrorTypeMissingCredential:
		return http.StatusUnauthorized
	case ErrorTypeProvider, ErrorTypeStreamingNotPermitted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewProviderError creates a new provider error (upstream failure)
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewUnknownProviderError indicates the provider name has no registered profile.
func NewUnknownProviderError(provider string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUnknownProvider,
		Message:    "unknown provider: " + provider,
		StatusCode: http.StatusBadRequest,
		Provider:   provider,
	}
}

// NewMissingCredentialError indicates the provider exists but its API key is absent.
func NewMissingCredentialError(provider, envVar string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeMissingCredential,
		Message:    envVar + " not set",
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewStreamingNotPermittedError signals that streaming was rejected for
// permission reasons. The orchestrator intercepts this and falls back to a
// one-shot call instead of failing the turn.
func NewStreamingNotPermittedError(provider, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeStreamingNotPermitted,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Provider:   provider,
	}
}

// NewCancelledError marks a turn that was cancelled by the client.
func NewCancelledError(turnID string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeCancelled,
		Message: "turn " + turnID + " cancelled",
	}
}

// AsGatewayError normalizes any error into a *GatewayError. Errors that
// already carry gateway classification pass through; everything else is
// wrapped as a provider error attributed to the given provider.
func AsGatewayError(provider string, err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewProviderError(provider, 0, err.Error(), err)
}

// IsStreamingNotPermitted reports whether err carries the non-fatal
// streaming-permission signal.
func IsStreamingNotPermitted(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Type == ErrorTypeStreamingNotPermitted
}

// providerErrorBody is the common error envelope returned by OpenAI-style APIs.
type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// ParseProviderError parses an error response from a provider and returns an appropriate GatewayError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errResp providerErrorBody

	message := string(body)
	param := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		param = errResp.Error.Param
	}

	switch {
	case isStreamingPermissionRejection(statusCode, param, message):
		return NewStreamingNotPermittedError(provider, message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		// Client errors from provider - preserve both provider info and original status code
		err := NewInvalidRequestErrorWithStatus(statusCode, message, originalErr)
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
}

// isStreamingPermissionRejection detects the distinguishable error class some
// providers return when streaming a model requires organization verification
// or elevated permission. These must trigger fallback, not fail the turn.
func isStreamingPermissionRejection(statusCode int, param, message string) bool {
	if statusCode != http.StatusBadRequest && statusCode != http.StatusForbidden {
		return false
	}
	m := strings.ToLower(message)
	if !strings.Contains(m, "stream") {
		return false
	}
	if param == "stream" {
		return true
	}
	return strings.Contains(m, "verif") || strings.Contains(m, "permission") ||
		strings.Contains(m, "not allowed") || strings.Contains(m, "organization")
}
