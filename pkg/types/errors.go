package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents different categories of gateway errors
type ErrorKind string

const (
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindForbidden    ErrorKind = "forbidden"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindUnavailable  ErrorKind = "upstream_unavailable"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindDecode       ErrorKind = "decode_failure"
	ErrorKindInternal     ErrorKind = "internal"
)

// GatewayError represents a structured error in the gateway
type GatewayError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to an HTTP status code
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case ErrorKindValidation:
		return http.StatusBadRequest
	case ErrorKindUnauthorized:
		return http.StatusUnauthorized
	case ErrorKindForbidden:
		return http.StatusForbidden
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindUnavailable, ErrorKindDecode:
		return http.StatusBadGateway
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AsGatewayError extracts a *GatewayError from an error chain, wrapping
// unknown errors as internal so callers always see a stable kind.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewInternalError(ErrCodeInternalError, "internal error", err)
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindValidation, Code: code, Message: message}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(code, message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindUnauthorized, Code: code, Message: message}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(code, message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindForbidden, Code: code, Message: message}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindNotFound, Code: code, Message: message}
}

// NewRateLimitedError creates a rate limited error carrying the retry-after hint
func NewRateLimitedError(message string, retryAfterSeconds int) *GatewayError {
	return &GatewayError{
		Kind:    ErrorKindRateLimited,
		Code:    ErrCodeRateLimitExceeded,
		Message: message,
		Details: map[string]interface{}{"retry_after_seconds": retryAfterSeconds},
	}
}

// NewUnavailableError creates a new upstream unavailable error
func NewUnavailableError(code, message string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrorKindUnavailable, Code: code, Message: message, Cause: cause}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string) *GatewayError {
	return &GatewayError{Kind: ErrorKindTimeout, Code: ErrCodeTimeout, Message: message}
}

// NewDecodeError creates a decode failure error with the offending identifier
func NewDecodeError(message string, details map[string]interface{}, cause error) *GatewayError {
	return &GatewayError{
		Kind:    ErrorKindDecode,
		Code:    ErrCodeDecodeFailure,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *GatewayError {
	return &GatewayError{Kind: ErrorKindInternal, Code: code, Message: message, Cause: cause}
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeTokenExpired      = "TOKEN_EXPIRED"
	ErrCodeRefreshFailed     = "REFRESH_FAILED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRouteNotFound     = "ROUTE_NOT_FOUND"
	ErrCodeBlockNotFound     = "BLOCK_NOT_FOUND"
	ErrCodeTxNotFound        = "TRANSACTION_NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeUpstreamError     = "UPSTREAM_UNAVAILABLE"
	ErrCodeNotConnected      = "LEDGER_NOT_CONNECTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeDecodeFailure     = "DECODE_FAILURE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)
