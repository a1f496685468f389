package oboerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes shared across the delegation chain
const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// Authentication / authorization errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeInsufficientScope    ErrorCode = "INSUFFICIENT_SCOPE"

	// Delegation errors
	ErrCodeIdPUnavailable   ErrorCode = "IDP_UNAVAILABLE"
	ErrCodeConsentRequired  ErrorCode = "CONSENT_REQUIRED"
	ErrCodeInvalidAssertion ErrorCode = "INVALID_ASSERTION"

	// Downstream / orchestration errors
	ErrCodeDownstreamError     ErrorCode = "DOWNSTREAM_ERROR"
	ErrCodeOrchestrationFailed ErrorCode = "ORCHESTRATION_FAILED"
)

// Sentinel errors for the delegation taxonomy. Exchange and validation code
// wraps these so callers can classify with errors.Is without depending on
// message text.
var (
	ErrIdentityProviderUnavailable = errors.New("identity provider unavailable")
	ErrInvalidAssertion            = errors.New("invalid user assertion")
)

// ConsentError signals that the user (or an admin) must interactively grant
// consent before the requested delegation can succeed. It is never retried
// automatically; callers catch it with errors.As and raise a challenge.
type ConsentError struct {
	// Scope the consent was requested for
	Scope string
	// ClientID of the confidential client that lacks consent
	ClientID string
	// Raw OAuth error code from the identity provider, e.g. "consent_required"
	OAuthError string
}

func (e *ConsentError) Error() string {
	return fmt.Sprintf("consent required for scope %q (client %s): %s", e.Scope, e.ClientID, e.OAuthError)
}

// Error represents a structured error with code, message, and a wrapped cause
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// GetCode extracts the error code from an error.
// Returns ErrCodeInternal if the error is not a structured Error.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// ClassifyDelegationError maps a delegation failure onto its error code.
// Consent problems dominate, then assertion problems, then availability.
func ClassifyDelegationError(err error) ErrorCode {
	var consent *ConsentError
	switch {
	case errors.As(err, &consent):
		return ErrCodeConsentRequired
	case errors.Is(err, ErrInvalidAssertion):
		return ErrCodeInvalidAssertion
	case errors.Is(err, ErrIdentityProviderUnavailable):
		return ErrCodeIdPUnavailable
	default:
		return ErrCodeInternal
	}
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeAuthenticationFailed, ErrCodeInvalidAssertion:
		return http.StatusUnauthorized

	// 403 Forbidden
	case ErrCodeInsufficientScope, ErrCodeConsentRequired:
		return http.StatusForbidden

	// 404 Not Found
	case ErrCodeNotFound:
		return http.StatusNotFound

	// 502 Bad Gateway
	case ErrCodeDownstreamError:
		return http.StatusBadGateway

	// 503 Service Unavailable
	case ErrCodeIdPUnavailable:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error (default)
	case ErrCodeInternal, ErrCodeOrchestrationFailed:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Unauthorized creates an "authentication failed" error
func Unauthorized(message string) *Error {
	return New(ErrCodeAuthenticationFailed, message)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}
