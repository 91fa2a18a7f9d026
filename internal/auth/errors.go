package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a stable, machine-readable error identifier returned to clients.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeRateLimited        Code = "rate_limited"
	CodeInvalidToken       Code = "invalid_token"
	CodeExpiredToken       Code = "token_expired"
	CodeRevokedToken       Code = "token_revoked"
	CodeSessionExpired     Code = "session_expired"
	CodeWrongTokenType     Code = "wrong_token_type"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeInsufficientRole   Code = "insufficient_role"
	CodeEmailTaken         Code = "email_taken"
	CodeUserNotFound       Code = "user_not_found"
	CodeWeakPassword       Code = "weak_password"
	CodeInternal           Code = "internal_error"
)

// Error is the typed error returned by the auth core for expected failure paths.
type Error struct {
	Code       Code          // Stable identifier, also used for errors.Is matching.
	Message    string        // Human readable message, safe to show to clients.
	Details    []string      // Per-field problems for validation failures.
	RetryAfter time.Duration // Set for rate limited responses.
	Err        error         // Underlying cause, never rendered to clients.
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrValidation is returned when a payload has a bad shape or a missing field.
	ErrValidation = &Error{Code: CodeValidation, Message: "validation failed"}
	// ErrInvalidCredentials is returned for any login failure. It never reveals whether the email exists.
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid credentials"}
	// ErrRateLimited is returned when the identity or the source address is saturated.
	ErrRateLimited = &Error{Code: CodeRateLimited, Message: "too many failed attempts, please try again later"}
	// ErrInvalidToken is returned when a token is malformed or its signature does not verify.
	ErrInvalidToken = &Error{Code: CodeInvalidToken, Message: "invalid or expired token"}
	// ErrExpiredToken is returned when a correctly signed token is past its expiry.
	ErrExpiredToken = &Error{Code: CodeExpiredToken, Message: "invalid or expired token"}
	// ErrRevokedToken is returned when the token id is blacklisted.
	ErrRevokedToken = &Error{Code: CodeRevokedToken, Message: "invalid or expired token"}
	// ErrSessionExpired is returned when the token's session is gone or timed out.
	ErrSessionExpired = &Error{Code: CodeSessionExpired, Message: "invalid or expired token"}
	// ErrWrongTokenType is returned when a refresh token is used as an access token or the reverse.
	ErrWrongTokenType = &Error{Code: CodeWrongTokenType, Message: "invalid or expired token"}
	// ErrUnauthenticated is returned when a protected route receives no bearer token.
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	// ErrInsufficientRole is returned when the principal's role does not satisfy the route.
	ErrInsufficientRole = &Error{Code: CodeInsufficientRole, Message: "insufficient permissions"}
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = &Error{Code: CodeEmailTaken, Message: "email already registered"}
	// ErrUserNotFound is returned when a user record is not found in the database.
	ErrUserNotFound = &Error{Code: CodeUserNotFound, Message: "user not found"}
	// ErrWeakPassword is returned when a new password does not satisfy the password policy.
	ErrWeakPassword = &Error{Code: CodeWeakPassword, Message: "password does not meet requirements"}
	// ErrInternal is returned for unexpected failures. The cause is logged, never rendered.
	ErrInternal = &Error{Code: CodeInternal, Message: "internal server error"}
)

// Validation builds a validation error listing every failing field.
func Validation(details []string) *Error {
	return &Error{Code: CodeValidation, Message: ErrValidation.Message, Details: details}
}

// RateLimited builds a rate limit error carrying the retry-after hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Code: CodeRateLimited, Message: ErrRateLimited.Message, RetryAfter: retryAfter}
}

// WeakPassword wraps a password policy violation.
func WeakPassword(cause error) *Error {
	return &Error{Code: CodeWeakPassword, Message: cause.Error(), Details: []string{cause.Error()}, Err: cause}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: ErrInternal.Message, Err: cause}
}

// IsTokenError reports whether err is one of the token verification failures.
func IsTokenError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeInvalidToken, CodeExpiredToken, CodeRevokedToken, CodeSessionExpired, CodeWrongTokenType:
		return true
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code used by the HTTP surface.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeWeakPassword:
		return http.StatusBadRequest
	case CodeInvalidCredentials, CodeUnauthenticated,
		CodeInvalidToken, CodeExpiredToken, CodeRevokedToken, CodeSessionExpired, CodeWrongTokenType:
		return http.StatusUnauthorized
	case CodeInsufficientRole:
		return http.StatusForbidden
	case CodeUserNotFound:
		return http.StatusNotFound
	case CodeEmailTaken:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
