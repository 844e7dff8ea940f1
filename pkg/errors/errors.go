package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInternal      = errors.New("internal error")
	ErrConflict      = errors.New("conflict")
	ErrRateLimited   = errors.New("rate limited")
	ErrTokenReused   = errors.New("token reuse detected")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// --- Identity error taxonomy ---
//
// Unknown accounts and bad passwords share InvalidCredentials so callers
// cannot enumerate users. TokenReused carries its own code because calling
// layers audit it as a security incident, even though the end user only
// ever sees "please log in again".

// InvalidCredentials creates a 401 error that deliberately does not say
// whether the account exists.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "invalid credentials",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// AccountInactive creates a 403 error for a deactivated account.
func AccountInactive() *AppError {
	return &AppError{
		Code:    "ACCOUNT_INACTIVE",
		Message: "account is deactivated",
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// TwoFactorRequired creates a 401 error signaling that login must complete
// a two-factor challenge before tokens are issued.
func TwoFactorRequired() *AppError {
	return &AppError{
		Code:    "TWO_FACTOR_REQUIRED",
		Message: "two-factor authentication required",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// InvalidTwoFactorCode creates a 401 error for a failed TOTP or backup code.
func InvalidTwoFactorCode() *AppError {
	return &AppError{
		Code:    "INVALID_TWO_FACTOR_CODE",
		Message: "invalid two-factor code",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// TokenExpired creates a 401 error for a token past its validity window.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// TokenMalformed creates a 401 error for a token that fails parsing or
// signature verification.
func TokenMalformed() *AppError {
	return &AppError{
		Code:    "TOKEN_MALFORMED",
		Message: "token is malformed",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// TokenReused creates a 401 error for a retired token presented again.
// The entire session family is revoked when this is returned.
func TokenReused() *AppError {
	return &AppError{
		Code:    "TOKEN_REUSED",
		Message: "token reuse detected, please log in again",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenReused,
	}
}

// RateLimited creates a 429 error.
func RateLimited(message string) *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// AlreadyVerified creates a 409 error for re-verifying a verified email.
func AlreadyVerified() *AppError {
	return &AppError{
		Code:    "ALREADY_VERIFIED",
		Message: "email is already verified",
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// EmailMismatch creates a 409 error for a verification proof whose embedded
// address no longer matches the account.
func EmailMismatch() *AppError {
	return &AppError{
		Code:    "EMAIL_MISMATCH",
		Message: "verification token was issued for a different email address",
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// PermissionDenied creates a 403 error for a failed capability check.
func PermissionDenied(permission string) *AppError {
	return &AppError{
		Code:    "PERMISSION_DENIED",
		Message: fmt.Sprintf("missing required permission %q", permission),
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenReused):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
