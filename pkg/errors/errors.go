package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors, one per category of the auth error taxonomy.
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrConflict     = errors.New("resource already exists")
	ErrNotFound     = errors.New("resource not found")
	ErrAuth         = errors.New("authentication failed")
	ErrDelivery     = errors.New("notification delivery failed")
	ErrThrottled    = errors.New("rate limit exceeded")
)

// AppError is a categorized error carrying the message shown to the client
// and the HTTP status it maps to.
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

// Validation reports missing or malformed client input.
func Validation(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrValidation,
	}
}

// InvalidToken reports a token that is expired, forged, consumed or superseded.
// Callers must not vary the message by cause.
func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    "INVALID_TOKEN",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidToken,
	}
}

// Conflict reports a resource that already exists. It maps to 400 to keep
// the public contract of the verify-registration endpoint.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrConflict,
	}
}

// NotFound reports a missing credential record.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidCredentials reports a failed login attempt (400).
func InvalidCredentials(message string) *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrAuth,
	}
}

// Unauthorized reports a rejected bearer token on a protected resource (401).
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrAuth,
	}
}

// Delivery reports an outbound notification failure. The cause is kept for
// logging and never rendered.
func Delivery(message string, cause error) *AppError {
	return &AppError{
		Code:    "DELIVERY_FAILED",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     errors.Join(ErrDelivery, cause),
	}
}

// Throttled reports a request rejected by the rate limiter.
func Throttled(message string) *AppError {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     ErrThrottled,
	}
}

// IsInternal reports whether err should be treated as a server-side failure,
// which is anything that is not a categorized client-facing AppError.
func IsInternal(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status >= http.StatusInternalServerError && !errors.Is(err, ErrDelivery)
	}
	return true
}
