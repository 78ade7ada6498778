package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for the authentication gateway.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired or revoked")
	ErrIPLocked             = errors.New("ip address locked")
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Meta    map[string]any `json:"meta,omitempty"`
	Err     error          `json:"-"`
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

// AuthenticationFailed creates a 401 error for bad credentials. The public
// message is deliberately identical to the one used for unknown accounts so
// callers cannot probe which accounts exist. A negative remainingAttempts
// means the hint is suppressed (trusted internal callers).
func AuthenticationFailed(remainingAttempts int, err error) *AppError {
	e := &AppError{
		Code:    "AUTHENTICATION_FAILED",
		Message: "invalid username or password",
		Status:  http.StatusUnauthorized,
		Err:     errors.Join(ErrAuthenticationFailed, err),
	}
	if remainingAttempts >= 0 {
		e.Meta = map[string]any{"remaining_attempts": remainingAttempts}
	}
	return e
}

// UserNotFound creates a 401 error for an unknown directory account. Same
// public shape as AuthenticationFailed; the distinction lives in logs only.
func UserNotFound(username string) *AppError {
	return &AppError{
		Code:    "AUTHENTICATION_FAILED",
		Message: "invalid username or password",
		Status:  http.StatusUnauthorized,
		Err:     fmt.Errorf("%w: %s", ErrUserNotFound, username),
	}
}

// InvalidToken creates a 401 error for a malformed or unverifiable token.
func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    "INVALID_TOKEN",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidToken,
	}
}

// TokenExpired creates a 401 error for a token whose signature verifies but
// whose revocation marker is gone, or whose lifetime has elapsed.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token expired or revoked",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenExpired,
	}
}

// IPLocked creates a 429 error carrying the remaining lock duration.
func IPLocked(retryAfterSeconds int64) *AppError {
	return &AppError{
		Code:    "IP_LOCKED",
		Message: "too many failed attempts, try again later",
		Status:  http.StatusTooManyRequests,
		Meta:    map[string]any{"retry_after_seconds": retryAfterSeconds},
		Err:     ErrIPLocked,
	}
}

// DirectoryUnavailable creates a 503 error for a misconfigured or unreachable
// directory endpoint. This is an operational problem, not a user error.
func DirectoryUnavailable(err error) *AppError {
	return &AppError{
		Code:    "DIRECTORY_UNAVAILABLE",
		Message: "directory service unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrDirectoryUnavailable, err),
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

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
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
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrIPLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDirectoryUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
