package errors

import (
	"errors"
	"fmt"
	"net/http"

	"livebid/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeGone               ErrorCode = "GONE"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
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

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// FromDomain maps a domain sentinel onto its HTTP representation. Unknown
// errors come back as internal so nothing leaks by accident.
func FromDomain(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return WrapError(err, ErrCodeNotFound, "session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAuctionNotFound):
		return WrapError(err, ErrCodeNotFound, "auction not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotSessionOwner):
		return WrapError(err, ErrCodeForbidden, "not the session owner", http.StatusForbidden)
	case errors.Is(err, domain.ErrSessionNotActive):
		return WrapError(err, ErrCodeConflict, "session is not live", http.StatusConflict)
	case errors.Is(err, domain.ErrAlreadyPublishing):
		return WrapError(err, ErrCodeConflict, "publisher already has a live session", http.StatusConflict)
	case errors.Is(err, domain.ErrAuctionActive):
		return WrapError(err, ErrCodeConflict, "session already has an active auction", http.StatusConflict)
	case errors.Is(err, domain.ErrAuctionEnded):
		return WrapError(err, ErrCodeGone, "auction has ended", http.StatusGone)
	case errors.Is(err, domain.ErrDeadlinePassed):
		return WrapError(err, ErrCodeGone, "bidding deadline has passed", http.StatusGone)
	case errors.Is(err, domain.ErrInvalidDelta):
		return WrapError(err, ErrCodeInvalidInput, "bid increment must be positive", http.StatusBadRequest)
	case errors.Is(err, domain.ErrStalePrice):
		return WrapError(err, ErrCodeConflict, "price moved, retry against the current price", http.StatusConflict)
	case errors.Is(err, domain.ErrStoreUnavailable):
		return WrapError(err, ErrCodeServiceUnavailable, "bidding temporarily unavailable", http.StatusServiceUnavailable)
	default:
		return WrapError(err, ErrCodeInternal, "internal server error", http.StatusInternalServerError)
	}
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
