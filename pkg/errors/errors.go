package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIndexNotLoaded  = errors.New("search index not loaded")
	ErrMalformedIndex  = errors.New("malformed search index")
	ErrProjectNotFound = errors.New("project not found")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
	ErrBackendDisabled = errors.New("backend disabled")
	ErrIndexLocked     = errors.New("search index locked by another writer")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error chain to the status code the API answers with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrIndexLocked):
		return http.StatusConflict
	case errors.Is(err, ErrIndexNotLoaded), errors.Is(err, ErrTimeout), errors.Is(err, ErrBackendDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrMalformedIndex):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
