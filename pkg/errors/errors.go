// Package errors defines the error taxonomy shared across the intake and
// query services. Callers match on the sentinel errors with errors.Is; HTTP
// handlers translate them through HTTPStatusCode and ExternalMessage.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("invalid input")
	ErrEmptyBatch       = errors.New("empty batch")
	ErrBatchTooLarge    = errors.New("batch exceeds size limit")
	ErrNotFound         = errors.New("document not found")
	ErrInvalidID        = errors.New("malformed document id")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// AppError attaches an HTTP status and a human-readable message to one of the
// sentinel errors above.
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

// HTTPStatusCode maps an error to the status code the API should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExternalMessage returns the message safe to expose to API callers.
// In production mode, store failures and unclassified errors collapse to a
// generic message; the full detail stays in the server logs. Input-class
// errors keep their specific message in both modes so callers can fix input.
func ExternalMessage(err error, production bool) string {
	if !production {
		return err.Error()
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "service temporarily unavailable"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrRateLimited):
		return err.Error()
	default:
		return "internal error"
	}
}
