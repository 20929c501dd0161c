package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file too large")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrExtractionTooLarge   = errors.New("extracted content too large")
	ErrEmptyContent         = errors.New("empty content")
	ErrEmbeddingFailed      = errors.New("embedding failed")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrCancelled            = errors.New("cancelled")
	ErrConfiguration        = errors.New("configuration error")
	ErrLedgerUnavailable    = errors.New("usage ledger unavailable")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
)

// AppError attaches an HTTP status and an optional retry hint to a sentinel.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	RetryAfter time.Duration
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

// WithRetryAfter returns a copy of e carrying a retry hint.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// Wrap is shorthand for a sentinel-typed error whose status is derived from
// the sentinel itself.
func Wrap(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusFor(sentinel),
	}
}

// RetryAfter returns the retry hint carried anywhere in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		return appErr.RetryAfter, true
	}
	return 0, false
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return statusFor(err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyContent):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrExtractionTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrLedgerUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrExtractionFailed), errors.Is(err, ErrEmbeddingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind names the taxonomy entry for err, used when recording job failures.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "UnsupportedMediaType"
	case errors.Is(err, ErrFileTooLarge):
		return "FileTooLarge"
	case errors.Is(err, ErrQuotaExceeded):
		return "QuotaExceeded"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrExtractionTooLarge):
		return "ExtractionTooLarge"
	case errors.Is(err, ErrExtractionFailed):
		return "ExtractionFailed"
	case errors.Is(err, ErrEmptyContent):
		return "EmptyContentError"
	case errors.Is(err, ErrEmbeddingFailed):
		return "EmbeddingFailed"
	case errors.Is(err, ErrPersistenceFailed):
		return "PersistenceFailed"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	default:
		return "InternalError"
	}
}
