package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("hash does not match file")
	ErrUnsatisfiableRange = errors.New("range not satisfiable")
	ErrUpstreamTransient  = errors.New("telegram temporarily unavailable")
	ErrUpstreamFatal      = errors.New("telegram request failed")
	// ErrFileTooLarge means Telegram refused to hand out the file because it
	// exceeds what the configured Bot API endpoint may download.
	ErrFileTooLarge = errors.New("file exceeds the bot api download limit")
)

// RetryAfterError is a transient upstream failure that carries the wait
// Telegram asked for. It matches ErrUpstreamTransient with errors.Is.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

func (e *RetryAfterError) Is(target error) bool {
	return target == ErrUpstreamTransient
}

// HTTPStatus maps an error to the status code served to the client.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnsatisfiableRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrUpstreamTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RetryAfter returns the wait carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > 0 {
		return ra.After, true
	}
	return 0, false
}
