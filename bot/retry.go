package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"telegram-filestream/apperrors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryAfter = 30 * time.Second
)

var upstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fs_upstream_retries_total",
	Help: "Telegram calls retried after a transient failure.",
}, []string{"op"})

// Retrier repeats Telegram calls that failed transiently. Flood waits are
// honoured exactly; other transient failures back off exponentially.
type Retrier struct {
	maxAttempts   int
	baseDelay     time.Duration
	maxRetryAfter time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	logger        *slog.Logger
}

func NewRetrier(maxAttempts int, maxRetryAfter time.Duration, logger *slog.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxRetryAfter <= 0 {
		maxRetryAfter = DefaultMaxRetryAfter
	}
	return &Retrier{
		maxAttempts:   maxAttempts,
		baseDelay:     DefaultRetryDelay,
		maxRetryAfter: maxRetryAfter,
		sleep:         sleepContext,
		logger:        logger,
	}
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// The returned error is classified with the apperrors sentinels.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = Classify(err)
		if !errors.Is(lastErr, apperrors.ErrUpstreamTransient) || attempt == r.maxAttempts {
			break
		}

		wait := r.baseDelay << (attempt - 1)
		if after, ok := apperrors.RetryAfter(lastErr); ok {
			if after > r.maxRetryAfter {
				// too long to hold the request open; the caller answers 503
				return lastErr
			}
			wait = after
		}

		upstreamRetries.WithLabelValues(op).Inc()
		r.logger.Warn("Retrying Telegram call",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if errors.Is(lastErr, apperrors.ErrUpstreamTransient) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, r.maxAttempts, lastErr)
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Classify maps a Bot API or transport error onto the apperrors taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		apperrors.ErrNotFound,
		apperrors.ErrForbidden,
		apperrors.ErrUpstreamTransient,
		apperrors.ErrUpstreamFatal,
		apperrors.ErrFileTooLarge,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return classifyAPIError(tgErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamTransient, err)
	}
	if isRetryableMessage(err.Error()) {
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamTransient, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUpstreamFatal, err)
}

func classifyAPIError(e *tgbotapi.Error) error {
	switch {
	case e.RetryAfter > 0:
		return &apperrors.RetryAfterError{After: time.Duration(e.RetryAfter) * time.Second, Err: e}
	case e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", apperrors.ErrUpstreamTransient, e)
	case e.Code == http.StatusBadRequest && isMissingMessage(e.Message):
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, e)
	case e.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "file is too big"):
		return fmt.Errorf("%w: %v", apperrors.ErrFileTooLarge, e)
	default:
		return fmt.Errorf("%w: telegram %d: %v", apperrors.ErrUpstreamFatal, e.Code, e)
	}
}

func isMissingMessage(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "message to forward not found") ||
		strings.Contains(d, "message to copy not found") ||
		strings.Contains(d, "message not found") ||
		strings.Contains(d, "message_id_invalid") ||
		strings.Contains(d, "wrong file_id") ||
		strings.Contains(d, "file reference expired")
}

func isRetryableMessage(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "Too Many Requests") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused")
}
