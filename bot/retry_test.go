package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"telegram-filestream/apperrors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
)

func newTestRetrier(maxAttempts int, maxRetryAfter time.Duration) (*Retrier, *[]time.Duration) {
	r := NewRetrier(maxAttempts, maxRetryAfter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

func floodError(seconds int) error {
	return &tgbotapi.Error{
		Code:               429,
		Message:            fmt.Sprintf("Too Many Requests: retry after %d", seconds),
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: seconds},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"flood wait", floodError(3), apperrors.ErrUpstreamTransient},
		{"server error", &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, apperrors.ErrUpstreamTransient},
		{"missing message", &tgbotapi.Error{Code: 400, Message: "Bad Request: message to forward not found"}, apperrors.ErrNotFound},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, apperrors.ErrUpstreamFatal},
		{"file too big", &tgbotapi.Error{Code: 400, Message: "Bad Request: file is too big"}, apperrors.ErrFileTooLarge},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), apperrors.ErrUpstreamTransient},
		{"timeout text", errors.New("net/http: request canceled (Client.Timeout exceeded) timeout"), apperrors.ErrUpstreamTransient},
		{"garbage", errors.New("invalid character 'x'"), apperrors.ErrUpstreamFatal},
		{"already classified", apperrors.ErrForbidden, apperrors.ErrForbidden},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}
}

func TestClassify_FileTooBigIsNotFatal(t *testing.T) {
	req := require.New(t)

	err := Classify(&tgbotapi.Error{Code: 400, Message: "Bad Request: file is too big"})
	req.NotErrorIs(err, apperrors.ErrUpstreamFatal)
	req.Equal(http.StatusBadGateway, apperrors.HTTPStatus(err))
}

func TestRetrier_FileTooBigIsNotRetried(t *testing.T) {
	req := require.New(t)
	r, waits := newTestRetrier(3, time.Minute)

	calls := 0
	err := r.Do(context.Background(), "get_file", func() error {
		calls++
		return &tgbotapi.Error{Code: 400, Message: "Bad Request: file is too big"}
	})
	req.ErrorIs(err, apperrors.ErrFileTooLarge)
	req.Equal(1, calls)
	req.Empty(*waits)
}

func TestClassify_CarriesRetryAfter(t *testing.T) {
	after, ok := apperrors.RetryAfter(Classify(floodError(4)))
	require.True(t, ok)
	require.Equal(t, 4*time.Second, after)
}

func TestRetrier_HonoursRetryAfter(t *testing.T) {
	req := require.New(t)
	r, waits := newTestRetrier(3, time.Minute)

	calls := 0
	err := r.Do(context.Background(), "forward", func() error {
		calls++
		if calls == 1 {
			return floodError(5)
		}
		return nil
	})
	req.NoError(err)
	req.Equal(2, calls)
	req.Equal([]time.Duration{5 * time.Second}, *waits)
}

func TestRetrier_BacksOffOnNetworkErrors(t *testing.T) {
	req := require.New(t)
	r, waits := newTestRetrier(3, time.Minute)

	calls := 0
	err := r.Do(context.Background(), "get_file", func() error {
		calls++
		return io.ErrUnexpectedEOF
	})
	req.ErrorIs(err, apperrors.ErrUpstreamTransient)
	req.Equal(3, calls)
	req.Equal([]time.Duration{DefaultRetryDelay, 2 * DefaultRetryDelay}, *waits)
}

func TestRetrier_FatalIsNotRetried(t *testing.T) {
	req := require.New(t)
	r, waits := newTestRetrier(3, time.Minute)

	calls := 0
	err := r.Do(context.Background(), "forward", func() error {
		calls++
		return &tgbotapi.Error{Code: 400, Message: "Bad Request: message to forward not found"}
	})
	req.ErrorIs(err, apperrors.ErrNotFound)
	req.Equal(1, calls)
	req.Empty(*waits)
}

func TestRetrier_LongFloodWaitIsSurfaced(t *testing.T) {
	req := require.New(t)
	r, waits := newTestRetrier(3, 10*time.Second)

	calls := 0
	err := r.Do(context.Background(), "forward", func() error {
		calls++
		return floodError(60)
	})
	req.ErrorIs(err, apperrors.ErrUpstreamTransient)
	after, ok := apperrors.RetryAfter(err)
	req.True(ok)
	req.Equal(time.Minute, after)
	req.Equal(1, calls)
	req.Empty(*waits)
}

func TestRetrier_StopsWhenContextEnds(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRetrier(5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, "forward", func() error {
		calls++
		cancel()
		return floodError(1)
	})
	req.ErrorIs(err, context.Canceled)
	req.Equal(1, calls)
}
