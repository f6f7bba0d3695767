package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/httprange"
	"telegram-filestream/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultChunkSize    = 1 << 20
	DefaultWriteTimeout = time.Minute
	statsTimeout        = 5 * time.Second
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_streams_total",
		Help: "Stream requests by outcome.",
	}, []string{"outcome"})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_stream_bytes_total",
		Help: "Bytes written to clients.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_active_streams",
		Help: "Streams currently copying bytes.",
	})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_stream_duration_seconds",
		Help:    "Time from request to last byte for completed streams.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	})
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

var (
	errClientGone    = errors.New("client went away")
	errUpstreamShort = errors.New("upstream ended early")
)

type StreamConfig struct {
	ChunkSize int
	// WriteTimeout bounds each chunk write, so a client that stops reading
	// releases its upstream download.
	WriteTimeout time.Duration
}

// StreamService writes Telegram media to HTTP clients with Range support.
type StreamService struct {
	resolver     *LinkResolver
	client       MessageClient
	stats        StatsSink
	writeTimeout time.Duration
	logger       *slog.Logger
	buffers      sync.Pool
}

func NewStreamService(resolver *LinkResolver, client MessageClient, stats StatsSink, cfg StreamConfig, logger *slog.Logger) *StreamService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &StreamService{
		resolver:     resolver,
		client:       client,
		stats:        stats,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.With(slog.String("component", "stream_service")),
		buffers: sync.Pool{New: func() any {
			b := make([]byte, cfg.ChunkSize)
			return &b
		}},
	}
}

// Serve answers a /watch or /dl request.
func (s *StreamService) Serve(w http.ResponseWriter, r *http.Request, req models.StreamRequest) {
	file, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		s.fail(w, err, slog.Int("message_id", req.MessageID))
		return
	}
	s.serveFile(w, r, file, req.Mode, true)
}

// ServeThumbnail answers a /thumb request. Thumbnails do not count as views.
func (s *StreamService) ServeThumbnail(w http.ResponseWriter, r *http.Request, messageID int, token string) {
	file, err := s.resolver.ResolveThumbnail(r.Context(), messageID, token)
	if err != nil {
		s.fail(w, err, slog.Int("message_id", messageID))
		return
	}
	s.serveFile(w, r, file, models.ModeStream, false)
}

func (s *StreamService) serveFile(w http.ResponseWriter, r *http.Request, file *models.ResolvedFile, mode models.Mode, record bool) {
	start := time.Now()
	ctx := r.Context()
	log := s.logger.With(
		slog.String("file_unique_id", file.Media.FileUniqueID),
		slog.String("file_name", file.FileName),
	)

	rng, partial, err := httprange.Parse(r.Header.Get("Range"), file.Size)
	if err != nil {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Range", httprange.UnsatisfiedContentRange(file.Size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		streamsTotal.WithLabelValues("unsatisfiable").Inc()
		return
	}

	// Open upstream before any header goes out so failures still map to a status.
	var body io.ReadCloser
	if r.Method != http.MethodHead && rng.Length() > 0 {
		body, err = s.client.OpenMediaStream(ctx, file.Media, rng.Start, rng.Length())
		if err != nil {
			s.fail(w, err, slog.String("file_unique_id", file.Media.FileUniqueID))
			return
		}
		defer body.Close()
	}

	h := w.Header()
	h.Set("Content-Type", contentType(file))
	h.Set("Content-Disposition", contentDisposition(mode, file.FileName))
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "public, max-age=3600")
	status := http.StatusOK
	if partial {
		h.Set("Content-Range", rng.ContentRange(file.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		streamsTotal.WithLabelValues("head").Inc()
		return
	}

	activeStreams.Inc()
	written, err := s.copyRange(ctx, w, body, rng.Length())
	activeStreams.Dec()
	streamBytesTotal.Add(float64(written))

	switch {
	case errors.Is(err, errClientGone):
		streamsTotal.WithLabelValues("client_abort").Inc()
		log.Debug("Client closed the stream",
			slog.Int64("bytes_written", written),
			slog.Int64("bytes_expected", rng.Length()),
		)
		return
	case err != nil:
		streamsTotal.WithLabelValues("upstream_error").Inc()
		log.Error("Streaming from Telegram failed",
			slog.Int64("bytes_written", written),
			slog.Int64("bytes_expected", rng.Length()),
			slog.String("error", err.Error()),
		)
		return
	}

	streamsTotal.WithLabelValues("completed").Inc()
	streamDuration.Observe(time.Since(start).Seconds())
	log.Debug("Stream completed",
		slog.Int("status", status),
		slog.Int64("bytes", written),
		slog.Duration("duration", time.Since(start)),
	)

	if record && s.stats != nil {
		s.record(ctx, file.Media.FileUniqueID, mode.Event(), log)
	}
}

// copyRange moves exactly length bytes, one buffer at a time: the next
// upstream read happens only after the previous chunk was written. Every
// write gets its own deadline.
func (s *StreamService) copyRange(ctx context.Context, w http.ResponseWriter, body io.Reader, length int64) (int64, error) {
	if length == 0 {
		return 0, nil
	}
	bufp := s.buffers.Get().(*[]byte)
	defer s.buffers.Put(bufp)
	buf := *bufp

	rc := http.NewResponseController(w)
	defer func() {
		// flush the tail under the last deadline, then clear it for the
		// next keep-alive request on this connection
		_ = rc.Flush()
		_ = rc.SetWriteDeadline(time.Time{})
	}()

	var written int64
	for written < length {
		want := int64(len(buf))
		if remaining := length - written; remaining < want {
			want = remaining
		}
		n, rerr := body.Read(buf[:want])
		if n > 0 {
			err := rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, fmt.Errorf("%w: %v", errClientGone, err)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("%w: %v", errClientGone, werr)
			}
			written += int64(n)
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, fmt.Errorf("%w: %v", errClientGone, ctx.Err())
			}
			if errors.Is(rerr, io.EOF) {
				break
			}
			return written, rerr
		}
	}
	if written < length {
		return written, errUpstreamShort
	}
	return written, nil
}

func (s *StreamService) record(ctx context.Context, fileUniqueID string, kind models.EventKind, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
	defer cancel()

	if err := s.stats.Record(ctx, fileUniqueID, kind); err != nil {
		log.Warn("Failed to record stats",
			slog.String("event", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *StreamService) fail(w http.ResponseWriter, err error, attrs ...any) {
	status := apperrors.HTTPStatus(err)
	attrs = append(attrs, slog.Int("status", status), slog.String("error", err.Error()))

	switch status {
	case http.StatusNotFound:
		streamsTotal.WithLabelValues("not_found").Inc()
		s.logger.Debug("File not found", attrs...)
	case http.StatusForbidden:
		streamsTotal.WithLabelValues("forbidden").Inc()
		s.logger.Info("Hash mismatch", attrs...)
	case http.StatusBadGateway:
		streamsTotal.WithLabelValues("too_large").Inc()
		s.logger.Warn("File exceeds the Telegram download limit", attrs...)
	case http.StatusServiceUnavailable:
		streamsTotal.WithLabelValues("upstream_busy").Inc()
		s.logger.Warn("Telegram unavailable", attrs...)
		if after, ok := apperrors.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(after.Seconds()))))
		}
	default:
		streamsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Failed to serve file", attrs...)
	}
	http.Error(w, http.StatusText(status), status)
}

func contentType(file *models.ResolvedFile) string {
	if file.MimeType != "" {
		return file.MimeType
	}
	if t := mime.TypeByExtension(filepath.Ext(file.FileName)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func contentDisposition(mode models.Mode, name string) string {
	disposition := "inline"
	if mode == models.ModeDownload {
		disposition = "attachment"
	}
	if name == "" {
		return disposition
	}

	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '_'
		}
		return r
	}, name)
	v := fmt.Sprintf(`%s; filename="%s"`, disposition, quoteEscaper.Replace(fallback))
	if fallback != name {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}
