package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const messageCacheSize = 4096

type ClientConfig struct {
	// ScratchChatID receives the temporary forwards used to read messages.
	ScratchChatID int64
	FileEndpoint  string
	CacheTTL      time.Duration
	// DownloadRate caps file downloads per second across all bots.
	DownloadRate float64
	// MaxDownloadSize is the largest file the Bot API endpoint hands out.
	// Zero means no limit, as with a local Bot API server.
	MaxDownloadSize int64
}

// Client is the messaging collaborator of the stream service. The Bot API
// cannot read a channel message by id, so FetchMessage forwards it to a
// scratch chat, reads the copy and deletes it.
type Client struct {
	pool         *Pool
	retrier      *Retrier
	scratchID    int64
	fileEndpoint string
	maxDownload  int64
	http         *http.Client
	limiter      *rate.Limiter
	messages     *expirable.LRU[string, *models.Message]
	logger       *slog.Logger
}

func NewClient(pool *Pool, retrier *Retrier, cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = tgbotapi.FileEndpoint
	}
	if cfg.DownloadRate <= 0 {
		cfg.DownloadRate = 20
	}
	return &Client{
		pool:         pool,
		retrier:      retrier,
		scratchID:    cfg.ScratchChatID,
		fileEndpoint: cfg.FileEndpoint,
		maxDownload:  cfg.MaxDownloadSize,
		// no overall timeout: a response body may stream for hours
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   50,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.DownloadRate), int(cfg.DownloadRate)*2),
		messages: expirable.NewLRU[string, *models.Message](messageCacheSize, nil, cfg.CacheTTL),
		logger:   logger.With(slog.String("component", "telegram_client")),
	}
}

func (c *Client) FetchMessage(ctx context.Context, channelID int64, messageID int) (*models.Message, error) {
	key := fmt.Sprintf("%d:%d", channelID, messageID)
	if msg, ok := c.messages.Get(key); ok {
		return msg, nil
	}

	b := c.pool.Next()
	var copied tgbotapi.Message
	err := c.retrier.Do(ctx, "forward", func() error {
		var err error
		copied, err = b.Send(tgbotapi.NewForward(c.scratchID, channelID, messageID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", messageID, err)
	}
	c.deleteCopy(b, copied.MessageID)

	msg := &models.Message{
		ChannelID: channelID,
		MessageID: messageID,
		Media:     ExtractMedia(&copied, b.Self.UserName),
	}
	if msg.Media != nil && msg.Media.FileSize == 0 {
		file, err := c.getFile(ctx, b, msg.Media.FileID)
		if err != nil {
			return nil, err
		}
		msg.Media.FileSize = int64(file.FileSize)
	}
	if msg.Media != nil && msg.Media.ThumbFileID != "" && msg.Media.ThumbSize == 0 {
		// a missing thumbnail size only breaks /thumb, not the file itself
		if thumb, err := c.getFile(ctx, b, msg.Media.ThumbFileID); err != nil {
			c.logger.Warn("Failed to read thumbnail size",
				slog.Int("message_id", messageID),
				slog.String("error", err.Error()),
			)
		} else {
			msg.Media.ThumbSize = int64(thumb.FileSize)
		}
	}

	c.messages.Add(key, msg)
	return msg, nil
}

func (c *Client) deleteCopy(b *tgbotapi.BotAPI, messageID int) {
	if _, err := b.Request(tgbotapi.NewDeleteMessage(c.scratchID, messageID)); err != nil {
		c.logger.Debug("Failed to delete scratch copy",
			slog.Int("message_id", messageID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) getFile(ctx context.Context, b *tgbotapi.BotAPI, fileID string) (tgbotapi.File, error) {
	var file tgbotapi.File
	err := c.retrier.Do(ctx, "get_file", func() error {
		var err error
		file, err = b.GetFile(tgbotapi.FileConfig{FileID: fileID})
		return err
	})
	if err != nil {
		return tgbotapi.File{}, fmt.Errorf("failed to get file info: %w", err)
	}
	return file, nil
}

// OpenMediaStream downloads [offset, offset+length) of media through the
// bot that owns its file_id. The body is bound to ctx.
//
// A local Bot API server answers getFile with an absolute path on its own
// disk; such files are read directly and must be reachable at that path.
func (c *Client) OpenMediaStream(ctx context.Context, media *models.Media, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return http.NoBody, nil
	}
	if c.maxDownload > 0 && media.FileSize > c.maxDownload {
		return nil, fmt.Errorf("%s is %d bytes, endpoint limit is %d: %w",
			media.FileUniqueID, media.FileSize, c.maxDownload, apperrors.ErrFileTooLarge)
	}

	b := c.pool.ByUsername(media.BotUsername)
	if b.Self.UserName != media.BotUsername {
		c.logger.Warn("Owner bot not in pool, using fallback",
			slog.String("owner", media.BotUsername),
			slog.String("fallback", b.Self.UserName),
		)
	}

	file, err := c.getFile(ctx, b, media.FileID)
	if err != nil {
		return nil, err
	}
	if filepath.IsAbs(file.FilePath) {
		return openLocalFile(file.FilePath, offset, length)
	}
	link := fmt.Sprintf(c.fileEndpoint, b.Token, file.FilePath)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	err = c.retrier.Do(ctx, "download", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

		resp, err = c.http.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
			return nil
		}
		resp.Body.Close()
		return downloadStatusError(resp.StatusCode)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", media.FileUniqueID, err)
	}

	// server ignored Range: skip to offset
	if resp.StatusCode == http.StatusOK && offset > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			resp.Body.Close()
			return nil, Classify(err)
		}
	}

	return &limitedBody{Reader: io.LimitReader(resp.Body, length), body: resp.Body}, nil
}

func openLocalFile(path string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: local file %s", apperrors.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstreamFatal, err)
	}
	return &limitedBody{Reader: io.NewSectionReader(f, offset, length), body: f}, nil
}

func downloadStatusError(status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: download returned %d", apperrors.ErrNotFound, status)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: download returned %d", apperrors.ErrUpstreamTransient, status)
	default:
		return fmt.Errorf("%w: download returned %d", apperrors.ErrUpstreamFatal, status)
	}
}

type limitedBody struct {
	io.Reader
	body io.Closer
}

func (l *limitedBody) Close() error {
	return l.body.Close()
}
