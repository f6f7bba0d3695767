package services

//go:generate mockgen -source=interfaces.go -destination=../mocks/mock_interfaces.go -package=mocks

import (
	"context"
	"io"

	"telegram-filestream/models"
)

// MessageClient reaches messages stored in Telegram channels.
type MessageClient interface {
	// FetchMessage returns the message or an error wrapping
	// apperrors.ErrNotFound when it does not exist.
	FetchMessage(ctx context.Context, channelID int64, messageID int) (*models.Message, error)
	// OpenMediaStream returns exactly length bytes of media starting at
	// offset. Reads stop as soon as ctx is cancelled.
	OpenMediaStream(ctx context.Context, media *models.Media, offset, length int64) (io.ReadCloser, error)
}

// TokenStore is the persistent side of the short-link index.
type TokenStore interface {
	FindByToken(ctx context.Context, token string) ([]models.FileRecord, error)
	GetByUniqueID(ctx context.Context, fileUniqueID string) (*models.FileRecord, error)
}

// StatsSink records a completed view or download. It must be safe to call
// concurrently for the same file.
type StatsSink interface {
	Record(ctx context.Context, fileUniqueID string, kind models.EventKind) error
}
