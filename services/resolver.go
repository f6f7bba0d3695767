package services

import (
	"context"
	"fmt"
	"strings"

	"telegram-filestream/apperrors"
	"telegram-filestream/linkhash"
	"telegram-filestream/models"
)

// LinkResolver turns link coordinates into a verified live file.
type LinkResolver struct {
	client    MessageClient
	channelID int64
	tokens    *TokenIndex
}

func NewLinkResolver(client MessageClient, channelID int64, tokens *TokenIndex) *LinkResolver {
	return &LinkResolver{
		client:    client,
		channelID: channelID,
		tokens:    tokens,
	}
}

// Resolve fetches the message, checks req.Token against its
// file_unique_id and returns the file with size and type as Telegram
// reports them now.
func (r *LinkResolver) Resolve(ctx context.Context, req models.StreamRequest) (*models.ResolvedFile, error) {
	media, err := r.verifiedMedia(ctx, req.MessageID, req.Token)
	if err != nil {
		return nil, err
	}

	if media.FileSize <= 0 {
		return nil, fmt.Errorf("message %d: file size unknown: %w", req.MessageID, apperrors.ErrUpstreamFatal)
	}

	name := media.FileName
	if name == "" {
		name = req.FileName
	}
	return &models.ResolvedFile{
		Media:    media,
		FileName: name,
		Size:     media.FileSize,
		MimeType: media.MimeType,
	}, nil
}

// ResolveThumbnail is Resolve for the preview image of the media.
func (r *LinkResolver) ResolveThumbnail(ctx context.Context, messageID int, token string) (*models.ResolvedFile, error) {
	media, err := r.verifiedMedia(ctx, messageID, token)
	if err != nil {
		return nil, err
	}
	if media.ThumbFileID == "" {
		return nil, fmt.Errorf("message %d has no thumbnail: %w", messageID, apperrors.ErrNotFound)
	}
	if media.ThumbSize <= 0 {
		return nil, fmt.Errorf("message %d: thumbnail size unknown: %w", messageID, apperrors.ErrUpstreamFatal)
	}

	thumb := &models.Media{
		Kind:         models.KindPhoto,
		FileID:       media.ThumbFileID,
		FileUniqueID: media.FileUniqueID,
		FileSize:     media.ThumbSize,
		MimeType:     "image/jpeg",
		BotUsername:  media.BotUsername,
	}
	return &models.ResolvedFile{
		Media:    thumb,
		FileName: fmt.Sprintf("thumb_%d.jpg", messageID),
		Size:     thumb.FileSize,
		MimeType: thumb.MimeType,
	}, nil
}

// ResolveToken finds the record behind a short link.
func (r *LinkResolver) ResolveToken(ctx context.Context, token string) (*models.FileRecord, error) {
	token = strings.ToLower(token)
	if !linkhash.Valid(token) {
		return nil, fmt.Errorf("malformed token %q: %w", token, apperrors.ErrNotFound)
	}
	return r.tokens.Lookup(ctx, token)
}

func (r *LinkResolver) verifiedMedia(ctx context.Context, messageID int, token string) (*models.Media, error) {
	msg, err := r.client.FetchMessage(ctx, r.channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", messageID, err)
	}
	if msg == nil || msg.Media == nil {
		return nil, fmt.Errorf("message %d has no media: %w", messageID, apperrors.ErrNotFound)
	}
	if !linkhash.Verify(msg.Media.FileUniqueID, token) {
		return nil, fmt.Errorf("message %d: %w", messageID, apperrors.ErrForbidden)
	}
	return msg.Media, nil
}
