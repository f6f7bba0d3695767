package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/linkhash"
	"telegram-filestream/mocks"
	"telegram-filestream/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestLinkResolver_Resolve(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	client := mocks.NewMockMessageClient(ctrl)
	client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(testMessage(), nil)

	r := NewLinkResolver(client, testChannel, nil)
	file, err := r.Resolve(context.Background(), streamReq(linkhash.Compute(testUniqueID), models.ModeStream))
	req.NoError(err)
	req.Equal("movie.mp4", file.FileName)
	req.Equal(int64(len(payload)), file.Size)
	req.Equal("video/mp4", file.MimeType)
	req.Equal("stream_bot", file.Media.BotUsername)
}

func TestLinkResolver_Resolve_FallsBackToRequestedName(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	client := mocks.NewMockMessageClient(ctrl)
	msg := testMessage()
	msg.Media.FileName = ""
	client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(msg, nil)

	r := NewLinkResolver(client, testChannel, nil)
	file, err := r.Resolve(context.Background(), streamReq(linkhash.Compute(testUniqueID), models.ModeStream))
	req.NoError(err)
	req.Equal("movie.mp4", file.FileName)
}

func TestLinkResolver_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		msg     *models.Message
		err     error
		token   string
		wantErr error
	}{
		{"not found", nil, apperrors.ErrNotFound, linkhash.Compute(testUniqueID), apperrors.ErrNotFound},
		{"no media", &models.Message{MessageID: testMessageID}, nil, linkhash.Compute(testUniqueID), apperrors.ErrNotFound},
		{"tampered hash", testMessage(), nil, linkhash.Compute("other"), apperrors.ErrForbidden},
		{"transient", nil, &apperrors.RetryAfterError{After: time.Second, Err: errors.New("flood")}, "x", apperrors.ErrUpstreamTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockMessageClient(ctrl)
			client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(tt.msg, tt.err)

			r := NewLinkResolver(client, testChannel, nil)
			_, err := r.Resolve(context.Background(), streamReq(tt.token, models.ModeStream))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLinkResolver_ResolveThumbnail(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	client := mocks.NewMockMessageClient(ctrl)
	token := linkhash.Compute(testUniqueID)

	withThumb := testMessage()
	withThumb.Media.ThumbFileID = "thumb-id"
	withThumb.Media.ThumbSize = 2048
	gomock.InOrder(
		client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(withThumb, nil),
		client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(testMessage(), nil),
	)

	r := NewLinkResolver(client, testChannel, nil)
	file, err := r.ResolveThumbnail(context.Background(), testMessageID, token)
	req.NoError(err)
	req.Equal("thumb-id", file.Media.FileID)
	req.Equal(int64(2048), file.Size)
	req.Equal("image/jpeg", file.MimeType)
	req.Equal("stream_bot", file.Media.BotUsername)

	_, err = r.ResolveThumbnail(context.Background(), testMessageID, token)
	req.ErrorIs(err, apperrors.ErrNotFound)
}

func TestLinkResolver_UnknownSizeIsAnError(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	client := mocks.NewMockMessageClient(ctrl)
	token := linkhash.Compute(testUniqueID)

	sizeless := testMessage()
	sizeless.Media.FileSize = 0
	sizeless.Media.ThumbFileID = "thumb-id"
	client.EXPECT().FetchMessage(gomock.Any(), testChannel, testMessageID).Return(sizeless, nil).Times(2)

	r := NewLinkResolver(client, testChannel, nil)
	_, err := r.Resolve(context.Background(), streamReq(token, models.ModeStream))
	req.ErrorIs(err, apperrors.ErrUpstreamFatal)

	_, err = r.ResolveThumbnail(context.Background(), testMessageID, token)
	req.ErrorIs(err, apperrors.ErrUpstreamFatal)
}

func TestTokenIndex_Lookup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockTokenStore(ctrl)
	ctx := context.Background()

	rec := models.FileRecord{FileUniqueID: testUniqueID, Token: linkhash.Compute(testUniqueID), Views: 1}
	fresh := rec
	fresh.Views = 5

	// first lookup goes to the indexed query, the second is served from memory
	store.EXPECT().FindByToken(gomock.Any(), rec.Token).Return([]models.FileRecord{rec}, nil).Times(1)
	store.EXPECT().GetByUniqueID(gomock.Any(), testUniqueID).Return(&fresh, nil).Times(1)

	idx := NewTokenIndex(store, 16, time.Minute)
	got, err := idx.Lookup(ctx, rec.Token)
	req.NoError(err)
	req.Equal(int64(1), got.Views)

	got, err = idx.Lookup(ctx, rec.Token)
	req.NoError(err)
	req.Equal(int64(5), got.Views, "cached tokens still read current counters")
}

func TestTokenIndex_Add(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockTokenStore(ctrl)

	rec := models.FileRecord{FileUniqueID: testUniqueID, Token: linkhash.Compute(testUniqueID)}
	store.EXPECT().GetByUniqueID(gomock.Any(), testUniqueID).Return(&rec, nil)

	idx := NewTokenIndex(store, 16, time.Minute)
	idx.Add(rec)
	idx.Add(models.FileRecord{FileUniqueID: "x", Token: "forged000000"})

	got, err := idx.Lookup(context.Background(), rec.Token)
	req.NoError(err)
	req.Equal(testUniqueID, got.FileUniqueID)
}

func TestTokenIndex_Lookup_NotFound(t *testing.T) {
	token := linkhash.Compute(testUniqueID)

	tests := []struct {
		name    string
		records []models.FileRecord
	}{
		{"no record", nil},
		{"collision", []models.FileRecord{{FileUniqueID: testUniqueID, Token: token}, {FileUniqueID: "twin", Token: token}}},
		{"stored token does not verify", []models.FileRecord{{FileUniqueID: "other", Token: token}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockTokenStore(ctrl)
			store.EXPECT().FindByToken(gomock.Any(), token).Return(tt.records, nil)

			_, err := NewTokenIndex(store, 16, time.Minute).Lookup(context.Background(), token)
			require.ErrorIs(t, err, apperrors.ErrNotFound)
		})
	}
}

func TestTokenIndex_Lookup_EvictsDeletedRecord(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockTokenStore(ctrl)
	rec := models.FileRecord{FileUniqueID: testUniqueID, Token: linkhash.Compute(testUniqueID)}

	store.EXPECT().GetByUniqueID(gomock.Any(), testUniqueID).Return(nil, apperrors.ErrNotFound)
	store.EXPECT().FindByToken(gomock.Any(), rec.Token).Return(nil, nil)

	idx := NewTokenIndex(store, 16, time.Minute)
	idx.Add(rec)
	_, err := idx.Lookup(context.Background(), rec.Token)
	req.ErrorIs(err, apperrors.ErrNotFound)
}
