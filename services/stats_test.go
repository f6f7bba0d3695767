package services

import (
	"context"
	"testing"
	"time"

	"telegram-filestream/models"
	"telegram-filestream/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *repositories.Store {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repositories.NewBadgerStore(db)
}

func TestStatsService_ForUser(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.Users.Touch(ctx, models.User{ID: 5, FirstName: "Sam"}, now)
	req.NoError(err)
	for _, id := range []string{"a", "b"} {
		_, _, err := store.Files.Create(ctx, &models.FileRecord{FileUniqueID: id, Token: id, UserID: 5, Size: 10})
		req.NoError(err)
		req.NoError(store.Users.AddUpload(ctx, 5, 10, now))
	}

	svc := NewStatsService(store.Files, store.Users)
	req.NoError(svc.Record(ctx, "a", models.EventView))
	req.NoError(svc.Record(ctx, "b", models.EventView))
	req.NoError(svc.Record(ctx, "b", models.EventDownload))

	stats, err := svc.ForUser(ctx, 5)
	req.NoError(err)
	req.Equal(2, stats.Files)
	req.Equal(int64(2), stats.Views)
	req.Equal(int64(1), stats.Downloads)
	req.Equal([]string{"🎯 First Upload"}, stats.Achievements)
}

func TestStatsService_RecordUnknownFile(t *testing.T) {
	store := newTestStore(t)
	svc := NewStatsService(store.Files, store.Users)

	require.Error(t, svc.Record(context.Background(), "missing", models.EventDownload))
}

func TestStatsService_Global(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Touch(ctx, models.User{ID: 1}, time.Now())
	req.NoError(err)
	_, _, err = store.Files.Create(ctx, &models.FileRecord{FileUniqueID: "g", Token: "g", Size: 42})
	req.NoError(err)

	svc := NewStatsService(store.Files, store.Users)
	req.NoError(svc.Record(ctx, "g", models.EventDownload))

	g, err := svc.Global(ctx)
	req.NoError(err)
	req.Equal(int64(1), g.Files)
	req.Equal(int64(42), g.Size)
	req.Equal(int64(1), g.Downloads)
	req.Equal(int64(1), g.Total)
	req.GreaterOrEqual(g.Uptime, time.Duration(0))
}

func TestAchievements(t *testing.T) {
	req := require.New(t)

	req.Empty(achievements(&models.UserStats{}))
	all := achievements(&models.UserStats{
		User:  models.User{FilesUploaded: 150, TotalSizeUploaded: 2 << 30},
		Views: 1200,
	})
	req.Len(all, 5)
}
