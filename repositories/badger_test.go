package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"telegram-filestream/linkhash"
	"telegram-filestream/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) *Store {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewBadgerStore(db)
}

func newRecord(uniqueID string, userID int64) *models.FileRecord {
	return &models.FileRecord{
		FileUniqueID: uniqueID,
		FileID:       "file-" + uniqueID,
		Token:        linkhash.Compute(uniqueID),
		ChannelID:    -100123,
		MessageID:    42,
		UserID:       userID,
		Name:         uniqueID + ".mp4",
		Size:         1000,
		MimeType:     "video/mp4",
		FileType:     models.KindVideo,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestBadgerFileRepository_CreateDeduplicates(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()

	first := newRecord("AgADuniq1", 7)
	stored, created, err := store.Files.Create(ctx, first)
	req.NoError(err)
	req.True(created)
	req.Equal(first.FileUniqueID, stored.FileUniqueID)

	again := newRecord("AgADuniq1", 8)
	again.MessageID = 99
	stored, created, err = store.Files.Create(ctx, again)
	req.NoError(err)
	req.False(created)
	req.Equal(42, stored.MessageID, "existing record must win")
	req.Equal(int64(7), stored.UserID)
}

func TestBadgerFileRepository_GetMissing(t *testing.T) {
	store := setupBadgerStore(t)

	_, err := store.Files.GetByUniqueID(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerFileRepository_FindByTokenAndUser(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()

	for _, id := range []string{"u-a", "u-b", "u-c"} {
		_, _, err := store.Files.Create(ctx, newRecord(id, 1))
		req.NoError(err)
	}
	_, _, err := store.Files.Create(ctx, newRecord("u-d", 2))
	req.NoError(err)

	found, err := store.Files.FindByToken(ctx, linkhash.Compute("u-b"))
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("u-b", found[0].FileUniqueID)

	none, err := store.Files.FindByToken(ctx, "000000000000")
	req.NoError(err)
	req.Empty(none)

	mine, err := store.Files.ListByUser(ctx, 1)
	req.NoError(err)
	req.Len(mine, 3)
}

func TestBadgerFileRepository_ConcurrentIncrements(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()

	_, _, err := store.Files.Create(ctx, newRecord("hot", 1))
	req.NoError(err)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- store.Files.IncrementCounter(ctx, "hot", models.EventView, time.Now())
		}()
		go func() {
			defer wg.Done()
			errs <- store.Files.IncrementCounter(ctx, "hot", models.EventDownload, time.Now())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	rec, err := store.Files.GetByUniqueID(ctx, "hot")
	req.NoError(err)
	req.Equal(int64(workers), rec.Views)
	req.Equal(int64(workers), rec.Downloads)
	req.NotNil(rec.LastAccessed)
}

func TestBadgerFileRepository_IncrementMissing(t *testing.T) {
	store := setupBadgerStore(t)

	err := store.Files.IncrementCounter(context.Background(), "ghost", models.EventView, time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerFileRepository_Totals(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()

	empty, err := store.Files.Totals(ctx)
	req.NoError(err)
	req.Equal(models.FileTotals{}, empty)

	for _, id := range []string{"t1", "t2"} {
		_, _, err := store.Files.Create(ctx, newRecord(id, 1))
		req.NoError(err)
	}
	req.NoError(store.Files.IncrementCounter(ctx, "t1", models.EventView, time.Now()))
	req.NoError(store.Files.IncrementCounter(ctx, "t2", models.EventDownload, time.Now()))

	totals, err := store.Files.Totals(ctx)
	req.NoError(err)
	req.Equal(models.FileTotals{Files: 2, Size: 2000, Views: 1, Downloads: 1}, totals)
}

func TestBadgerUserRepository_Lifecycle(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()
	joined := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)

	u, err := store.Users.Touch(ctx, models.User{ID: 10, FirstName: "Ada"}, joined)
	req.NoError(err)
	req.Equal("Ada", u.FullName())
	req.True(u.JoinedAt.Equal(joined))

	now := time.Now().UTC().Truncate(time.Millisecond)
	u, err = store.Users.Touch(ctx, models.User{ID: 10, Username: "ada"}, now)
	req.NoError(err)
	req.Equal("Ada", u.FirstName, "empty profile fields keep stored values")
	req.Equal("ada", u.Username)
	req.True(u.JoinedAt.Equal(joined), "join date is set once")

	req.NoError(store.Users.AddUpload(ctx, 10, 512, now))
	req.NoError(store.Users.AddUpload(ctx, 10, 512, now))
	u, err = store.Users.Get(ctx, 10)
	req.NoError(err)
	req.Equal(int64(2), u.FilesUploaded)
	req.Equal(int64(1024), u.TotalSizeUploaded)

	_, err = store.Users.Touch(ctx, models.User{ID: 11}, now)
	req.NoError(err)
	req.NoError(store.Users.SetBanned(ctx, 11, true))

	reachable, err := store.Users.ListReachable(ctx)
	req.NoError(err)
	req.Len(reachable, 1)
	req.Equal(int64(10), reachable[0].ID)

	counts, err := store.Users.Counts(ctx, now)
	req.NoError(err)
	req.Equal(int64(2), counts.Total)
	req.Equal(int64(1), counts.Banned)
	req.Equal(int64(2), counts.Active24h)
	req.Equal(int64(1), counts.NewToday)
	req.Equal(int64(2), counts.NewWeek)

	req.ErrorIs(store.Users.SetBanned(ctx, 404, true), ErrNotFound)
}

func TestBadgerAuditRepository_Save(t *testing.T) {
	req := require.New(t)
	store := setupBadgerStore(t)
	ctx := context.Background()

	b := &models.Broadcast{ID: "b1", AdminID: 1, Message: "hi", Status: models.BroadcastInProgress, StartedAt: time.Now()}
	req.NoError(store.Audit.SaveBroadcast(ctx, b))
	b.Status = models.BroadcastCompleted
	req.NoError(store.Audit.SaveBroadcast(ctx, b))

	req.NoError(store.Audit.LogAdminAction(ctx, &models.AdminLog{ID: "l1", AdminID: 1, Action: "ban", TargetUserID: 2, Timestamp: time.Now()}))
}
