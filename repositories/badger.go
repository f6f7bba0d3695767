package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"telegram-filestream/models"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

// Key layout:
//
//	file:<unique_id>                 FileRecord
//	token:<token>:<unique_id>        index entry, empty value
//	userfile:<user_id>:<unique_id>   index entry, empty value
//	user:<user_id>                   User
//	broadcast:<id>                   Broadcast
//	adminlog:<unix_nano>:<id>        AdminLog
const (
	filePrefix      = "file:"
	tokenPrefix     = "token:"
	userFilePrefix  = "userfile:"
	userPrefix      = "user:"
	broadcastPrefix = "broadcast:"
	adminLogPrefix  = "adminlog:"

	maxTxnAttempts = 32
)

// NewBadgerStore builds repositories on top of an open Badger database.
func NewBadgerStore(db *badger.DB) *Store {
	kv := &badgerKV{db: db}
	return &Store{
		Files: &BadgerFileRepository{kv: kv},
		Users: &BadgerUserRepository{kv: kv},
		Audit: &BadgerAuditRepository{kv: kv},
	}
}

type badgerKV struct {
	db *badger.DB
}

// update runs fn in a read-write transaction and replays it when Badger
// reports a conflict with a concurrent commit.
func (kv *badgerKV) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err := kv.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction conflicted %d times", maxTxnAttempts)
}

func getDoc(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(v []byte) error {
		return bson.Unmarshal(v, out)
	})
}

func setDoc(txn *badger.Txn, key string, doc any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// scan decodes every value under prefix with decode.
func (kv *badgerKV) scan(prefix string, decode func(v []byte) error) error {
	return kv.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

// indexedIDs returns the trailing segment of every key under prefix.
func (kv *badgerKV) indexedIDs(prefix string) ([]string, error) {
	var ids []string
	err := kv.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	return ids, err
}

func userKey(id int64) string {
	return fmt.Sprintf("%s%d", userPrefix, id)
}

type BadgerFileRepository struct {
	kv *badgerKV
	// counterMu serialises read-modify-write increments inside this
	// process; update still replays on conflict with other writers.
	counterMu sync.Mutex
}

func (r *BadgerFileRepository) Create(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, bool, error) {
	var stored *models.FileRecord
	var created bool

	err := r.kv.update(ctx, func(txn *badger.Txn) error {
		var existing models.FileRecord
		err := getDoc(txn, filePrefix+rec.FileUniqueID, &existing)
		if err == nil {
			stored, created = &existing, false
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := setDoc(txn, filePrefix+rec.FileUniqueID, rec); err != nil {
			return err
		}
		if err := txn.Set([]byte(tokenPrefix+rec.Token+":"+rec.FileUniqueID), nil); err != nil {
			return err
		}
		if err := txn.Set([]byte(fmt.Sprintf("%s%d:%s", userFilePrefix, rec.UserID, rec.FileUniqueID)), nil); err != nil {
			return err
		}
		stored, created = rec, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create file record: %w", err)
	}
	return stored, created, nil
}

func (r *BadgerFileRepository) GetByUniqueID(_ context.Context, fileUniqueID string) (*models.FileRecord, error) {
	var rec models.FileRecord
	err := r.kv.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, filePrefix+fileUniqueID, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return &rec, nil
}

func (r *BadgerFileRepository) FindByToken(ctx context.Context, token string) ([]models.FileRecord, error) {
	ids, err := r.kv.indexedIDs(tokenPrefix + token + ":")
	if err != nil {
		return nil, fmt.Errorf("failed to scan token index: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *BadgerFileRepository) ListByUser(ctx context.Context, userID int64) ([]models.FileRecord, error) {
	ids, err := r.kv.indexedIDs(fmt.Sprintf("%s%d:", userFilePrefix, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan user index: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *BadgerFileRepository) load(ctx context.Context, ids []string) ([]models.FileRecord, error) {
	records := make([]models.FileRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetByUniqueID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (r *BadgerFileRepository) IncrementCounter(ctx context.Context, fileUniqueID string, kind models.EventKind, at time.Time) error {
	r.counterMu.Lock()
	defer r.counterMu.Unlock()

	return r.kv.update(ctx, func(txn *badger.Txn) error {
		var rec models.FileRecord
		if err := getDoc(txn, filePrefix+fileUniqueID, &rec); err != nil {
			return err
		}
		if kind == models.EventDownload {
			rec.Downloads++
		} else {
			rec.Views++
		}
		accessed := at
		rec.LastAccessed = &accessed
		return setDoc(txn, filePrefix+fileUniqueID, &rec)
	})
}

func (r *BadgerFileRepository) Totals(_ context.Context) (models.FileTotals, error) {
	var totals models.FileTotals
	err := r.kv.scan(filePrefix, func(v []byte) error {
		var rec models.FileRecord
		if err := bson.Unmarshal(v, &rec); err != nil {
			return err
		}
		totals.Files++
		totals.Size += rec.Size
		totals.Views += rec.Views
		totals.Downloads += rec.Downloads
		return nil
	})
	if err != nil {
		return models.FileTotals{}, fmt.Errorf("failed to sum file records: %w", err)
	}
	return totals, nil
}

type BadgerUserRepository struct {
	kv *badgerKV
}

func (r *BadgerUserRepository) Touch(ctx context.Context, profile models.User, at time.Time) (*models.User, error) {
	var user models.User
	err := r.kv.update(ctx, func(txn *badger.Txn) error {
		user = models.User{}
		err := getDoc(txn, userKey(profile.ID), &user)
		if errors.Is(err, ErrNotFound) {
			user = models.User{ID: profile.ID, JoinedAt: at}
		} else if err != nil {
			return err
		}
		if profile.Username != "" {
			user.Username = profile.Username
		}
		if profile.FirstName != "" {
			user.FirstName = profile.FirstName
		}
		if profile.LastName != "" {
			user.LastName = profile.LastName
		}
		if profile.LanguageCode != "" {
			user.LanguageCode = profile.LanguageCode
		}
		user.LastActivity = at
		return setDoc(txn, userKey(profile.ID), &user)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user %d: %w", profile.ID, err)
	}
	return &user, nil
}

func (r *BadgerUserRepository) Get(_ context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.kv.db.View(func(txn *badger.Txn) error {
		return getDoc(txn, userKey(id), &user)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (r *BadgerUserRepository) modify(ctx context.Context, id int64, fn func(u *models.User)) error {
	return r.kv.update(ctx, func(txn *badger.Txn) error {
		var user models.User
		if err := getDoc(txn, userKey(id), &user); err != nil {
			return err
		}
		fn(&user)
		return setDoc(txn, userKey(id), &user)
	})
}

func (r *BadgerUserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	return r.modify(ctx, id, func(u *models.User) {
		u.IsBanned = banned
	})
}

func (r *BadgerUserRepository) AddUpload(ctx context.Context, id int64, size int64, at time.Time) error {
	return r.modify(ctx, id, func(u *models.User) {
		u.FilesUploaded++
		u.TotalSizeUploaded += size
		u.LastActivity = at
	})
}

func (r *BadgerUserRepository) all() ([]models.User, error) {
	var users []models.User
	err := r.kv.scan(userPrefix, func(v []byte) error {
		var u models.User
		if err := bson.Unmarshal(v, &u); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

func (r *BadgerUserRepository) ListReachable(_ context.Context) ([]models.User, error) {
	users, err := r.all()
	if err != nil {
		return nil, err
	}
	reachable := users[:0]
	for _, u := range users {
		if !u.IsBanned {
			reachable = append(reachable, u)
		}
	}
	return reachable, nil
}

func (r *BadgerUserRepository) Counts(_ context.Context, now time.Time) (models.UserCounts, error) {
	users, err := r.all()
	if err != nil {
		return models.UserCounts{}, err
	}
	day, week, month := now.Add(-24*time.Hour), now.Add(-7*24*time.Hour), now.Add(-30*24*time.Hour)

	var c models.UserCounts
	for _, u := range users {
		c.Total++
		if u.IsBanned {
			c.Banned++
		}
		if !u.LastActivity.Before(week) {
			c.Active7d++
		}
		if !u.LastActivity.Before(day) {
			c.Active24h++
		}
		if !u.JoinedAt.Before(day) {
			c.NewToday++
		}
		if !u.JoinedAt.Before(week) {
			c.NewWeek++
		}
		if !u.JoinedAt.Before(month) {
			c.NewMonth++
		}
	}
	return c, nil
}

type BadgerAuditRepository struct {
	kv *badgerKV
}

func (r *BadgerAuditRepository) SaveBroadcast(ctx context.Context, b *models.Broadcast) error {
	return r.kv.update(ctx, func(txn *badger.Txn) error {
		return setDoc(txn, broadcastPrefix+b.ID, b)
	})
}

func (r *BadgerAuditRepository) LogAdminAction(ctx context.Context, entry *models.AdminLog) error {
	key := fmt.Sprintf("%s%020d:%s", adminLogPrefix, entry.Timestamp.UnixNano(), entry.ID)
	return r.kv.update(ctx, func(txn *badger.Txn) error {
		return setDoc(txn, key, entry)
	})
}
