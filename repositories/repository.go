// Package repositories persists file records, users and admin history.
//
// Two drivers implement the same interfaces: MongoDB for shared
// deployments and Badger for a single embedded node. Both are safe for
// concurrent use; each call checks out its own session or transaction, so
// no handle is shared between requests.
package repositories

import (
	"context"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = apperrors.ErrNotFound

type FileRepository interface {
	// Create stores rec unless a record with the same file_unique_id exists,
	// in which case the stored one is returned and created is false.
	Create(ctx context.Context, rec *models.FileRecord) (stored *models.FileRecord, created bool, err error)
	GetByUniqueID(ctx context.Context, fileUniqueID string) (*models.FileRecord, error)
	// FindByToken returns every record whose token matches. More than one
	// result means a token collision.
	FindByToken(ctx context.Context, token string) ([]models.FileRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]models.FileRecord, error)
	// IncrementCounter atomically bumps the view or download counter.
	IncrementCounter(ctx context.Context, fileUniqueID string, kind models.EventKind, at time.Time) error
	Totals(ctx context.Context) (models.FileTotals, error)
}

type UserRepository interface {
	// Touch creates the user or refreshes profile fields and last activity.
	Touch(ctx context.Context, profile models.User, at time.Time) (*models.User, error)
	Get(ctx context.Context, id int64) (*models.User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error
	AddUpload(ctx context.Context, id int64, size int64, at time.Time) error
	// ListReachable returns users that are not banned.
	ListReachable(ctx context.Context) ([]models.User, error)
	Counts(ctx context.Context, now time.Time) (models.UserCounts, error)
}

type AuditRepository interface {
	SaveBroadcast(ctx context.Context, b *models.Broadcast) error
	LogAdminAction(ctx context.Context, entry *models.AdminLog) error
}

// Store bundles the repositories of one driver.
type Store struct {
	Files FileRepository
	Users UserRepository
	Audit AuditRepository
}

func counterField(kind models.EventKind) string {
	if kind == models.EventDownload {
		return "downloads"
	}
	return "views"
}
