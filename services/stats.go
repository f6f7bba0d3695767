package services

import (
	"context"
	"fmt"
	"time"

	"telegram-filestream/models"
	"telegram-filestream/repositories"
)

// StatsService is the StatsSink backed by the repositories. Counter
// increments are atomic in the store, so callers need no locking.
type StatsService struct {
	files   repositories.FileRepository
	users   repositories.UserRepository
	started time.Time
	now     func() time.Time
}

func NewStatsService(files repositories.FileRepository, users repositories.UserRepository) *StatsService {
	return &StatsService{
		files:   files,
		users:   users,
		started: time.Now(),
		now:     time.Now,
	}
}

func (s *StatsService) Record(ctx context.Context, fileUniqueID string, kind models.EventKind) error {
	if err := s.files.IncrementCounter(ctx, fileUniqueID, kind, s.now()); err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", kind, fileUniqueID, err)
	}
	return nil
}

func (s *StatsService) Global(ctx context.Context) (*models.GlobalStats, error) {
	totals, err := s.files.Totals(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.users.Counts(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return &models.GlobalStats{
		FileTotals: totals,
		UserCounts: counts,
		Uptime:     s.now().Sub(s.started),
	}, nil
}

func (s *StatsService) ForUser(ctx context.Context, userID int64) (*models.UserStats, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{User: *user, Files: len(files)}
	for _, f := range files {
		stats.Views += f.Views
		stats.Downloads += f.Downloads
	}
	stats.Achievements = achievements(stats)
	return stats, nil
}

func achievements(s *models.UserStats) []string {
	var out []string
	if s.User.FilesUploaded >= 1 {
		out = append(out, "🎯 First Upload")
	}
	if s.User.FilesUploaded >= 10 {
		out = append(out, "📦 10 Files Uploaded")
	}
	if s.User.FilesUploaded >= 100 {
		out = append(out, "💎 100 Files Master")
	}
	if s.User.TotalSizeUploaded >= 1<<30 {
		out = append(out, "💾 1GB+ Uploaded")
	}
	if s.Views >= 1000 {
		out = append(out, "👁 1K+ Views")
	}
	return out
}
