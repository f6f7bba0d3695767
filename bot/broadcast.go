package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"telegram-filestream/models"
	"telegram-filestream/repositories"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const progressEvery = 10

// Telegram allows about 30 messages per second to different chats.
const DefaultBroadcastRate = 25

type Progress struct {
	Done      int
	Total     int
	Succeeded int
	Failed    int
}

// Broadcaster delivers one text to every user who is not banned.
type Broadcaster struct {
	sender  Sender
	users   repositories.UserRepository
	audit   repositories.AuditRepository
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewBroadcaster(sender Sender, users repositories.UserRepository, audit repositories.AuditRepository, perSecond float64, logger *slog.Logger) *Broadcaster {
	if perSecond <= 0 {
		perSecond = DefaultBroadcastRate
	}
	return &Broadcaster{
		sender:  sender,
		users:   users,
		audit:   audit,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger.With(slog.String("component", "broadcaster")),
		now:     time.Now,
	}
}

// Run sends text to all reachable users. Progress is reported every few
// users and once at the end. The Broadcast record is persisted at start
// and completion.
func (b *Broadcaster) Run(ctx context.Context, adminID int64, text string, progress func(Progress)) (*models.Broadcast, error) {
	users, err := b.users.ListReachable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	rec := &models.Broadcast{
		ID:         uuid.NewString(),
		AdminID:    adminID,
		Message:    text,
		TotalUsers: len(users),
		Status:     models.BroadcastInProgress,
		StartedAt:  b.now().UTC(),
	}
	if err := b.audit.SaveBroadcast(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save broadcast: %w", err)
	}

	p := Progress{Total: len(users)}
	for _, u := range users {
		if err := b.limiter.Wait(ctx); err != nil {
			return b.finish(rec, models.BroadcastFailed, p), err
		}
		if _, err := b.sender.Send(tgbotapi.NewMessage(u.ID, text)); err != nil {
			p.Failed++
			b.logger.Debug("Broadcast delivery failed", slog.Int64("user_id", u.ID), slog.String("error", err.Error()))
		} else {
			p.Succeeded++
		}
		p.Done++
		if progress != nil && p.Done%progressEvery == 0 && p.Done < p.Total {
			progress(p)
		}
	}
	if progress != nil {
		progress(p)
	}

	return b.finish(rec, models.BroadcastCompleted, p), nil
}

func (b *Broadcaster) finish(rec *models.Broadcast, status models.BroadcastStatus, p Progress) *models.Broadcast {
	done := b.now().UTC()
	rec.Status = status
	rec.SuccessCount = p.Succeeded
	rec.FailedCount = p.Failed
	rec.CompletedAt = &done

	// the caller's context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.audit.SaveBroadcast(ctx, rec); err != nil {
		b.logger.Warn("Failed to save broadcast result", slog.String("broadcast_id", rec.ID), slog.String("error", err.Error()))
	}
	b.logger.Info("Broadcast finished",
		slog.String("broadcast_id", rec.ID),
		slog.String("status", string(status)),
		slog.Int("succeeded", p.Succeeded),
		slog.Int("failed", p.Failed),
	)
	return rec
}
