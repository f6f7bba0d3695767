package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/models"
	"telegram-filestream/repositories"
	"telegram-filestream/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
)

// Sender is the part of the Bot API the dispatcher talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

type Settings struct {
	BotUsername       string
	BinChannel        int64
	PublicURL         string
	Admins            []int64
	Workers           int
	MinFileSize       int64
	MaxFileSize       int64
	AllowedExtensions []string
	EnableStats       bool
	EnableBroadcast   bool
	EnableForceSub    bool
	ForceSubChannel   string
}

type Deps struct {
	Sender      Sender
	Store       *repositories.Store
	Stats       *services.StatsService
	Tokens      *services.TokenIndex
	Retrier     *Retrier
	Broadcaster *Broadcaster
}

type commandFunc func(ctx context.Context, msg *tgbotapi.Message, user *models.User)

type command struct {
	handle    commandFunc
	adminOnly bool
}

// Dispatcher routes bot updates to command handlers. It owns the command
// table; the Bot API handle is only used to send replies.
type Dispatcher struct {
	sender      Sender
	store       *repositories.Store
	stats       *services.StatsService
	tokens      *services.TokenIndex
	retrier     *Retrier
	broadcaster *Broadcaster
	settings    Settings
	commands    map[string]command
	logger      *slog.Logger
	now         func() time.Time
	background  sync.WaitGroup
}

func NewDispatcher(deps Deps, settings Settings, logger *slog.Logger) *Dispatcher {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	d := &Dispatcher{
		sender:      deps.Sender,
		store:       deps.Store,
		stats:       deps.Stats,
		tokens:      deps.Tokens,
		retrier:     deps.Retrier,
		broadcaster: deps.Broadcaster,
		settings:    settings,
		logger:      logger.With(slog.String("component", "dispatcher")),
		now:         time.Now,
	}
	d.commands = map[string]command{
		"start":        {handle: d.handleStart},
		"help":         {handle: d.handleHelp},
		"about":        {handle: d.handleAbout},
		"stats":        {handle: d.handleStats},
		"admin":        {handle: d.handleAdmin, adminOnly: true},
		"broadcast":    {handle: d.handleBroadcast, adminOnly: true},
		"ban":          {handle: d.handleBan, adminOnly: true},
		"unban":        {handle: d.handleUnban, adminOnly: true},
		"users":        {handle: d.handleUsers, adminOnly: true},
		"stats_global": {handle: d.handleGlobalStats, adminOnly: true},
	}
	return d
}

// Run handles updates on the configured number of workers until ctx is
// cancelled or updates is closed. It waits for running broadcasts.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	for i := 0; i < d.settings.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-updates:
					if !ok {
						return
					}
					d.Handle(ctx, u)
				}
			}
		}()
	}
	wg.Wait()
	d.background.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Handle processes a single update.
func (d *Dispatcher) Handle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Update handler panicked", slog.Int("update_id", u.UpdateID), slog.Any("panic", r))
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		d.handleMessage(ctx, u.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}

	user, err := d.store.Users.Touch(ctx, profileOf(msg.From), d.now())
	if err != nil {
		d.logger.Error("Failed to register user", slog.Int64("user_id", msg.From.ID), slog.String("error", err.Error()))
		d.reply(msg, "❌ Something went wrong, please try again later.")
		return
	}
	if user.IsBanned && !d.isAdmin(user.ID) {
		if msg.IsCommand() {
			d.reply(msg, "🚫 You are banned from using this bot.")
		}
		return
	}

	if msg.IsCommand() {
		cmd, ok := d.commands[strings.ToLower(msg.Command())]
		if !ok {
			d.reply(msg, "Unknown command. Send /help to see what I can do.")
			return
		}
		if cmd.adminOnly && !d.isAdmin(user.ID) {
			d.reply(msg, "⛔ This command is only for admins.")
			return
		}
		cmd.handle(ctx, msg, user)
		return
	}

	if media := ExtractMedia(msg, d.settings.BotUsername); media != nil {
		d.handleUpload(ctx, msg, user, media)
		return
	}
	d.reply(msg, "Send me any file and I will give you a stream and download link.")
}

func (d *Dispatcher) isAdmin(userID int64) bool {
	return lo.Contains(d.settings.Admins, userID)
}

// subscribed reports whether the user passes the force-subscribe check,
// prompting them to join otherwise.
func (d *Dispatcher) subscribed(msg *tgbotapi.Message) bool {
	if !d.settings.EnableForceSub || d.settings.ForceSubChannel == "" || d.isAdmin(msg.From.ID) {
		return true
	}

	cfg := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: chatWithUser(d.settings.ForceSubChannel, msg.From.ID)}
	member, err := d.sender.GetChatMember(cfg)
	if err == nil && (member.IsCreator() || member.IsAdministrator() || member.Status == "member") {
		return true
	}
	if err != nil && !errors.Is(Classify(err), apperrors.ErrNotFound) {
		d.logger.Warn("Force-subscribe check failed", slog.Int64("user_id", msg.From.ID), slog.String("error", err.Error()))
	}

	d.send(forceSubMessage(msg.Chat.ID, d.settings.ForceSubChannel))
	return false
}

func (d *Dispatcher) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	d.send(out)
}

func (d *Dispatcher) send(c tgbotapi.Chattable) (tgbotapi.Message, bool) {
	sent, err := d.sender.Send(c)
	if err != nil {
		d.logger.Warn("Failed to send message", slog.String("error", err.Error()))
		return sent, false
	}
	return sent, true
}

func profileOf(u *tgbotapi.User) models.User {
	return models.User{
		ID:           u.ID,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}
