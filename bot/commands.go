package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"telegram-filestream/linkhash"
	"telegram-filestream/models"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	callbackHelp      = "help"
	callbackAbout     = "about"
	callbackFileStats = "file_stats:"
)

const helpText = `<b>How to use</b>

1. Send or forward any file to me.
2. I answer with a stream link, a download link and a short link.
3. Share the links. Anyone can open them in a browser or media player.

<b>Commands</b>
/start - start the bot
/help - this message
/stats - your upload statistics
/about - about this bot`

const adminText = `<b>Admin commands</b>

/broadcast &lt;text&gt; - message every user
/ban &lt;user_id&gt; - block a user
/unban &lt;user_id&gt; - unblock a user
/users - user overview
/stats_global - service statistics`

func (d *Dispatcher) handleStart(_ context.Context, msg *tgbotapi.Message, user *models.User) {
	if !d.subscribed(msg) {
		return
	}
	text := fmt.Sprintf("👋 Hi <b>%s</b>!\n\nSend me any file and I will turn it into a link you can stream or download from anywhere.",
		html.EscapeString(user.FullName()))

	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("❓ Help", callbackHelp),
		tgbotapi.NewInlineKeyboardButtonData("ℹ️ About", callbackAbout),
	))
	d.send(out)
}

func (d *Dispatcher) handleHelp(_ context.Context, msg *tgbotapi.Message, _ *models.User) {
	d.sendHTML(msg.Chat.ID, helpText)
}

func (d *Dispatcher) handleAbout(_ context.Context, msg *tgbotapi.Message, _ *models.User) {
	d.sendHTML(msg.Chat.ID, d.aboutText())
}

func (d *Dispatcher) aboutText() string {
	return fmt.Sprintf("<b>File Stream Bot</b>\n\nStores files in Telegram and serves them over HTTP with seeking support.\nMaximum file size: %s",
		humanize.IBytes(uint64(d.settings.MaxFileSize)))
}

func (d *Dispatcher) handleStats(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	if !d.settings.EnableStats {
		d.reply(msg, "📊 Statistics are disabled.")
		return
	}
	stats, err := d.stats.ForUser(ctx, user.ID)
	if err != nil {
		d.logger.Error("Failed to load user stats", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		d.reply(msg, "❌ Could not load your statistics.")
		return
	}
	d.sendHTML(msg.Chat.ID, formatUserStats(stats, d.now()))
}

func formatUserStats(s *models.UserStats, now time.Time) string {
	status := "🟢 Active"
	if s.User.IsBanned {
		status = "🔴 Banned"
	}
	achievements := "• No achievements yet"
	if len(s.Achievements) > 0 {
		achievements = strings.Join(lo.Map(s.Achievements, func(a string, _ int) string { return "• " + a }), "\n")
	}

	return fmt.Sprintf(`📊 <b>Your Statistics</b>

👤 <b>User</b>
• Name: %s
• User ID: <code>%d</code>
• Joined: %d days ago

📁 <b>Files</b>
• Total files: %d
• Total size: %s
• Total views: %s
• Total downloads: %s

📈 <b>Activity</b>
• Last active: %s
• Status: %s

🏆 <b>Achievements</b>
%s`,
		html.EscapeString(s.User.FullName()), s.User.ID, int(now.Sub(s.User.JoinedAt).Hours()/24),
		s.User.FilesUploaded, humanize.IBytes(uint64(s.User.TotalSizeUploaded)),
		humanize.Comma(s.Views), humanize.Comma(s.Downloads),
		s.User.LastActivity.UTC().Format("2006-01-02 15:04"), status,
		achievements)
}

func (d *Dispatcher) handleUpload(ctx context.Context, msg *tgbotapi.Message, user *models.User, media *models.Media) {
	if !d.subscribed(msg) {
		return
	}
	if reason := validateSize(media.FileSize, d.settings.MinFileSize, d.settings.MaxFileSize); reason != "" {
		d.reply(msg, "❌ "+reason)
		return
	}
	if reason := validateExtension(media.FileName, d.settings.AllowedExtensions); reason != "" {
		d.reply(msg, "❌ "+reason)
		return
	}

	var forwarded tgbotapi.Message
	err := d.retrier.Do(ctx, "forward_bin", func() error {
		var err error
		forwarded, err = d.sender.Send(tgbotapi.NewForward(d.settings.BinChannel, msg.Chat.ID, msg.MessageID))
		return err
	})
	if err != nil {
		d.logger.Error("Failed to store file in bin channel",
			slog.Int64("user_id", user.ID),
			slog.String("file_unique_id", media.FileUniqueID),
			slog.String("error", err.Error()),
		)
		d.reply(msg, "❌ Failed to process your file, please try again.")
		return
	}

	stored := media
	if m := ExtractMedia(&forwarded, d.settings.BotUsername); m != nil {
		stored = m
		stored.FileName = media.FileName
	}
	rec := &models.FileRecord{
		FileUniqueID: stored.FileUniqueID,
		FileID:       stored.FileID,
		Token:        linkhash.Compute(stored.FileUniqueID),
		ChannelID:    d.settings.BinChannel,
		MessageID:    forwarded.MessageID,
		UserID:       user.ID,
		Name:         stored.FileName,
		Size:         stored.FileSize,
		MimeType:     stored.MimeType,
		FileType:     stored.Kind,
		CreatedAt:    d.now().UTC(),
	}

	saved, created, err := d.store.Files.Create(ctx, rec)
	if err != nil {
		d.logger.Error("Failed to save file record", slog.String("file_unique_id", rec.FileUniqueID), slog.String("error", err.Error()))
		d.reply(msg, "❌ Failed to process your file, please try again.")
		return
	}
	if created {
		if err := d.store.Users.AddUpload(ctx, user.ID, rec.Size, d.now()); err != nil {
			d.logger.Warn("Failed to update upload counters", slog.Int64("user_id", user.ID), slog.String("error", err.Error()))
		}
		d.tokens.Add(*saved)
	} else {
		// the first copy in the bin channel keeps serving the links
		if _, err := d.sender.Request(tgbotapi.NewDeleteMessage(d.settings.BinChannel, forwarded.MessageID)); err != nil {
			d.logger.Debug("Failed to drop duplicate bin copy", slog.Int("message_id", forwarded.MessageID), slog.String("error", err.Error()))
		}
	}

	d.logger.Info("File uploaded",
		slog.Int64("user_id", user.ID),
		slog.String("file_name", saved.Name),
		slog.Int64("size", saved.Size),
		slog.Bool("duplicate", !created),
	)
	d.send(d.uploadReply(msg, saved))
}

func (d *Dispatcher) uploadReply(msg *tgbotapi.Message, rec *models.FileRecord) tgbotapi.MessageConfig {
	streamLink := d.settings.PublicURL + rec.WatchPath()
	downloadLink := d.settings.PublicURL + rec.DownloadPath()
	shortLink := d.settings.PublicURL + rec.Token

	text := fmt.Sprintf(`✅ <b>File ready!</b>

📁 <b>Name:</b> <code>%s</code>
📊 <b>Size:</b> %s
🗂 <b>Type:</b> %s

🔗 <b>Stream:</b> %s
📥 <b>Download:</b> %s
✂️ <b>Short link:</b> <code>%s</code>`,
		html.EscapeString(rec.Name), humanize.IBytes(uint64(rec.Size)), rec.FileType,
		html.EscapeString(streamLink), html.EscapeString(downloadLink), shortLink)

	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	out.ReplyToMessageID = msg.MessageID
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("▶️ Stream", streamLink),
			tgbotapi.NewInlineKeyboardButtonURL("📥 Download", downloadLink),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Stats", callbackFileStats+rec.Token),
			tgbotapi.NewInlineKeyboardButtonSwitch("🔗 Share", shortLink),
		),
	)
	return out
}

func validateSize(size, minSize, maxSize int64) string {
	if size < minSize {
		return "File too small. Minimum size: " + humanize.IBytes(uint64(minSize))
	}
	if maxSize > 0 && size > maxSize {
		return "File too large. Maximum size: " + humanize.IBytes(uint64(maxSize))
	}
	return ""
}

func validateExtension(name string, allowed []string) string {
	if len(allowed) == 0 {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext != "" && lo.Contains(allowed, ext) {
		return ""
	}
	return "File type not allowed. Allowed types: " + strings.Join(allowed, ", ")
}

func (d *Dispatcher) handleAdmin(_ context.Context, msg *tgbotapi.Message, _ *models.User) {
	d.sendHTML(msg.Chat.ID, adminText)
}

func (d *Dispatcher) handleBan(ctx context.Context, msg *tgbotapi.Message, admin *models.User) {
	d.setBanned(ctx, msg, admin, true)
}

func (d *Dispatcher) handleUnban(ctx context.Context, msg *tgbotapi.Message, admin *models.User) {
	d.setBanned(ctx, msg, admin, false)
}

func (d *Dispatcher) setBanned(ctx context.Context, msg *tgbotapi.Message, admin *models.User, banned bool) {
	action := "ban"
	if !banned {
		action = "unban"
	}
	target, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		d.reply(msg, fmt.Sprintf("Usage: /%s <user_id>", action))
		return
	}
	if banned && d.isAdmin(target) {
		d.reply(msg, "❌ Admins cannot be banned.")
		return
	}

	if err := d.store.Users.SetBanned(ctx, target, banned); err != nil {
		d.reply(msg, fmt.Sprintf("❌ Could not %s user %d: %v", action, target, err))
		return
	}
	d.logAdminAction(ctx, admin.ID, action, target, "")
	d.reply(msg, fmt.Sprintf("✅ User %d %sned.", target, action))
}

func (d *Dispatcher) handleUsers(ctx context.Context, msg *tgbotapi.Message, _ *models.User) {
	c, err := d.store.Users.Counts(ctx, d.now())
	if err != nil {
		d.reply(msg, "❌ Could not load users.")
		return
	}
	d.sendHTML(msg.Chat.ID, fmt.Sprintf(`👥 <b>Users</b>

• Total: %s
• Banned: %s
• Active today: %s
• Active this week: %s
• New today: %s
• New this week: %s
• New this month: %s`,
		humanize.Comma(c.Total), humanize.Comma(c.Banned), humanize.Comma(c.Active24h), humanize.Comma(c.Active7d),
		humanize.Comma(c.NewToday), humanize.Comma(c.NewWeek), humanize.Comma(c.NewMonth)))
}

func (d *Dispatcher) handleGlobalStats(ctx context.Context, msg *tgbotapi.Message, _ *models.User) {
	g, err := d.stats.Global(ctx)
	if err != nil {
		d.reply(msg, "❌ Could not load statistics.")
		return
	}
	d.sendHTML(msg.Chat.ID, fmt.Sprintf(`📈 <b>Service Statistics</b>

📁 Files: %s (%s)
👁 Views: %s
📥 Downloads: %s
👥 Users: %s (%s banned)
⏱ Uptime: %s`,
		humanize.Comma(g.Files), humanize.IBytes(uint64(g.Size)),
		humanize.Comma(g.Views), humanize.Comma(g.Downloads),
		humanize.Comma(g.Total), humanize.Comma(g.Banned),
		g.Uptime.Truncate(time.Second)))
}

func (d *Dispatcher) handleBroadcast(ctx context.Context, msg *tgbotapi.Message, admin *models.User) {
	if !d.settings.EnableBroadcast || d.broadcaster == nil {
		d.reply(msg, "📢 Broadcasting is disabled.")
		return
	}
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		d.reply(msg, "Usage: /broadcast <text>")
		return
	}

	status, ok := d.send(tgbotapi.NewMessage(msg.Chat.ID, "📢 Broadcast started..."))
	d.background.Add(1)
	go func() {
		defer d.background.Done()

		progress := func(p Progress) {
			if !ok {
				return
			}
			d.send(tgbotapi.NewEditMessageText(msg.Chat.ID, status.MessageID,
				fmt.Sprintf("📢 Broadcasting... %d/%d (✅ %d, ❌ %d)", p.Done, p.Total, p.Succeeded, p.Failed)))
		}
		b, err := d.broadcaster.Run(ctx, admin.ID, text, progress)
		if err != nil {
			d.logger.Error("Broadcast failed", slog.String("error", err.Error()))
			d.send(tgbotapi.NewMessage(msg.Chat.ID, "❌ Broadcast failed: "+err.Error()))
			return
		}
		d.logAdminAction(ctx, admin.ID, "broadcast", 0, b.ID)
		d.send(tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("✅ Broadcast finished: %d delivered, %d failed, %d total.",
			b.SuccessCount, b.FailedCount, b.TotalUsers)))
	}()
}

func (d *Dispatcher) logAdminAction(ctx context.Context, adminID int64, action string, target int64, details string) {
	entry := &models.AdminLog{
		ID:           uuid.NewString(),
		AdminID:      adminID,
		Action:       action,
		TargetUserID: target,
		Details:      details,
		Timestamp:    d.now().UTC(),
	}
	if err := d.store.Audit.LogAdminAction(ctx, entry); err != nil {
		d.logger.Warn("Failed to write admin log", slog.String("action", action), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	answer := tgbotapi.NewCallback(q.ID, "")

	switch {
	case q.Data == callbackHelp || q.Data == callbackAbout:
		text := helpText
		if q.Data == callbackAbout {
			text = d.aboutText()
		}
		if q.Message != nil {
			edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
			edit.ParseMode = tgbotapi.ModeHTML
			d.send(edit)
		}
	case strings.HasPrefix(q.Data, callbackFileStats):
		token := strings.TrimPrefix(q.Data, callbackFileStats)
		rec, err := d.tokens.Lookup(ctx, token)
		if err != nil {
			answer.Text = "File not found."
			break
		}
		answer.ShowAlert = true
		answer.Text = fmt.Sprintf("%s\n\n👁 Views: %s\n📥 Downloads: %s\n📊 Size: %s",
			rec.Name, humanize.Comma(rec.Views), humanize.Comma(rec.Downloads), humanize.IBytes(uint64(rec.Size)))
	default:
		answer.Text = "Unknown action."
	}

	if _, err := d.sender.Request(answer); err != nil {
		d.logger.Debug("Failed to answer callback", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) sendHTML(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	d.send(out)
}

// chatWithUser addresses a channel given either as numeric id or @username.
func chatWithUser(channel string, userID int64) tgbotapi.ChatConfigWithUser {
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		return tgbotapi.ChatConfigWithUser{ChatID: id, UserID: userID}
	}
	return tgbotapi.ChatConfigWithUser{SuperGroupUsername: "@" + strings.TrimPrefix(channel, "@"), UserID: userID}
}

func forceSubMessage(chatID int64, channel string) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(chatID, "🔒 Please join our channel to use this bot, then send /start again.")
	if _, err := strconv.ParseInt(channel, 10, 64); err != nil {
		link := "https://t.me/" + strings.TrimPrefix(channel, "@")
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Join channel", link),
		))
	}
	return out
}
