package controllers

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"telegram-filestream/apperrors"
	"telegram-filestream/services"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Templates parses the embedded HTML pages for router.SetHTMLTemplate.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templatesFS, "templates/*.html"))
}

type StatsController struct {
	resolver    *services.LinkResolver
	stats       *services.StatsService
	ready       func(context.Context) error
	botUsername string
	logger      *slog.Logger
}

func NewStatsController(resolver *services.LinkResolver, stats *services.StatsService, ready func(context.Context) error, botUsername string, logger *slog.Logger) *StatsController {
	return &StatsController{
		resolver:    resolver,
		stats:       stats,
		ready:       ready,
		botUsername: botUsername,
		logger:      logger.With(slog.String("component", "stats_controller")),
	}
}

func (sc *StatsController) Index(c *gin.Context) {
	data := gin.H{"BotUsername": sc.botUsername, "Files": "0", "Users": "0", "Views": "0"}
	if g, err := sc.stats.Global(c.Request.Context()); err == nil {
		data["Files"] = humanize.Comma(g.Files)
		data["Users"] = humanize.Comma(g.Total)
		data["Views"] = humanize.Comma(g.Views)
	} else {
		sc.logger.Warn("Failed to load stats for index page", slog.String("error", err.Error()))
	}
	c.HTML(http.StatusOK, "index.html", data)
}

// Stats serves GET /stats.
func (sc *StatsController) Stats(c *gin.Context) {
	g, err := sc.stats.Global(c.Request.Context())
	if err != nil {
		sc.logger.Error("Failed to load global stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_files":     g.Files,
		"total_size":      g.Size,
		"total_users":     g.Total,
		"banned_users":    g.Banned,
		"total_views":     g.Views,
		"total_downloads": g.Downloads,
		"uptime":          g.Uptime.Truncate(time.Second).String(),
	})
}

// ShortLink serves the info page behind GET /:token. It never streams bytes.
func (sc *StatsController) ShortLink(c *gin.Context) {
	rec, err := sc.resolver.ResolveToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			sc.logger.Error("Failed to resolve short link", slog.String("error", err.Error()))
		}
		c.String(status, http.StatusText(status))
		return
	}

	c.HTML(http.StatusOK, "file.html", gin.H{
		"Name":        rec.Name,
		"Size":        humanize.IBytes(uint64(rec.Size)),
		"Type":        rec.FileType,
		"Views":       humanize.Comma(rec.Views),
		"Downloads":   humanize.Comma(rec.Downloads),
		"Uploaded":    humanize.Time(rec.CreatedAt),
		"WatchURL":    "/" + rec.WatchPath(),
		"DownloadURL": "/" + rec.DownloadPath(),
	})
}

func (sc *StatsController) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (sc *StatsController) Readyz(c *gin.Context) {
	if sc.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := sc.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
