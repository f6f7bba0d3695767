package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"telegram-filestream/bot"
	"telegram-filestream/configs"
	"telegram-filestream/controllers"
	"telegram-filestream/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configs.Load()
	if err != nil {
		return err
	}
	logger := configs.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ping, closeStore, err := configs.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pool, err := bot.NewPool(cfg.Tokens(), cfg.APIEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize bot pool: %w", err)
	}
	primary := pool.Primary()
	logger.Info("Bot pool initialized",
		slog.Int("bots", pool.Size()),
		slog.String("primary", primary.Self.UserName),
		slog.Bool("local_bot_api", cfg.LocalBotAPI()),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)

	retrier := bot.NewRetrier(cfg.UpstreamMaxAttempts, cfg.UpstreamMaxRetryAfter, logger)
	client := bot.NewClient(pool, retrier, bot.ClientConfig{
		ScratchChatID:   cfg.ScratchChatID(),
		FileEndpoint:    cfg.FileEndpoint,
		CacheTTL:        cfg.MediaCacheTTL,
		DownloadRate:    cfg.DownloadRate,
		MaxDownloadSize: cfg.DownloadLimit(),
	}, logger)

	tokens := services.NewTokenIndex(store.Files, cfg.TokenCacheSize, time.Hour)
	stats := services.NewStatsService(store.Files, store.Users)
	resolver := services.NewLinkResolver(client, cfg.BinChannel, tokens)
	streams := services.NewStreamService(resolver, client, stats, services.StreamConfig{
		ChunkSize:    cfg.StreamChunkSize,
		WriteTimeout: cfg.StreamWriteTimeout,
	}, logger)

	admins, err := cfg.Admins()
	if err != nil {
		return err
	}
	dispatcher := bot.NewDispatcher(bot.Deps{
		Sender:      primary,
		Store:       store,
		Stats:       stats,
		Tokens:      tokens,
		Retrier:     retrier,
		Broadcaster: bot.NewBroadcaster(primary, store.Users, store.Audit, cfg.BroadcastRate, logger),
	}, bot.Settings{
		BotUsername:       primary.Self.UserName,
		BinChannel:        cfg.BinChannel,
		PublicURL:         cfg.PublicURL(),
		Admins:            admins,
		Workers:           cfg.Workers,
		MinFileSize:       cfg.MinFileSize,
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.Extensions(),
		EnableStats:       cfg.EnableStats,
		EnableBroadcast:   cfg.EnableBroadcast,
		EnableForceSub:    cfg.EnableForceSub,
		ForceSubChannel:   cfg.ForceSubChannel,
	}, logger)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		controllers.RequestID(),
		controllers.RequestLogger(logger),
		controllers.Metrics(),
		cors.New(cors.Config{
			AllowOrigins:  []string{"*"},
			AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Range", "Content-Type"},
			ExposeHeaders: []string{"Content-Length", "Content-Range", "Accept-Ranges", "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}),
	)
	controllers.RegisterRoutes(router,
		controllers.NewStreamController(streams),
		controllers.NewStatsController(resolver, stats, ping, primary.Self.UserName, logger),
	)

	// no WriteTimeout: a single response may stream for hours, each chunk
	// write carries its own deadline instead
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			slog.String("address", srv.Addr),
			slog.String("public_url", cfg.PublicURL()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 60
	updates := primary.GetUpdatesChan(updateCfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, updates)
	}()
	logger.Info("Bot started", slog.String("username", primary.Self.UserName), slog.Int("workers", cfg.Workers))

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-errChan:
		stop()
		primary.StopReceivingUpdates()
		wg.Wait()
		return err
	}

	primary.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", slog.String("error", err.Error()))
	}
	wg.Wait()

	logger.Info("Server exited gracefully")
	return nil
}
