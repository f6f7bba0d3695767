package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	// PublicDownloadLimit is the largest file getFile serves on api.telegram.org.
	PublicDownloadLimit int64 = 20 << 20
	// LocalMaxFileSize is the Telegram upload ceiling, reachable only through
	// a local Bot API server started with --local.
	LocalMaxFileSize int64 = 2 << 30
)

var validate = validator.New()

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	BotToken   string `env:"BOT_TOKEN,required=true" validate:"required"`
	MultiToken string `env:"MULTI_TOKEN"`
	BinChannel int64  `env:"BIN_CHANNEL,required=true" validate:"required"`
	// LogChannel receives the short-lived forwards used to read messages.
	LogChannel int64 `env:"LOG_CHANNEL"`

	Port        int    `env:"PORT,default=8080" validate:"min=1,max=65535"`
	BindAddress string `env:"WEB_SERVER_BIND_ADDRESS,default=0.0.0.0" validate:"required"`
	FQDN        string `env:"FQDN"`
	HasSSL      bool   `env:"HAS_SSL,default=false"`
	NoPort      bool   `env:"NO_PORT,default=false"`

	AdminList string `env:"ADMINS"`
	OwnerID   int64  `env:"OWNER_ID"`
	Workers   int    `env:"WORKERS,default=8" validate:"min=1,max=256"`

	EnableStats     bool   `env:"ENABLE_STATS,default=true"`
	EnableBroadcast bool   `env:"ENABLE_BROADCAST,default=true"`
	EnableForceSub  bool   `env:"ENABLE_FORCE_SUB,default=false"`
	ForceSubChannel string `env:"FORCE_SUB_CHANNEL" validate:"required_if=EnableForceSub true"`

	// MaxFileSize defaults to the download limit of the configured endpoint.
	MaxFileSize       int64  `env:"MAX_FILE_SIZE" validate:"gtefield=MinFileSize"`
	MinFileSize       int64  `env:"MIN_FILE_SIZE,default=0" validate:"min=0"`
	AllowedExtensions string `env:"ALLOWED_EXTENSIONS"`

	StoreDriver   string `env:"STORE_DRIVER,default=badger" validate:"oneof=mongo badger"`
	MongoURL      string `env:"MONGO_URL" validate:"required_if=StoreDriver mongo"`
	MongoDatabase string `env:"MONGO_DATABASE,default=filestream" validate:"required"`
	BadgerPath    string `env:"BADGER_PATH,default=data/badger"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json text"`

	StreamChunkSize       int           `env:"STREAM_CHUNK_SIZE,default=1048576" validate:"min=4096"`
	StreamWriteTimeout    time.Duration `env:"STREAM_WRITE_TIMEOUT,default=60s" validate:"gt=0"`
	UpstreamMaxAttempts   int           `env:"UPSTREAM_MAX_ATTEMPTS,default=3" validate:"min=1,max=10"`
	UpstreamMaxRetryAfter time.Duration `env:"UPSTREAM_MAX_RETRY_AFTER,default=30s"`
	MediaCacheTTL         time.Duration `env:"MEDIA_CACHE_TTL,default=10m" validate:"gt=0"`
	TokenCacheSize        int           `env:"TOKEN_CACHE_SIZE,default=10000" validate:"min=1"`
	DownloadRate          float64       `env:"DOWNLOAD_RATE,default=20" validate:"gt=0"`
	BroadcastRate         float64       `env:"BROADCAST_RATE,default=25" validate:"gt=0"`

	// APIEndpoint points at a local Bot API server; files over 20 MB need one.
	APIEndpoint  string `env:"TELEGRAM_API_ENDPOINT"`
	FileEndpoint string `env:"TELEGRAM_FILE_ENDPOINT"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT,default=10s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT,default=2m"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return Parse(es)
}

// Parse decodes and validates a configuration from es.
func Parse(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = LocalMaxFileSize
		if !cfg.LocalBotAPI() {
			cfg.MaxFileSize = PublicDownloadLimit
		}
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.LocalBotAPI() && cfg.MaxFileSize > PublicDownloadLimit {
		return nil, fmt.Errorf("invalid config: MAX_FILE_SIZE %d exceeds the %d byte public Bot API download limit, set TELEGRAM_API_ENDPOINT to a local Bot API server",
			cfg.MaxFileSize, PublicDownloadLimit)
	}
	if _, err := cfg.Admins(); err != nil {
		return nil, err
	}
	if cfg.FQDN == "" {
		cfg.FQDN = cfg.BindAddress
	}
	return &cfg, nil
}

// LocalBotAPI reports whether requests go to a self-hosted Bot API server.
func (c *Config) LocalBotAPI() bool {
	return c.APIEndpoint != ""
}

// DownloadLimit is the largest file the endpoint lets bots download, or
// zero when unlimited.
func (c *Config) DownloadLimit() int64 {
	if c.LocalBotAPI() {
		return 0
	}
	return PublicDownloadLimit
}

// Tokens returns BOT_TOKEN followed by the distinct MULTI_TOKEN entries.
func (c *Config) Tokens() []string {
	return lo.Uniq(append([]string{c.BotToken}, splitList(c.MultiToken)...))
}

// Admins returns ADMINS plus OWNER_ID.
func (c *Config) Admins() ([]int64, error) {
	var ids []int64
	for _, s := range splitList(c.AdminList) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	if c.OwnerID != 0 {
		ids = append(ids, c.OwnerID)
	}
	return lo.Uniq(ids), nil
}

// Extensions returns ALLOWED_EXTENSIONS lowercased and without dots.
func (c *Config) Extensions() []string {
	return lo.Uniq(lo.Map(splitList(c.AllowedExtensions), func(s string, _ int) string {
		return strings.TrimPrefix(strings.ToLower(s), ".")
	}))
}

// ScratchChatID is the chat used for message lookups.
func (c *Config) ScratchChatID() int64 {
	if c.LogChannel != 0 {
		return c.LogChannel
	}
	return c.BinChannel
}

// PublicURL is the base of every generated link and ends with a slash.
func (c *Config) PublicURL() string {
	scheme := "http"
	if c.HasSSL {
		scheme = "https"
	}
	if c.NoPort {
		return fmt.Sprintf("%s://%s/", scheme, c.FQDN)
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, c.FQDN, c.Port)
}

func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// splitList accepts space or comma separated values.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
