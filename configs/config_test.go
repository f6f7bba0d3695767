package configs

import (
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func baseEnv() env.EnvSet {
	return env.EnvSet{
		"BOT_TOKEN":   "123:abc",
		"BIN_CHANNEL": "-1001234",
	}
}

func TestParse_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Parse(baseEnv())
	req.NoError(err)
	req.Equal(8080, cfg.Port)
	req.Equal("0.0.0.0", cfg.BindAddress)
	req.Equal("0.0.0.0", cfg.FQDN)
	req.Equal(8, cfg.Workers)
	req.True(cfg.EnableStats)
	req.True(cfg.EnableBroadcast)
	req.False(cfg.EnableForceSub)
	req.False(cfg.LocalBotAPI())
	req.Equal(int64(20<<20), cfg.MaxFileSize)
	req.Equal(PublicDownloadLimit, cfg.DownloadLimit())
	req.Equal("badger", cfg.StoreDriver)
	req.Equal(1<<20, cfg.StreamChunkSize)
	req.Equal(3, cfg.UpstreamMaxAttempts)
	req.Equal(30*time.Second, cfg.UpstreamMaxRetryAfter)
	req.Equal(10*time.Minute, cfg.MediaCacheTTL)
	req.Equal(time.Minute, cfg.StreamWriteTimeout)
	req.Equal(int64(-1001234), cfg.ScratchChatID())
	req.Equal("http://0.0.0.0:8080/", cfg.PublicURL())
	req.Equal("0.0.0.0:8080", cfg.ListenAddress())
}

func TestParse_MissingRequired(t *testing.T) {
	_, err := Parse(env.EnvSet{"BIN_CHANNEL": "-100"})
	require.Error(t, err)

	_, err = Parse(env.EnvSet{"BOT_TOKEN": "x"})
	require.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "STORE_DRIVER", "sqlite"},
		{"mongo without url", "STORE_DRIVER", "mongo"},
		{"force sub without channel", "ENABLE_FORCE_SUB", "true"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"tiny chunks", "STREAM_CHUNK_SIZE", "10"},
		{"bad admin id", "ADMINS", "12 abc"},
		{"max below min", "MIN_FILE_SIZE", "4294967296"},
		{"over public download limit", "MAX_FILE_SIZE", "734003200"},
		{"no write timeout", "STREAM_WRITE_TIMEOUT", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := baseEnv()
			es[tt.key] = tt.val
			_, err := Parse(es)
			require.Error(t, err)
		})
	}
}

func TestParse_LocalBotAPIRaisesFileLimit(t *testing.T) {
	req := require.New(t)
	es := baseEnv()
	es["TELEGRAM_API_ENDPOINT"] = "http://bot-api:8081/bot%s/%s"

	cfg, err := Parse(es)
	req.NoError(err)
	req.True(cfg.LocalBotAPI())
	req.Equal(int64(2<<30), cfg.MaxFileSize)
	req.Zero(cfg.DownloadLimit())

	es["MAX_FILE_SIZE"] = "734003200"
	cfg, err = Parse(es)
	req.NoError(err)
	req.Equal(int64(734003200), cfg.MaxFileSize)
}

func TestParse_PublicEndpointKeepsSmallerLimit(t *testing.T) {
	es := baseEnv()
	es["MAX_FILE_SIZE"] = "1048576"

	cfg, err := Parse(es)
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), cfg.MaxFileSize)
}

func TestConfig_Lists(t *testing.T) {
	req := require.New(t)
	es := baseEnv()
	es["MULTI_TOKEN"] = "456:def, 789:ghi 123:abc"
	es["ADMINS"] = "10 20,30"
	es["OWNER_ID"] = "20"
	es["ALLOWED_EXTENSIONS"] = ".MP4 mkv,mp4"

	cfg, err := Parse(es)
	req.NoError(err)
	req.Equal([]string{"123:abc", "456:def", "789:ghi"}, cfg.Tokens())

	admins, err := cfg.Admins()
	req.NoError(err)
	req.Equal([]int64{10, 20, 30}, admins)
	req.Equal([]string{"mp4", "mkv"}, cfg.Extensions())
}

func TestConfig_PublicURL(t *testing.T) {
	tests := []struct {
		name   string
		ssl    bool
		noPort bool
		want   string
	}{
		{"plain", false, false, "http://files.example.com:8443/"},
		{"ssl", true, false, "https://files.example.com:8443/"},
		{"ssl without port", true, true, "https://files.example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{FQDN: "files.example.com", Port: 8443, HasSSL: tt.ssl, NoPort: tt.noPort}
			require.Equal(t, tt.want, cfg.PublicURL())
		})
	}
}

func TestConfig_ScratchChatPrefersLogChannel(t *testing.T) {
	es := baseEnv()
	es["LOG_CHANNEL"] = "-100999"

	cfg, err := Parse(es)
	require.NoError(t, err)
	require.Equal(t, int64(-100999), cfg.ScratchChatID())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel("debug").String())
	require.Equal(t, "WARN", parseLevel("WARN").String())
	require.Equal(t, "INFO", parseLevel("").String())
}
