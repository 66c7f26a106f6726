package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEPTHSIM_* environment variable overrides, and
// returns the final Config. An empty path or a missing file yields the
// defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEPTHSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setInt(&cfg.Feed.MaxReconnectAttempts, "DEPTHSIM_FEED_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Feed.BaseDelay, "DEPTHSIM_FEED_BASE_DELAY")
	setDuration(&cfg.Feed.MaxDelay, "DEPTHSIM_FEED_MAX_DELAY")
	setDuration(&cfg.Feed.HandshakeTimeout, "DEPTHSIM_FEED_HANDSHAKE_TIMEOUT")
	setStr(&cfg.Feed.Exchange, "DEPTHSIM_FEED_EXCHANGE")
	setStr(&cfg.Feed.Symbol, "DEPTHSIM_FEED_SYMBOL")

	// ── Exchanges ──
	setInt(&cfg.Exchanges.MaxLevels, "DEPTHSIM_EXCHANGES_MAX_LEVELS")
	setStr(&cfg.Exchanges.OKXEndpoint, "DEPTHSIM_EXCHANGES_OKX_ENDPOINT")
	setStr(&cfg.Exchanges.BybitEndpoint, "DEPTHSIM_EXCHANGES_BYBIT_ENDPOINT")
	setStr(&cfg.Exchanges.DeribitEndpoint, "DEPTHSIM_EXCHANGES_DERIBIT_ENDPOINT")

	// ── Book ──
	setInt(&cfg.Book.Depth, "DEPTHSIM_BOOK_DEPTH")
	setDuration(&cfg.Book.CacheTTL, "DEPTHSIM_BOOK_CACHE_TTL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DEPTHSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPTHSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPTHSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPTHSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEPTHSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEPTHSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ConnectTimeout, "DEPTHSIM_REDIS_CONNECT_TIMEOUT")

	// ── Server ──
	setInt(&cfg.Server.Port, "DEPTHSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEPTHSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DEPTHSIM_SERVER_API_KEY")
	setBool(&cfg.Server.PublicReads, "DEPTHSIM_SERVER_PUBLIC_READS")
	setInt(&cfg.Server.SimulateLimit, "DEPTHSIM_SERVER_SIMULATE_LIMIT")
	setDuration(&cfg.Server.SimulateWindow, "DEPTHSIM_SERVER_SIMULATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEPTHSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEPTHSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEPTHSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEPTHSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEPTHSIM_MODE")
	setStr(&cfg.LogLevel, "DEPTHSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
