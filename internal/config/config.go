// Package config defines the top-level configuration for depthsim and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEPTHSIM_* environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Exchanges ExchangesConfig `toml:"exchanges"`
	Book      BookConfig      `toml:"book"`
	Redis     RedisConfig     `toml:"redis"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FeedConfig holds connection manager parameters and the target streamed at
// startup.
type FeedConfig struct {
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	BaseDelay            duration `toml:"base_delay"`
	MaxDelay             duration `toml:"max_delay"`
	HandshakeTimeout     duration `toml:"handshake_timeout"`
	// Exchange and Symbol select the initial subscription. Both empty means
	// the feed stays idle until a target is set over the API.
	Exchange string `toml:"exchange"`
	Symbol   string `toml:"symbol"`
}

// ExchangesConfig holds per-exchange endpoint overrides and the per-side
// level cap applied during normalization.
type ExchangesConfig struct {
	MaxLevels       int    `toml:"max_levels"`
	OKXEndpoint     string `toml:"okx_endpoint"`
	BybitEndpoint   string `toml:"bybit_endpoint"`
	DeribitEndpoint string `toml:"deribit_endpoint"`
}

// Endpoints returns the non-empty overrides keyed by exchange.
func (e ExchangesConfig) Endpoints() map[domain.ExchangeID]string {
	out := make(map[domain.ExchangeID]string, 3)
	for id, url := range map[domain.ExchangeID]string{
		domain.ExchangeOKX:     e.OKXEndpoint,
		domain.ExchangeBybit:   e.BybitEndpoint,
		domain.ExchangeDeribit: e.DeribitEndpoint,
	} {
		if url != "" {
			out[id] = url
		}
	}
	return out
}

// BookConfig holds aggregation parameters.
type BookConfig struct {
	Depth int `toml:"depth"`
	// CacheTTL bounds how long an unrefreshed book stays in Redis. Zero keeps
	// it until replaced.
	CacheTTL duration `toml:"cache_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	ConnectTimeout duration `toml:"connect_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every endpoint but health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// PublicReads lets GET requests (books, status, /ws) through without the
	// key so only feed switching and simulation need it.
	PublicReads bool `toml:"public_reads"`
	// SimulateLimit requests per SimulateWindow per client IP; 0 disables.
	SimulateLimit  int      `toml:"simulate_limit"`
	SimulateWindow duration `toml:"simulate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			MaxReconnectAttempts: 5,
			BaseDelay:            duration{time.Second},
			MaxDelay:             duration{30 * time.Second},
			HandshakeTimeout:     duration{15 * time.Second},
			Exchange:             "okx",
			Symbol:               "BTC-USDT",
		},
		Exchanges: ExchangesConfig{
			MaxLevels: 50,
		},
		Book: BookConfig{
			Depth:    15,
			CacheTTL: duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DB:             0,
			PoolSize:       10,
			MaxRetries:     3,
			ConnectTimeout: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			SimulateLimit:  30,
			SimulateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"feed_exhausted", "feed_recovered"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"stream": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"feed_exhausted": true,
	"feed_recovered": true,
	"feed_switched":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: stream, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.MaxReconnectAttempts < 0 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 0")
	}
	if c.Feed.BaseDelay.Duration <= 0 {
		errs = append(errs, "feed: base_delay must be > 0")
	}
	if c.Feed.MaxDelay.Duration < c.Feed.BaseDelay.Duration {
		errs = append(errs, "feed: max_delay must not be below base_delay")
	}
	if c.Feed.HandshakeTimeout.Duration <= 0 {
		errs = append(errs, "feed: handshake_timeout must be > 0")
	}
	if (c.Feed.Exchange == "") != (c.Feed.Symbol == "") {
		errs = append(errs, "feed: exchange and symbol must be set together")
	}
	if c.Feed.Exchange != "" {
		if _, err := domain.ParseExchangeID(c.Feed.Exchange); err != nil {
			errs = append(errs, fmt.Sprintf("feed: %v", err))
		}
	}

	// Exchanges
	if c.Exchanges.MaxLevels < 1 {
		errs = append(errs, "exchanges: max_levels must be >= 1")
	}
	for name, url := range map[string]string{
		"okx_endpoint":     c.Exchanges.OKXEndpoint,
		"bybit_endpoint":   c.Exchanges.BybitEndpoint,
		"deribit_endpoint": c.Exchanges.DeribitEndpoint,
	} {
		if url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			errs = append(errs, fmt.Sprintf("exchanges: %s must be a ws:// or wss:// URL, got %q", name, url))
		}
	}

	// Book
	if c.Book.Depth < 1 {
		errs = append(errs, "book: depth must be >= 1")
	}
	if c.Book.CacheTTL.Duration < 0 {
		errs = append(errs, "book: cache_ttl must be >= 0")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server
	if c.Mode != "stream" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SimulateLimit > 0 && c.Server.SimulateWindow.Duration <= 0 {
			errs = append(errs, "server: simulate_window must be > 0 when simulate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
