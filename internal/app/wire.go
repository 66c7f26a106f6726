package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/depthsim/internal/cache/redis"
	"github.com/alanyoungcy/depthsim/internal/config"
	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/exchange"
	"github.com/alanyoungcy/depthsim/internal/feed"
	"github.com/alanyoungcy/depthsim/internal/notify"
	"github.com/alanyoungcy/depthsim/internal/service"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Redis *redis.Client

	// Caches
	BookCache       domain.OrderbookCache
	SimulationCache domain.SimulationCache
	RateLimiter     domain.RateLimiter
	SignalBus       domain.SignalBus

	Exchanges *exchange.Registry

	// Services
	Books       *service.BookService
	Simulations *service.SimulationService
	// Feed is nil when the mode does not stream from an exchange.
	Feed *service.FeedService

	// Notifications
	Notifier *notify.Notifier
}

// needsFeed returns true for modes that hold an exchange connection.
func needsFeed(mode string) bool {
	switch mode {
	case "stream", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:           cfg.Redis.Addr,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		PoolSize:       cfg.Redis.PoolSize,
		MaxRetries:     cfg.Redis.MaxRetries,
		TLSEnabled:     cfg.Redis.TLSEnabled,
		ConnectTimeout: cfg.Redis.ConnectTimeout.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.BookCache = redis.NewOrderbookCache(redisClient, cfg.Book.CacheTTL.Duration)
	deps.SimulationCache = redis.NewSimulationCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	deps.Exchanges = exchange.NewRegistry(exchange.Config{
		Endpoints: cfg.Exchanges.Endpoints(),
		MaxLevels: cfg.Exchanges.MaxLevels,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	deps.Books = service.NewBookService(deps.BookCache, deps.SignalBus, cfg.Book.Depth, logger)
	deps.Simulations = service.NewSimulationService(deps.Books, deps.SimulationCache, deps.SignalBus, logger)

	if needsFeed(cfg.Mode) {
		mgr := feed.NewManager(deps.Exchanges,
			feed.WSDialer{HandshakeTimeout: cfg.Feed.HandshakeTimeout.Duration},
			feed.Config{
				MaxReconnectAttempts: cfg.Feed.MaxReconnectAttempts,
				BaseDelay:            cfg.Feed.BaseDelay.Duration,
				MaxDelay:             cfg.Feed.MaxDelay.Duration,
				DialTimeout:          cfg.Feed.HandshakeTimeout.Duration,
			}, logger)
		deps.Feed = service.NewFeedService(mgr, deps.Exchanges, deps.Books, deps.SignalBus,
			deps.Notifier, cfg.Feed.MaxReconnectAttempts, logger)
		closers = append(closers, func() { _ = deps.Feed.Close() })
	}

	return deps, cleanup, nil
}
