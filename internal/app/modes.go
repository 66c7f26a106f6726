package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthsim/internal/server"
	"github.com/alanyoungcy/depthsim/internal/server/handler"
	"github.com/alanyoungcy/depthsim/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// StreamMode holds the exchange feed and publishes aggregated books to Redis
// without serving HTTP. It blocks until ctx is cancelled.
func (a *App) StreamMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting stream mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startFeed(ctx, deps); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		status := deps.Feed.Stop(context.Background())
		a.logger.Info("feed stopped", slog.String("state", status.State.String()))
		return ctx.Err()
	})

	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket hub from what a stream
// process publishes to Redis. Feed control endpoints answer 503.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode streams and serves in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startFeed(ctx, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startFeed subscribes to the configured initial target. An empty target
// leaves the feed idle until one is set over the API.
func (a *App) startFeed(ctx context.Context, deps *Dependencies) error {
	if deps.Feed == nil {
		return fmt.Errorf("app: mode %q has no feed", a.cfg.Mode)
	}
	if a.cfg.Feed.Exchange == "" {
		a.logger.InfoContext(ctx, "no initial feed target; waiting for PUT /api/feed")
		return nil
	}

	target, err := deps.Exchanges.Resolve(a.cfg.Feed.Exchange, a.cfg.Feed.Symbol)
	if err != nil {
		return fmt.Errorf("app: initial feed target: %w", err)
	}
	status, err := deps.Feed.Switch(ctx, target)
	if err != nil {
		return fmt.Errorf("app: start feed %s: %w", target, err)
	}
	a.logger.InfoContext(ctx, "feed started",
		slog.String("target", target.String()),
		slog.String("state", status.State.String()),
	)
	return nil
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	// Interfaces stay nil without a feed so handlers can detect its absence.
	var (
		feedStatus handler.FeedStatusSource
		feedCtrl   handler.FeedController
		hubFeed    ws.FeedStatusSource
	)
	if deps.Feed != nil {
		feedStatus = deps.Feed
		feedCtrl = deps.Feed
		hubFeed = deps.Feed
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Feed:           hubFeed,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Redis, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.startedAt, feedStatus),
		Exchanges: handler.NewExchangeHandler(deps.Exchanges, a.logger),
		Feed:      handler.NewFeedHandler(feedCtrl, deps.Exchanges, a.logger),
		Book:      handler.NewBookHandler(deps.Books, deps.Exchanges, feedStatus, a.logger),
		Simulate:  handler.NewSimulateHandler(deps.Simulations, deps.Exchanges, feedStatus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		PublicReads:    a.cfg.Server.PublicReads,
		SimulateLimit:  a.cfg.Server.SimulateLimit,
		SimulateWindow: a.cfg.Server.SimulateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
