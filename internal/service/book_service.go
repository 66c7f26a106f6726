package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/depthsim/internal/book"
	"github.com/alanyoungcy/depthsim/internal/domain"
)

// BookSnapshot is the latest aggregated book of a target with its summary.
type BookSnapshot struct {
	Target  domain.SubscriptionTarget `json:"target"`
	Book    domain.OrderBook          `json:"book"`
	Summary domain.BookSummary        `json:"summary"`
}

// bookEvent is the JSON shape published on the per-target book channel.
type bookEvent struct {
	Event string `json:"event"`
	BookSnapshot
}

// BookService accepts normalized books for the active feed: it drops
// out-of-order updates, aggregates, caches and publishes them.
type BookService struct {
	cache  domain.OrderbookCache
	bus    domain.SignalBus
	agg    book.Aggregator
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[domain.SubscriptionTarget]BookSnapshot
}

// NewBookService creates a BookService that keeps depth levels per side.
func NewBookService(cache domain.OrderbookCache, bus domain.SignalBus, depth int, logger *slog.Logger) *BookService {
	return &BookService{
		cache:  cache,
		bus:    bus,
		agg:    book.Aggregator{Depth: depth},
		logger: logger.With(slog.String("component", "book_service")),
		latest: make(map[domain.SubscriptionTarget]BookSnapshot),
	}
}

// HandleUpdate accepts raw for target. An update whose timestamp is equal to
// or older than the last accepted one returns domain.ErrStaleUpdate.
func (s *BookService) HandleUpdate(ctx context.Context, target domain.SubscriptionTarget, raw domain.OrderBook) error {
	s.mu.Lock()
	if prev, ok := s.latest[target]; ok && raw.ObservedAtMillis <= prev.Book.ObservedAtMillis {
		s.mu.Unlock()
		return fmt.Errorf("book_service: %s at %d, last accepted %d: %w",
			target, raw.ObservedAtMillis, prev.Book.ObservedAtMillis, domain.ErrStaleUpdate)
	}
	aggregated := s.agg.Aggregate(raw)
	snap := BookSnapshot{
		Target:  target,
		Book:    aggregated,
		Summary: book.Summarize(aggregated),
	}
	s.latest[target] = snap
	s.mu.Unlock()

	if aggregated.Crossed() {
		s.logger.DebugContext(ctx, "crossed book",
			slog.String("target", target.String()),
			slog.Float64("best_bid", snap.Summary.BestBid),
			slog.Float64("best_ask", snap.Summary.BestAsk),
		)
	}

	if err := s.cache.SetBook(ctx, target, aggregated); err != nil {
		return fmt.Errorf("book_service: cache %s: %w", target, err)
	}

	evt, err := json.Marshal(bookEvent{Event: "book_update", BookSnapshot: snap})
	if err != nil {
		return fmt.Errorf("book_service: marshal event: %w", err)
	}
	if pubErr := s.bus.Publish(ctx, domain.BookChannel(target), evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish book update failed",
			slog.String("target", target.String()),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// Latest returns the last accepted book for target, falling back to the
// shared cache when this process has not seen one. It returns
// domain.ErrNotFound when neither has it.
func (s *BookService) Latest(ctx context.Context, target domain.SubscriptionTarget) (BookSnapshot, error) {
	s.mu.RLock()
	snap, ok := s.latest[target]
	s.mu.RUnlock()
	if ok {
		return snap, nil
	}

	cached, err := s.cache.GetBook(ctx, target)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return BookSnapshot{}, fmt.Errorf("book_service: %s: %w", target, domain.ErrNotFound)
		}
		return BookSnapshot{}, fmt.Errorf("book_service: latest %s: %w", target, err)
	}
	aggregated := s.agg.Aggregate(cached)
	return BookSnapshot{
		Target:  target,
		Book:    aggregated,
		Summary: book.Summarize(aggregated),
	}, nil
}

// Forget drops the in-memory and cached book of a target that is no longer
// streamed, so stale depth is not served after a switch.
func (s *BookService) Forget(ctx context.Context, target domain.SubscriptionTarget) {
	s.mu.Lock()
	delete(s.latest, target)
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, target); err != nil {
		s.logger.WarnContext(ctx, "delete cached book failed",
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
	}
}
