package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/feed"
	"github.com/alanyoungcy/depthsim/internal/notify"
)

// callbackTimeout bounds cache and bus calls made from feed callbacks.
const callbackTimeout = 5 * time.Second

// FeedManager is the connection manager the service drives. *feed.Manager
// implements it.
type FeedManager interface {
	Connect(target domain.SubscriptionTarget, onUpdate feed.UpdateFunc, onError feed.ErrorFunc) error
	Disconnect()
	Target() (domain.SubscriptionTarget, bool)
	Status() domain.FeedStatus
	SetHooks(h feed.Hooks)
}

// SymbolCatalog validates symbols. *exchange.Registry implements it.
type SymbolCatalog interface {
	HasSymbol(id domain.ExchangeID, symbol string) bool
}

// BookSink receives normalized books.
type BookSink interface {
	HandleUpdate(ctx context.Context, target domain.SubscriptionTarget, raw domain.OrderBook) error
	Forget(ctx context.Context, target domain.SubscriptionTarget)
}

// Alerter sends operator notifications. *notify.Notifier implements it.
type Alerter interface {
	Notify(ctx context.Context, a notify.Alert) error
}

type feedEvent struct {
	Event  string            `json:"event"`
	Status domain.FeedStatus `json:"status"`
}

// FeedService owns the single active subscription: it switches targets,
// routes books into the BookService and reports feed health on the bus and
// to operators.
type FeedService struct {
	mgr         FeedManager
	catalog     SymbolCatalog
	books       BookSink
	bus         domain.SignalBus
	alerts      Alerter
	maxAttempts int
	logger      *slog.Logger

	// switchMu serializes Switch and Stop so each observes the target the
	// previous one installed.
	switchMu sync.Mutex

	mu      sync.Mutex
	dropped bool
	alertWG sync.WaitGroup
}

// NewFeedService creates a FeedService and installs its lifecycle hooks on
// mgr. alerts may be nil.
func NewFeedService(
	mgr FeedManager,
	catalog SymbolCatalog,
	books BookSink,
	bus domain.SignalBus,
	alerts Alerter,
	maxAttempts int,
	logger *slog.Logger,
) *FeedService {
	s := &FeedService{
		mgr:         mgr,
		catalog:     catalog,
		books:       books,
		bus:         bus,
		alerts:      alerts,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "feed_service")),
	}
	mgr.SetHooks(feed.Hooks{
		OnStateChange: s.onStateChange,
		OnExhausted:   s.onExhausted,
	})
	return s
}

// Switch makes target the active feed. The previous target's book is
// forgotten and no update of it is delivered after Switch returns.
// Switching to the current target restarts its connection.
func (s *FeedService) Switch(ctx context.Context, target domain.SubscriptionTarget) (domain.FeedStatus, error) {
	if !s.catalog.HasSymbol(target.Exchange, target.Symbol) {
		return domain.FeedStatus{}, fmt.Errorf("feed_service: %w: %s", domain.ErrUnknownSymbol, target)
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	prev, hadPrev := s.mgr.Target()
	if err := s.mgr.Connect(target, s.onUpdate(target), s.onError(target)); err != nil {
		return domain.FeedStatus{}, fmt.Errorf("feed_service: switch: %w", err)
	}

	s.mu.Lock()
	s.dropped = false
	s.mu.Unlock()

	if hadPrev && prev != target {
		s.books.Forget(ctx, prev)
		s.alert(notify.FeedSwitched(prev, target))
	}

	s.logger.InfoContext(ctx, "feed switched",
		slog.String("target", target.String()),
		slog.Bool("had_previous", hadPrev),
	)

	status := s.mgr.Status()
	s.publish(ctx, status)
	return status, nil
}

// Stop disconnects the active feed.
func (s *FeedService) Stop(ctx context.Context) domain.FeedStatus {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	prev, hadPrev := s.mgr.Target()
	s.mgr.Disconnect()
	if hadPrev {
		s.books.Forget(ctx, prev)
	}
	status := s.mgr.Status()
	s.publish(ctx, status)
	return status
}

// Status returns the current feed status.
func (s *FeedService) Status() domain.FeedStatus {
	return s.mgr.Status()
}

// Close disconnects and waits for pending alerts.
func (s *FeedService) Close() error {
	s.mgr.Disconnect()
	s.alertWG.Wait()
	return nil
}

func (s *FeedService) onUpdate(target domain.SubscriptionTarget) feed.UpdateFunc {
	return func(b domain.OrderBook) {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()

		if err := s.books.HandleUpdate(ctx, target, b); err != nil {
			if errors.Is(err, domain.ErrStaleUpdate) {
				s.logger.Debug("stale update dropped", slog.String("error", err.Error()))
				return
			}
			s.logger.Warn("handle book update failed",
				slog.String("target", target.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *FeedService) onError(target domain.SubscriptionTarget) feed.ErrorFunc {
	return func(err error) {
		s.logger.Warn("feed transport error",
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FeedService) onStateChange(target domain.SubscriptionTarget, state domain.ConnectionState) {
	var recovered bool
	s.mu.Lock()
	switch state.Phase {
	case domain.PhaseReconnecting:
		s.dropped = true
	case domain.PhaseSubscribed:
		recovered = s.dropped
		s.dropped = false
	}
	s.mu.Unlock()

	if recovered {
		s.alert(notify.FeedRecovered(target))
	}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	s.publish(ctx, s.mgr.Status())
}

func (s *FeedService) onExhausted(target domain.SubscriptionTarget) {
	status := s.mgr.Status()
	s.logger.Error("feed exhausted",
		slog.String("target", target.String()),
		slog.String("last_error", status.Error),
	)
	s.alert(notify.FeedExhausted(target, s.maxAttempts, status.Error))
}

// alert sends a asynchronously so feed callbacks never wait on chat APIs.
func (s *FeedService) alert(a notify.Alert) {
	if s.alerts == nil {
		return
	}
	s.alertWG.Add(1)
	go func() {
		defer s.alertWG.Done()
		if err := s.alerts.Notify(context.Background(), a); err != nil {
			s.logger.Warn("alert failed",
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *FeedService) publish(ctx context.Context, status domain.FeedStatus) {
	evt, err := json.Marshal(feedEvent{Event: "feed_status", Status: status})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelFeed, evt); err != nil {
		s.logger.WarnContext(ctx, "publish feed status failed", slog.String("error", err.Error()))
	}
}
