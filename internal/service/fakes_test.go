package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/feed"
	"github.com/alanyoungcy/depthsim/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBookCache struct {
	mu    sync.Mutex
	books map[domain.SubscriptionTarget]domain.OrderBook
	err   error
}

func newMemBookCache() *memBookCache {
	return &memBookCache{books: make(map[domain.SubscriptionTarget]domain.OrderBook)}
}

func (c *memBookCache) SetBook(_ context.Context, target domain.SubscriptionTarget, b domain.OrderBook) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.books[target] = b.Clone()
	return nil
}

func (c *memBookCache) GetBook(_ context.Context, target domain.SubscriptionTarget) (domain.OrderBook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[target]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (c *memBookCache) Delete(_ context.Context, target domain.SubscriptionTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, target)
	return nil
}

type memSimCache struct {
	mu      sync.Mutex
	results map[domain.SubscriptionTarget]domain.SimulationResult
	ttls    []time.Duration
}

func newMemSimCache() *memSimCache {
	return &memSimCache{results: make(map[domain.SubscriptionTarget]domain.SimulationResult)}
}

func (c *memSimCache) SetResult(_ context.Context, r domain.SimulationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.Spec.Target()] = r
	c.ttls = append(c.ttls, ttl)
	return nil
}

func (c *memSimCache) GetResult(_ context.Context, target domain.SubscriptionTarget) (domain.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[target]
	if !ok {
		return domain.SimulationResult{}, domain.ErrNotFound
	}
	return r, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{channel: channel, payload: append([]byte(nil), payload...)})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	return make(chan domain.BusMessage), nil
}

func (b *memBus) on(channel string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, m := range b.msgs {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// stubManager records Connect calls and lets tests drive callbacks directly.
type stubManager struct {
	mu         sync.Mutex
	hooks      feed.Hooks
	target     domain.SubscriptionTarget
	hasTarget  bool
	onUpdate   feed.UpdateFunc
	onError    feed.ErrorFunc
	connects   int
	status     domain.FeedStatus
	connectErr error
}

func (m *stubManager) Connect(target domain.SubscriptionTarget, onUpdate feed.UpdateFunc, onError feed.ErrorFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connects++
	m.target, m.hasTarget = target, true
	m.onUpdate, m.onError = onUpdate, onError
	m.status = domain.FeedStatus{Target: target, State: domain.ConnectionState{Phase: domain.PhaseConnecting}}
	return nil
}

func (m *stubManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasTarget = false
	m.onUpdate, m.onError = nil, nil
	m.status = domain.FeedStatus{State: domain.ConnectionState{Phase: domain.PhaseClosed}}
}

func (m *stubManager) Target() (domain.SubscriptionTarget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target, m.hasTarget
}

func (m *stubManager) Status() domain.FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *stubManager) SetHooks(h feed.Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

func (m *stubManager) update() feed.UpdateFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onUpdate
}

// gatedManager blocks Connect for one target until release is closed.
type gatedManager struct {
	*stubManager
	gated   domain.SubscriptionTarget
	entered chan struct{}
	release chan struct{}
}

func newGatedManager(gated domain.SubscriptionTarget) *gatedManager {
	return &gatedManager{
		stubManager: &stubManager{},
		gated:       gated,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (m *gatedManager) Connect(target domain.SubscriptionTarget, onUpdate feed.UpdateFunc, onError feed.ErrorFunc) error {
	if target == m.gated {
		close(m.entered)
		<-m.release
	}
	return m.stubManager.Connect(target, onUpdate, onError)
}

func (m *gatedManager) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (a *recordingAlerter) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Message)
	}
	return out
}

type stubCatalog struct{}

func (stubCatalog) HasSymbol(id domain.ExchangeID, symbol string) bool {
	return id.Valid() && (symbol == "BTC-USDT" || symbol == "ETH-USDT" || symbol == "BTCUSDT")
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *recordingAlerter) Notify(_ context.Context, alert notify.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerter) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Event)
	}
	return out
}
