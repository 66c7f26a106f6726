// Package feed keeps one live, self-healing exchange connection per active
// subscription target and delivers normalized books to the caller.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// Adapters is the exchange knowledge the manager needs. *exchange.Registry
// implements it.
type Adapters interface {
	Endpoint(id domain.ExchangeID) (string, error)
	BuildSubscription(id domain.ExchangeID, symbol string) ([]byte, error)
	Normalize(id domain.ExchangeID, raw []byte) (domain.OrderBook, bool)
}

// UpdateFunc receives each accepted book, in arrival order.
type UpdateFunc func(book domain.OrderBook)

// ErrorFunc receives transport errors. A close always follows and drives
// reconnection.
type ErrorFunc func(err error)

// Hooks are optional lifecycle observers. They run on the manager's
// goroutines under the same rules as the update callback.
type Hooks struct {
	// OnStateChange fires when the manager subscribes, schedules a reconnect
	// or gives up.
	OnStateChange func(target domain.SubscriptionTarget, state domain.ConnectionState)
	// OnExhausted fires once when the reconnect budget for a target is spent.
	OnExhausted func(target domain.SubscriptionTarget)
}

// Config tunes reconnection.
type Config struct {
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the stock reconnect policy: five attempts at
// 2s, 4s, 8s, 16s and 30s.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		DialTimeout:          15 * time.Second,
	}
}

// Manager owns the connection for one target at a time.
//
// Every lifecycle goroutine carries the generation it was started for;
// Connect and Disconnect bump the generation, so work from a superseded
// target is dropped before it reaches a callback. Callbacks run with the
// delivery lock held and Connect/Disconnect wait for it, so once either
// returns no callback of the previous target is running or will run.
// Callbacks must therefore not call Connect or Disconnect synchronously.
type Manager struct {
	adapters Adapters
	dialer   Dialer
	clock    Clock
	cfg      Config
	logger   *slog.Logger

	deliverMu sync.Mutex

	mu         sync.Mutex
	gen        uint64
	state      domain.ConnectionState
	target     domain.SubscriptionTarget
	hasTarget  bool
	exhausted  bool
	lastErr    error
	url        string
	subscribe  []byte
	onUpdate   UpdateFunc
	onError    ErrorFunc
	hooks      Hooks
	conn       Conn
	timer      Timer
	dialCancel context.CancelFunc
	attempt    int
	backoff    *backoff.ExponentialBackOff
}

// NewManager creates an idle Manager.
func NewManager(adapters Adapters, dialer Dialer, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	return &Manager{
		adapters: adapters,
		dialer:   dialer,
		clock:    realClock{},
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "feed_manager")),
		state:    domain.ConnectionState{Phase: domain.PhaseIdle},
		backoff:  newBackoff(cfg),
	}
}

// newBackoff yields min(base*2^n, max) for n = 1, 2, ... with no jitter.
func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay * 2,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.MaxDelay,
	}
	if b.InitialInterval > b.MaxInterval {
		b.InitialInterval = b.MaxInterval
	}
	b.Reset()
	return b
}

// WithClock replaces the timer source. Call before Connect.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// SetHooks installs lifecycle observers. Call before Connect.
func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Connect supersedes any current target and starts connecting to target.
// It returns immediately; books arrive on onUpdate. An error is returned
// only when the target cannot be addressed, in which case the current
// connection is left untouched.
func (m *Manager) Connect(target domain.SubscriptionTarget, onUpdate UpdateFunc, onError ErrorFunc) error {
	url, err := m.adapters.Endpoint(target.Exchange)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", target, err)
	}
	sub, err := m.adapters.BuildSubscription(target.Exchange, target.Symbol)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", target, err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.teardownLocked()
	m.target = target
	m.hasTarget = true
	m.url = url
	m.subscribe = sub
	m.onUpdate = onUpdate
	m.onError = onError
	m.state = domain.ConnectionState{Phase: domain.PhaseConnecting}
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.waitDeliveries()

	m.logger.Info("feed connecting",
		slog.String("target", target.String()),
		slog.String("url", url),
	)
	go m.dial(gen)
	return nil
}

// Disconnect tears down the connection, cancels any pending dial or
// reconnect and forgets the target. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	old := m.teardownLocked()
	wasActive := m.hasTarget
	target := m.target
	m.hasTarget = false
	m.onUpdate = nil
	m.onError = nil
	m.state = domain.ConnectionState{Phase: domain.PhaseClosed}
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.waitDeliveries()

	if wasActive {
		m.logger.Info("feed disconnected", slog.String("target", target.String()))
	}
}

// IsConnected reports whether a connection is open and subscribed.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.state.Phase == domain.PhaseSubscribed
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns the active target. ok is false after Disconnect or before
// the first Connect.
func (m *Manager) Target() (domain.SubscriptionTarget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target, m.hasTarget
}

// Status returns a snapshot suitable for publishing.
func (m *Manager) Status() domain.FeedStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.FeedStatus{
		State:     m.state,
		Connected: m.conn != nil && m.state.Phase == domain.PhaseSubscribed,
		Exhausted: m.exhausted,
	}
	if m.hasTarget {
		st.Target = m.target
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// teardownLocked releases the timer, pending dial and open connection. The
// connection is returned so the caller can close it without holding mu.
func (m *Manager) teardownLocked() Conn {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	old := m.conn
	m.conn = nil
	m.attempt = 0
	m.exhausted = false
	m.lastErr = nil
	m.backoff.Reset()
	return old
}

// waitDeliveries blocks until any in-flight callback has returned.
func (m *Manager) waitDeliveries() {
	m.deliverMu.Lock()
	m.deliverMu.Unlock() //nolint:staticcheck
}

// deliver runs fn under the delivery lock if gen is still current.
func (m *Manager) deliver(gen uint64, fn func()) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if !current {
		return false
	}
	fn()
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.dialCancel = cancel
	url, sub, target := m.url, m.subscribe, m.target
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, url)
	cancel()
	if err != nil {
		m.fail(gen, fmt.Errorf("feed: dial %s: %w", target, err))
		return
	}

	if err := conn.WriteMessage(sub); err != nil {
		_ = conn.Close()
		m.fail(gen, fmt.Errorf("feed: subscribe %s: %w", target, err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.dialCancel = nil
	m.conn = conn
	m.attempt = 0
	m.backoff.Reset()
	m.lastErr = nil
	m.state = domain.ConnectionState{Phase: domain.PhaseSubscribed}
	state := m.state
	m.mu.Unlock()

	m.logger.Info("feed subscribed", slog.String("target", target.String()))
	m.notifyState(gen, target, state)

	m.readLoop(gen, conn, target)
}

func (m *Manager) readLoop(gen uint64, conn Conn, target domain.SubscriptionTarget) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if !m.current(gen) {
				return
			}
			m.fail(gen, fmt.Errorf("feed: read %s: %w: %w", target, domain.ErrWSDisconnect, err))
			return
		}

		book, ok := m.adapters.Normalize(target.Exchange, raw)
		if !ok {
			continue
		}
		m.deliver(gen, func() {
			m.mu.Lock()
			cb := m.onUpdate
			m.mu.Unlock()
			if cb != nil {
				cb(book)
			}
		})
	}
}

// fail reports err and treats the connection as closed.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if gen == m.gen {
		m.lastErr = err
	}
	m.mu.Unlock()

	m.deliver(gen, func() {
		m.mu.Lock()
		cb := m.onError
		m.mu.Unlock()
		if cb != nil {
			cb(err)
		}
	})
	m.handleClose(gen)
}

// handleClose schedules the next reconnect or gives up when the attempt
// budget is spent.
func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	old := m.conn
	m.conn = nil
	m.dialCancel = nil
	target := m.target

	if m.attempt >= m.cfg.MaxReconnectAttempts {
		m.state = domain.ConnectionState{Phase: domain.PhaseClosed}
		m.exhausted = true
		state := m.state
		hook := m.hooks.OnExhausted
		m.mu.Unlock()

		if old != nil {
			_ = old.Close()
		}
		m.logger.Warn("feed reconnect attempts exhausted",
			slog.String("target", target.String()),
			slog.Int("attempts", m.cfg.MaxReconnectAttempts),
		)
		m.notifyState(gen, target, state)
		if hook != nil {
			m.deliver(gen, func() { hook(target) })
		}
		return
	}

	m.attempt++
	attempt := m.attempt
	delay := m.backoff.NextBackOff()
	m.state = domain.ConnectionState{Phase: domain.PhaseReconnecting, Attempt: attempt}
	state := m.state
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.logger.Info("feed reconnect scheduled",
		slog.String("target", target.String()),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
	m.notifyState(gen, target, state)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = domain.ConnectionState{Phase: domain.PhaseConnecting}
	m.mu.Unlock()

	m.dial(gen)
}

func (m *Manager) notifyState(gen uint64, target domain.SubscriptionTarget, state domain.ConnectionState) {
	m.mu.Lock()
	hook := m.hooks.OnStateChange
	m.mu.Unlock()
	if hook == nil {
		return
	}
	m.deliver(gen, func() { hook(target, state) })
}
