// Package exchange holds the per-exchange wire knowledge: public WebSocket
// endpoints, subscription envelopes, order-book message normalization and the
// fixed symbol catalog. The exchange set is closed; each exchange is one entry
// in a lookup table indexed by domain.ExchangeID.
package exchange

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// DefaultMaxLevels is the default per-side level cap applied by Normalize.
const DefaultMaxLevels = 50

// bookPayload is the exchange-neutral result of decoding one message.
type bookPayload struct {
	bids []rawLevel
	asks []rawLevel
	// tsMillis is zero when the message carries no timestamp.
	tsMillis int64
}

// adapter is the static description of one exchange.
type adapter struct {
	endpoint string
	// depth is the documented per-side depth of the subscribed channel.
	depth     int
	native    func(symbol string) string
	subscribe func(symbol string) ([]byte, error)
	// decode returns ok=false with a nil error for messages that are not
	// order-book payloads, and a non-nil error for malformed ones.
	decode  func(raw []byte) (bookPayload, bool, error)
	symbols []string
}

// adapters is indexed by domain.ExchangeID.
var adapters = [...]adapter{
	domain.ExchangeOKX:     okxAdapter,
	domain.ExchangeBybit:   bybitAdapter,
	domain.ExchangeDeribit: deribitAdapter,
}

// Config tunes a Registry.
type Config struct {
	// Endpoints overrides the default endpoint per exchange.
	Endpoints map[domain.ExchangeID]string
	// MaxLevels caps the levels per side returned by Normalize. Values <= 0
	// fall back to DefaultMaxLevels.
	MaxLevels int
}

// Registry exposes the adapters. It is read-only after construction and safe
// for concurrent use.
type Registry struct {
	endpoints map[domain.ExchangeID]string
	maxLevels int
	now       func() time.Time
	logger    *slog.Logger
}

// NewRegistry creates a Registry from cfg.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	endpoints := make(map[domain.ExchangeID]string, len(adapters))
	for i, a := range adapters {
		endpoints[domain.ExchangeID(i)] = a.endpoint
	}
	for id, ep := range cfg.Endpoints {
		if id.Valid() && ep != "" {
			endpoints[id] = ep
		}
	}

	maxLevels := cfg.MaxLevels
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}

	return &Registry{
		endpoints: endpoints,
		maxLevels: maxLevels,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "exchange_registry")),
	}
}

// WithClock replaces the wall clock used to stamp books that carry no
// timestamp of their own. It returns r for chaining.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func lookup(id domain.ExchangeID) (adapter, error) {
	if !id.Valid() {
		return adapter{}, fmt.Errorf("exchange: %w: %d", domain.ErrUnknownExchange, int(id))
	}
	return adapters[id], nil
}

// Exchanges returns the supported exchanges in declaration order.
func (r *Registry) Exchanges() []domain.ExchangeID {
	return domain.AllExchanges()
}

// Endpoint returns the WebSocket URL for the exchange.
func (r *Registry) Endpoint(id domain.ExchangeID) (string, error) {
	if _, err := lookup(id); err != nil {
		return "", err
	}
	return r.endpoints[id], nil
}

// NativeSymbol rewrites symbol into the exchange's instrument naming, e.g.
// "btc/usdt" becomes "BTC-USDT" on OKX and "BTCUSDT" on Bybit.
func (r *Registry) NativeSymbol(id domain.ExchangeID, symbol string) (string, error) {
	a, err := lookup(id)
	if err != nil {
		return "", err
	}
	return a.native(symbol), nil
}

// BuildSubscription returns the subscription request for symbol, ready to be
// written as a single text frame.
func (r *Registry) BuildSubscription(id domain.ExchangeID, symbol string) ([]byte, error) {
	a, err := lookup(id)
	if err != nil {
		return nil, err
	}
	native := a.native(symbol)
	if native == "" {
		return nil, fmt.Errorf("exchange: %s: empty symbol", id)
	}
	payload, err := a.subscribe(native)
	if err != nil {
		return nil, fmt.Errorf("exchange: %s: build subscription: %w", id, err)
	}
	return payload, nil
}

// Normalize turns a raw inbound message into an OrderBook. ok is false when
// the message is not an order-book payload or cannot be parsed; malformed
// input is logged at debug level and never returned as an error.
//
// Levels are translated literally (zero quantities included) and capped per
// side; no sorting or delta application happens here.
func (r *Registry) Normalize(id domain.ExchangeID, raw []byte) (domain.OrderBook, bool) {
	a, err := lookup(id)
	if err != nil {
		r.logger.Debug("normalize: unknown exchange", slog.Int("exchange", int(id)))
		return domain.OrderBook{}, false
	}

	payload, ok, err := a.decode(raw)
	if err != nil {
		r.logMalformed(id, raw, err)
		return domain.OrderBook{}, false
	}
	if !ok {
		return domain.OrderBook{}, false
	}

	limit := a.depth
	if r.maxLevels < limit {
		limit = r.maxLevels
	}

	bids, err := toLevels(payload.bids, limit)
	if err != nil {
		r.logMalformed(id, raw, fmt.Errorf("bids: %w", err))
		return domain.OrderBook{}, false
	}
	asks, err := toLevels(payload.asks, limit)
	if err != nil {
		r.logMalformed(id, raw, fmt.Errorf("asks: %w", err))
		return domain.OrderBook{}, false
	}

	ts := payload.tsMillis
	if ts <= 0 {
		ts = r.now().UnixMilli()
	}

	return domain.OrderBook{
		Bids:             bids,
		Asks:             asks,
		ObservedAtMillis: ts,
	}, true
}

// AvailableSymbols returns the fixed symbol catalog for the exchange, in
// display order. The returned slice is a copy.
func (r *Registry) AvailableSymbols(id domain.ExchangeID) []string {
	a, err := lookup(id)
	if err != nil {
		return nil
	}
	return append([]string(nil), a.symbols...)
}

// HasSymbol reports whether symbol is in the exchange's catalog.
func (r *Registry) HasSymbol(id domain.ExchangeID, symbol string) bool {
	a, err := lookup(id)
	if err != nil {
		return false
	}
	native := a.native(symbol)
	for _, s := range a.symbols {
		if s == native {
			return true
		}
	}
	return false
}

// Resolve parses exchangeName and returns the catalog target for symbol in
// the exchange's native naming. It fails with domain.ErrUnknownExchange or
// domain.ErrUnknownSymbol.
func (r *Registry) Resolve(exchangeName, symbol string) (domain.SubscriptionTarget, error) {
	id, err := domain.ParseExchangeID(exchangeName)
	if err != nil {
		return domain.SubscriptionTarget{}, fmt.Errorf("exchange: %w", err)
	}
	if !r.HasSymbol(id, symbol) {
		return domain.SubscriptionTarget{}, fmt.Errorf("exchange: %w: %q on %s", domain.ErrUnknownSymbol, symbol, id)
	}
	return domain.SubscriptionTarget{Exchange: id, Symbol: adapters[id].native(symbol)}, nil
}

func (r *Registry) logMalformed(id domain.ExchangeID, raw []byte, err error) {
	r.logger.Debug("normalize: dropping malformed message",
		slog.String("exchange", id.String()),
		slog.String("error", err.Error()),
		slog.Int("payload_len", len(raw)),
	)
}
