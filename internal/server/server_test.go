package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/exchange"
	"github.com/alanyoungcy/depthsim/internal/server/handler"
	"github.com/alanyoungcy/depthsim/internal/service"
)

var okxBTC = domain.SubscriptionTarget{Exchange: domain.ExchangeOKX, Symbol: "BTC-USDT"}

type fakeFeed struct {
	mu       sync.Mutex
	status   domain.FeedStatus
	switched []domain.SubscriptionTarget
	stopped  int
}

func (f *fakeFeed) Switch(_ context.Context, target domain.SubscriptionTarget) (domain.FeedStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, target)
	f.status = domain.FeedStatus{Target: target, State: domain.ConnectionState{Phase: domain.PhaseConnecting}}
	return f.status, nil
}

func (f *fakeFeed) Stop(context.Context) domain.FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.status = domain.FeedStatus{State: domain.ConnectionState{Phase: domain.PhaseClosed}}
	return f.status
}

func (f *fakeFeed) Status() domain.FeedStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeBooks map[domain.SubscriptionTarget]service.BookSnapshot

func (b fakeBooks) Latest(_ context.Context, target domain.SubscriptionTarget) (service.BookSnapshot, error) {
	snap, ok := b[target]
	if !ok {
		return service.BookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeSim struct {
	mu    sync.Mutex
	specs []domain.OrderSpec
	err   error
}

func (s *fakeSim) Simulate(_ context.Context, spec domain.OrderSpec) (domain.SimulationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.SimulationResult{}, s.err
	}
	if err := spec.Validate(); err != nil {
		return domain.SimulationResult{}, err
	}
	s.specs = append(s.specs, spec)
	return domain.SimulationResult{ID: "sim-1", Spec: spec, FillPercentage: 100, Active: true}, nil
}

func (s *fakeSim) Latest(context.Context, domain.SubscriptionTarget) (domain.SimulationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.specs) == 0 {
		return domain.SimulationResult{}, domain.ErrNotFound
	}
	return domain.SimulationResult{ID: "sim-1", Spec: s.specs[len(s.specs)-1]}, nil
}

// countingLimiter allows the first n calls per key.
type countingLimiter struct {
	mu    sync.Mutex
	n     int
	calls map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, window time.Duration) (domain.RateDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return domain.RateDecision{}, l.err
	}
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[key]++
	if l.calls[key] > l.n {
		return domain.RateDecision{RetryAfter: window}, nil
	}
	return domain.RateDecision{Allowed: true, Remaining: l.n - l.calls[key]}, nil
}

type fixture struct {
	h       http.Handler
	feed    *fakeFeed
	sim     *fakeSim
	limiter *countingLimiter
}

func newFixture(t *testing.T, apiKey string, withFeed bool, opts ...func(*Config)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := exchange.NewRegistry(exchange.Config{}, logger)

	f := &fixture{
		feed:    &fakeFeed{status: domain.FeedStatus{Target: okxBTC, State: domain.ConnectionState{Phase: domain.PhaseSubscribed}, Connected: true}},
		sim:     &fakeSim{},
		limiter: &countingLimiter{n: 2},
	}
	books := fakeBooks{okxBTC: {
		Target: okxBTC,
		Book: domain.OrderBook{
			Bids: []domain.PriceLevel{{Price: 99, Quantity: 1, CumulativeQuantity: 1, DepthPercentage: 100}},
			Asks: []domain.PriceLevel{{Price: 101, Quantity: 1, CumulativeQuantity: 1, DepthPercentage: 100}},
		},
		Summary: domain.BookSummary{BestBid: 99, BestAsk: 101, MidPrice: 100, Spread: 2},
	}}

	var (
		controller handler.FeedController
		status     handler.FeedStatusSource
	)
	if withFeed {
		controller, status = f.feed, f.feed
	}

	cfg := Config{
		APIKey:         apiKey,
		SimulateLimit:  2,
		SimulateWindow: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.h = Routes(cfg, Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Status:    handler.NewStatusHandler("full", time.Now(), status),
		Exchanges: handler.NewExchangeHandler(reg, logger),
		Feed:      handler.NewFeedHandler(controller, reg, logger),
		Book:      handler.NewBookHandler(books, reg, status, logger),
		Simulate:  handler.NewSimulateHandler(f.sim, reg, status, logger),
	}, nil, f.limiter, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, hdr ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["mode"])
	feed := body["feed"].(map[string]any)
	assert.Equal(t, true, feed["connected"])
	assert.Equal(t, "subscribed", feed["state"].(map[string]any)["phase"])
}

func TestExchanges(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodGet, "/api/exchanges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["exchanges"].([]any)
	require.Len(t, list, 3)
	assert.Equal(t, "okx", list[0].(map[string]any)["exchange"])

	rec, body = f.do(t, http.MethodGet, "/api/exchanges/bybit/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["symbols"], "BTCUSDT")

	rec, _ = f.do(t, http.MethodGet, "/api/exchanges/kraken/symbols", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedEndpoints(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodPut, "/api/feed", `{"exchange":"bybit","symbol":"btc/usdt"}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, []domain.SubscriptionTarget{{Exchange: domain.ExchangeBybit, Symbol: "BTCUSDT"}}, f.feed.switched)
	assert.Equal(t, "connecting", body["state"].(map[string]any)["phase"])

	rec, _ = f.do(t, http.MethodPut, "/api/feed", `{"exchange":"okx","symbol":"NOPE-USDT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/feed", `{"exchange":"okx"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/feed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.feed.stopped)
}

func TestFeedEndpoints_WithoutFeed(t *testing.T) {
	f := newFixture(t, "", false)

	rec, _ := f.do(t, http.MethodGet, "/api/feed", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["feed"])

	// book requests must then name their target
	rec, _ = f.do(t, http.MethodGet, "/api/book", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/api/book?exchange=okx&symbol=BTC-USDT", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetBook(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodGet, "/api/book", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100.0, body["summary"].(map[string]any)["mid_price"])

	rec, _ = f.do(t, http.MethodGet, "/api/book?exchange=okx&symbol=ETH-USDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book?exchange=kraken&symbol=BTC-USDT", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book?exchange=okx", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulate(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodPost, "/api/simulate",
		`{"exchange":"okx","symbol":"BTC-USDT","order_type":"Limit","side":"buy","limit_price":100,"quantity":1.5,"simulated_delay":10}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "sim-1", body["id"])

	require.Len(t, f.sim.specs, 1)
	spec := f.sim.specs[0]
	assert.Equal(t, domain.OrderTypeLimit, spec.Type)
	assert.Equal(t, domain.Delay10s, spec.Delay)
	assert.Equal(t, okxBTC, spec.Target())

	rec, body = f.do(t, http.MethodGet, "/api/simulate/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sim-1", body["id"])
}

func TestSimulate_DefaultsToActiveFeedAndStringDelay(t *testing.T) {
	f := newFixture(t, "", true)

	rec, body := f.do(t, http.MethodPost, "/api/simulate",
		`{"order_type":"market","side":"sell","quantity":2,"simulated_delay":"30s"}`)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, domain.Delay30s, f.sim.specs[0].Delay)
	assert.Equal(t, okxBTC, f.sim.specs[0].Target())
}

func TestSimulate_Errors(t *testing.T) {
	f := newFixture(t, "", true)
	f.limiter.n = 100

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad delay", `{"exchange":"okx","symbol":"BTC-USDT","order_type":"market","side":"buy","quantity":1,"simulated_delay":7}`, http.StatusBadRequest},
		{"limit without price", `{"exchange":"okx","symbol":"BTC-USDT","order_type":"limit","side":"buy","quantity":1}`, http.StatusBadRequest},
		{"zero quantity", `{"exchange":"okx","symbol":"BTC-USDT","order_type":"market","side":"buy","quantity":0}`, http.StatusBadRequest},
		{"unknown symbol", `{"exchange":"okx","symbol":"NOPE","order_type":"market","side":"buy","quantity":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPost, "/api/simulate", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	f.sim.err = domain.ErrNotFound
	rec, _ := f.do(t, http.MethodPost, "/api/simulate", `{"order_type":"market","side":"buy","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.sim.err = errors.New("boom")
	rec, body := f.do(t, http.MethodPost, "/api/simulate", `{"order_type":"market","side":"buy","quantity":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to simulate order", body["error"])
}

func TestSimulate_RateLimited(t *testing.T) {
	f := newFixture(t, "", true)
	body := `{"order_type":"market","side":"buy","quantity":1}`

	for range 2 {
		rec, _ := f.do(t, http.MethodPost, "/api/simulate", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := f.do(t, http.MethodPost, "/api/simulate", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// other clients are counted separately
	rec, _ = f.do(t, http.MethodPost, "/api/simulate", body, "X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)

	// reads are not limited
	rec, _ = f.do(t, http.MethodGet, "/api/book", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// limiter outages fail open
	f.limiter.err = errors.New("redis down")
	rec, _ = f.do(t, http.MethodPost, "/api/simulate", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret", true)

	rec, _ := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/book?api_key=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_PublicReads(t *testing.T) {
	f := newFixture(t, "secret", true, func(c *Config) { c.PublicReads = true })

	rec, _ := f.do(t, http.MethodGet, "/api/book", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/feed", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec, _ = f.do(t, http.MethodDelete, "/api/feed", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := exchange.NewRegistry(exchange.Config{}, logger)
	h := Routes(Config{CORSOrigins: []string{"http://localhost:3000"}, APIKey: "secret"}, Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Status:    handler.NewStatusHandler("server", time.Now(), nil),
		Exchanges: handler.NewExchangeHandler(reg, logger),
		Feed:      handler.NewFeedHandler(nil, reg, logger),
		Book:      handler.NewBookHandler(fakeBooks{}, reg, nil, logger),
		Simulate:  handler.NewSimulateHandler(&fakeSim{}, reg, nil, logger),
	}, nil, nil, logger)

	req := httptest.NewRequest(http.MethodOptions, "/api/simulate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
