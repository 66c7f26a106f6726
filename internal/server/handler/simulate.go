package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// Simulator runs what-if orders. *service.SimulationService implements it.
type Simulator interface {
	Simulate(ctx context.Context, spec domain.OrderSpec) (domain.SimulationResult, error)
	Latest(ctx context.Context, target domain.SubscriptionTarget) (domain.SimulationResult, error)
}

// SimulateHandler serves order simulation endpoints.
type SimulateHandler struct {
	sim      Simulator
	resolver TargetResolver
	feed     FeedStatusSource
	logger   *slog.Logger
}

// NewSimulateHandler creates a SimulateHandler. feed may be nil.
func NewSimulateHandler(sim Simulator, resolver TargetResolver, feed FeedStatusSource, logger *slog.Logger) *SimulateHandler {
	return &SimulateHandler{sim: sim, resolver: resolver, feed: feed, logger: logger}
}

// simulateRequest accepts simulated_delay as a number of seconds or as a
// string such as "10s" or "immediate".
type simulateRequest struct {
	Exchange       string  `json:"exchange"`
	Symbol         string  `json:"symbol"`
	OrderType      string  `json:"order_type"`
	Side           string  `json:"side"`
	LimitPrice     float64 `json:"limit_price"`
	Quantity       float64 `json:"quantity"`
	SimulatedDelay any     `json:"simulated_delay"`
}

func (req simulateRequest) spec(target domain.SubscriptionTarget) (domain.OrderSpec, error) {
	var delay domain.SimulatedDelay
	switch v := req.SimulatedDelay.(type) {
	case nil:
	case float64:
		d, err := domain.ParseSimulatedDelay(fmt.Sprintf("%g", v))
		if err != nil {
			return domain.OrderSpec{}, err
		}
		delay = d
	case string:
		d, err := domain.ParseSimulatedDelay(v)
		if err != nil {
			return domain.OrderSpec{}, err
		}
		delay = d
	default:
		return domain.OrderSpec{}, fmt.Errorf("%w: simulated_delay must be a number or string", domain.ErrInvalidOrder)
	}

	return domain.OrderSpec{
		Exchange:   target.Exchange,
		Symbol:     target.Symbol,
		Type:       domain.OrderType(strings.ToLower(req.OrderType)),
		Side:       domain.OrderSide(strings.ToLower(req.Side)),
		LimitPrice: req.LimitPrice,
		Quantity:   req.Quantity,
		Delay:      delay,
	}, nil
}

// Simulate runs an order against the latest book of its target. exchange and
// symbol default to the active feed.
// POST /api/simulate
func (h *SimulateHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	target, ok := h.target(w, req)
	if !ok {
		return
	}
	spec, err := req.spec(target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sim.Simulate(r.Context(), spec)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to simulate order")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LatestSimulation returns the newest unexpired simulation for a target.
// GET /api/simulate/latest?exchange=okx&symbol=BTC-USDT
func (h *SimulateHandler) LatestSimulation(w http.ResponseWriter, r *http.Request) {
	target, ok := queryTarget(w, r, h.resolver, h.feed)
	if !ok {
		return
	}
	res, err := h.sim.Latest(r.Context(), target)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load simulation")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SimulateHandler) target(w http.ResponseWriter, req simulateRequest) (domain.SubscriptionTarget, bool) {
	if req.Exchange == "" && req.Symbol == "" && h.feed != nil {
		if st := h.feed.Status(); st.Target.Symbol != "" {
			return st.Target, true
		}
	}
	if req.Exchange == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and symbol are required")
		return domain.SubscriptionTarget{}, false
	}
	target, err := h.resolver.Resolve(req.Exchange, req.Symbol)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return domain.SubscriptionTarget{}, false
	}
	return target, true
}
