package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// TargetResolver validates an exchange name and symbol against the catalog.
// *exchange.Registry implements it.
type TargetResolver interface {
	Resolve(exchangeName, symbol string) (domain.SubscriptionTarget, error)
}

// FeedController drives the single active feed. *service.FeedService
// implements it.
type FeedController interface {
	Switch(ctx context.Context, target domain.SubscriptionTarget) (domain.FeedStatus, error)
	Stop(ctx context.Context) domain.FeedStatus
	Status() domain.FeedStatus
}

// FeedHandler serves the active feed endpoints. With a nil controller the
// process does not stream and every endpoint answers 503.
type FeedHandler struct {
	feed     FeedController
	resolver TargetResolver
	logger   *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(feed FeedController, resolver TargetResolver, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, resolver: resolver, logger: logger}
}

type targetRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

func (h *FeedHandler) available(w http.ResponseWriter) bool {
	if h.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "feed is not running in this mode")
		return false
	}
	return true
}

// GetFeed returns the active feed status.
// GET /api/feed
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.feed.Status())
}

// SwitchFeed makes the requested exchange and symbol the active feed. It
// also restarts an exhausted feed.
// PUT /api/feed
func (h *FeedHandler) SwitchFeed(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Exchange == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and symbol are required")
		return
	}

	target, err := h.resolver.Resolve(req.Exchange, req.Symbol)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to resolve target")
		return
	}

	status, err := h.feed.Switch(r.Context(), target)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to switch feed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StopFeed disconnects the active feed.
// DELETE /api/feed
func (h *FeedHandler) StopFeed(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.feed.Stop(r.Context()))
}
