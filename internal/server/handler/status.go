package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// FeedStatusSource reports the state of the active feed.
type FeedStatusSource interface {
	Status() domain.FeedStatus
}

// StatusHandler serves the process status: run mode, uptime and, when this
// process streams, the feed state.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	feed      FeedStatusSource
}

// NewStatusHandler creates a StatusHandler. feed is nil in modes that do not
// stream.
func NewStatusHandler(mode string, startedAt time.Time, feed FeedStatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, feed: feed}
}

type statusResponse struct {
	Mode          string             `json:"mode"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Feed          *domain.FeedStatus `json:"feed"`
}

// GetStatus responds with the current mode, uptime and feed status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: max(int64(time.Since(h.startedAt).Seconds()), 0),
	}
	if h.feed != nil {
		st := h.feed.Status()
		resp.Feed = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
