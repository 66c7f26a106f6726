package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	redis  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. redis may be nil.
func NewHealthHandler(redis Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{redis: redis, logger: logger}
}

// HealthCheck responds with "ok", or "degraded" with 503 when Redis does not
// answer.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "handler: health redis ping failed", slog.String("error", err.Error()))
			resp["status"] = "degraded"
			resp["redis"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			resp["redis"] = "ok"
		}
	}

	writeJSON(w, code, resp)
}
