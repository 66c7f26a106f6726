package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// ExchangeCatalog lists exchanges and their symbols. *exchange.Registry
// implements it.
type ExchangeCatalog interface {
	Exchanges() []domain.ExchangeID
	Endpoint(id domain.ExchangeID) (string, error)
	AvailableSymbols(id domain.ExchangeID) []string
}

// ExchangeHandler serves the exchange and symbol catalog.
type ExchangeHandler struct {
	catalog ExchangeCatalog
	logger  *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(catalog ExchangeCatalog, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{catalog: catalog, logger: logger}
}

type exchangeInfo struct {
	Exchange domain.ExchangeID `json:"exchange"`
	Endpoint string            `json:"endpoint"`
	Symbols  []string          `json:"symbols"`
}

// ListExchanges returns every supported exchange with its endpoint and
// symbol catalog.
// GET /api/exchanges
func (h *ExchangeHandler) ListExchanges(w http.ResponseWriter, r *http.Request) {
	ids := h.catalog.Exchanges()
	out := make([]exchangeInfo, 0, len(ids))
	for _, id := range ids {
		ep, err := h.catalog.Endpoint(id)
		if err != nil {
			writeServiceError(w, r, h.logger, err, "failed to list exchanges")
			return
		}
		out = append(out, exchangeInfo{
			Exchange: id,
			Endpoint: ep,
			Symbols:  h.catalog.AvailableSymbols(id),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": out})
}

// ListSymbols returns the symbol catalog of one exchange.
// GET /api/exchanges/{exchange}/symbols
func (h *ExchangeHandler) ListSymbols(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseExchangeID(pathParam(r, "exchange"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": id,
		"symbols":  h.catalog.AvailableSymbols(id),
	})
}
