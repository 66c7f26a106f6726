package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthsim/internal/domain"
	"github.com/alanyoungcy/depthsim/internal/service"
)

// BookReader returns the latest aggregated book. *service.BookService
// implements it.
type BookReader interface {
	Latest(ctx context.Context, target domain.SubscriptionTarget) (service.BookSnapshot, error)
}

// BookHandler serves aggregated order books.
type BookHandler struct {
	books    BookReader
	resolver TargetResolver
	feed     FeedStatusSource
	logger   *slog.Logger
}

// NewBookHandler creates a BookHandler. feed, when non-nil, supplies the
// default target for requests that name none.
func NewBookHandler(books BookReader, resolver TargetResolver, feed FeedStatusSource, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, resolver: resolver, feed: feed, logger: logger}
}

// GetBook returns the latest aggregated book and its summary.
// GET /api/book?exchange=okx&symbol=BTC-USDT
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	target, ok := queryTarget(w, r, h.resolver, h.feed)
	if !ok {
		return
	}
	snap, err := h.books.Latest(r.Context(), target)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load book")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// queryTarget reads exchange and symbol from the query string. When both are
// absent it falls back to the active feed's target.
func queryTarget(w http.ResponseWriter, r *http.Request, resolver TargetResolver, feed FeedStatusSource) (domain.SubscriptionTarget, bool) {
	q := r.URL.Query()
	exchangeName, symbol := q.Get("exchange"), q.Get("symbol")

	if exchangeName == "" && symbol == "" {
		if feed != nil {
			if st := feed.Status(); st.Target.Symbol != "" {
				return st.Target, true
			}
		}
		writeError(w, http.StatusBadRequest, "exchange and symbol query parameters required")
		return domain.SubscriptionTarget{}, false
	}
	if exchangeName == "" || symbol == "" {
		writeError(w, http.StatusBadRequest, "exchange and symbol must be given together")
		return domain.SubscriptionTarget{}, false
	}

	target, err := resolver.Resolve(exchangeName, symbol)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return domain.SubscriptionTarget{}, false
	}
	return target, true
}
