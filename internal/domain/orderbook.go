package domain

// PriceLevel is a single price+quantity entry in an order book. The
// cumulative and depth fields stay zero until the book has been aggregated.
type PriceLevel struct {
	Price              float64 `json:"price"`
	Quantity           float64 `json:"quantity"`
	CumulativeQuantity float64 `json:"cumulative_quantity,omitempty"`
	DepthPercentage    float64 `json:"depth_percentage,omitempty"`
}

// OrderBook is a normalized snapshot of one exchange/symbol book.
//
// Bids are ordered by descending price and asks by ascending price once the
// book has been aggregated. Each normalized message is a full replacement of
// the previous book; no incremental state is kept.
type OrderBook struct {
	Bids             []PriceLevel `json:"bids"`
	Asks             []PriceLevel `json:"asks"`
	ObservedAtMillis int64        `json:"observed_at_ms"`
}

// IsEmpty reports whether both sides of the book are empty.
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// BestBid returns the first bid level. ok is false when there are no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the first ask level. ok is false when there are no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether the best bid is at or above the best ask. Crossed
// books are a data-quality signal only; nothing rejects them.
func (b OrderBook) Crossed() bool {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// Clone returns a deep copy so callers can reorder levels without touching
// the original slices.
func (b OrderBook) Clone() OrderBook {
	out := OrderBook{ObservedAtMillis: b.ObservedAtMillis}
	if b.Bids != nil {
		out.Bids = append(make([]PriceLevel, 0, len(b.Bids)), b.Bids...)
	}
	if b.Asks != nil {
		out.Asks = append(make([]PriceLevel, 0, len(b.Asks)), b.Asks...)
	}
	return out
}

// BookSummary bundles top-of-book statistics for display consumers.
type BookSummary struct {
	BestBid          float64 `json:"best_bid"`
	BestAsk          float64 `json:"best_ask"`
	MidPrice         float64 `json:"mid_price"`
	Spread           float64 `json:"spread"`
	SpreadPercentage float64 `json:"spread_percentage"`
	BidDepth         float64 `json:"bid_depth"`
	AskDepth         float64 `json:"ask_depth"`
	// Imbalance is (bid - ask) / (bid + ask) over the visible depth, in [-1, 1].
	Imbalance float64 `json:"imbalance"`
}
