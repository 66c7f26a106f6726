// Package book turns normalized order books into display-ready ones: sorted,
// truncated to a viewport depth, with cumulative quantities and depth bars on
// a shared bid/ask scale.
package book

import (
	"cmp"
	"slices"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// DefaultDepth is the number of levels kept per side.
const DefaultDepth = 15

// Aggregator is a pure book transform. The zero value uses DefaultDepth.
type Aggregator struct {
	Depth int
}

// Aggregate applies the default Aggregator.
func Aggregate(b domain.OrderBook) domain.OrderBook {
	return Aggregator{}.Aggregate(b)
}

// Aggregate sorts bids descending and asks ascending, merges duplicate
// prices, keeps the top Depth levels per side and fills in
// CumulativeQuantity and DepthPercentage. DepthPercentage is the cumulative
// quantity over the larger of the two side totals, so both sides share one
// scale. A book with both sides empty is returned unchanged.
//
// The input is never modified. Aggregate is idempotent on its own output.
func (a Aggregator) Aggregate(b domain.OrderBook) domain.OrderBook {
	if b.IsEmpty() {
		return b
	}

	depth := a.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}

	bids := prepareSide(b.Bids, depth, func(x, y domain.PriceLevel) int {
		return cmp.Compare(y.Price, x.Price)
	})
	asks := prepareSide(b.Asks, depth, func(x, y domain.PriceLevel) int {
		return cmp.Compare(x.Price, y.Price)
	})

	bidTotal := accumulate(bids)
	askTotal := accumulate(asks)

	denom := max(bidTotal, askTotal)
	setDepth(bids, denom)
	setDepth(asks, denom)

	return domain.OrderBook{
		Bids:             bids,
		Asks:             asks,
		ObservedAtMillis: b.ObservedAtMillis,
	}
}

// prepareSide copies, sorts, merges equal prices and truncates one side.
func prepareSide(levels []domain.PriceLevel, depth int, order func(x, y domain.PriceLevel) int) []domain.PriceLevel {
	sorted := make([]domain.PriceLevel, len(levels))
	copy(sorted, levels)
	slices.SortStableFunc(sorted, order)

	out := make([]domain.PriceLevel, 0, min(len(sorted), depth))
	for _, lvl := range sorted {
		if n := len(out); n > 0 && out[n-1].Price == lvl.Price {
			out[n-1].Quantity += lvl.Quantity
			continue
		}
		if len(out) == depth {
			break
		}
		out = append(out, domain.PriceLevel{Price: lvl.Price, Quantity: lvl.Quantity})
	}
	return out
}

// accumulate writes running totals and returns the side total.
func accumulate(levels []domain.PriceLevel) float64 {
	var cum float64
	for i := range levels {
		cum += levels[i].Quantity
		levels[i].CumulativeQuantity = cum
	}
	return cum
}

func setDepth(levels []domain.PriceLevel, denom float64) {
	for i := range levels {
		if denom <= 0 {
			levels[i].DepthPercentage = 0
			continue
		}
		pct := levels[i].CumulativeQuantity / denom * 100
		levels[i].DepthPercentage = min(max(pct, 0), 100)
	}
}
