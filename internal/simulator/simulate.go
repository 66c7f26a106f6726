// Package simulator estimates how a hypothetical order would execute against
// a snapshot of the book. It is pure: no I/O, no shared state.
package simulator

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

const (
	// limitQueueImpactCeiling bounds the impact of a resting limit order.
	limitQueueImpactCeiling = 50
	// limitFullFillImpactCeiling bounds the impact of a fully crossing limit order.
	limitFullFillImpactCeiling = 75

	labelImmediate   = "Immediate"
	labelPartialFill = "Partial fill"
	labelUnlikely    = "Unlikely to fill"
)

var hundred = decimal.NewFromInt(100)

// Simulate runs spec against book. It never fails: a book with an empty side
// or a non-positive quantity yields an inactive zero result. The spec is
// assumed to be validated by the caller.
func Simulate(spec domain.OrderSpec, book domain.OrderBook) domain.SimulationResult {
	res := domain.SimulationResult{Spec: spec}
	if len(book.Bids) == 0 || len(book.Asks) == 0 || spec.Quantity <= 0 {
		return res
	}

	bids := sortedSide(book.Bids, true)
	asks := sortedSide(book.Asks, false)

	consumed, resting := asks, bids
	if spec.Side == domain.OrderSideSell {
		consumed, resting = bids, asks
	}

	var out estimate
	switch spec.Type {
	case domain.OrderTypeLimit:
		out = simulateLimit(spec, consumed, resting)
	default:
		out = simulateMarket(spec, consumed)
	}

	res.FillPercentage = clampPct(out.fillPct)
	res.MarketImpactPercentage = clampPct(out.impactPct)
	res.SlippagePercentage = max(out.slippagePct, 0)
	res.EstimatedTimeToFill = out.label
	res.AveragePrice = out.avgPrice
	res.FilledQuantity = out.filledQty
	res.Active = true
	return res
}

type estimate struct {
	fillPct     float64
	impactPct   float64
	slippagePct float64
	avgPrice    float64
	filledQty   float64
	label       string
}

// fill is the outcome of walking levels from best price outward.
type fill struct {
	quantity     decimal.Decimal
	filled       decimal.Decimal
	value        decimal.Decimal
	filledLevels int
}

func walk(levels []domain.PriceLevel, quantity float64) fill {
	f := fill{quantity: decimal.NewFromFloat(quantity)}
	remaining := f.quantity

	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, decimal.NewFromFloat(lvl.Quantity))
		// Removed (zero-quantity) levels fill nothing but still count as
		// book depth and may set the best price.
		if !take.IsPositive() {
			continue
		}
		f.value = f.value.Add(take.Mul(decimal.NewFromFloat(lvl.Price)))
		f.filled = f.filled.Add(take)
		f.filledLevels++
		remaining = remaining.Sub(take)
	}
	return f
}

func (f fill) complete() bool {
	return f.filled.GreaterThanOrEqual(f.quantity)
}

func (f fill) fillPct() float64 {
	return f.filled.Div(f.quantity).Mul(hundred).InexactFloat64()
}

func (f fill) avgPrice() decimal.Decimal {
	if !f.filled.IsPositive() {
		return decimal.Zero
	}
	return f.value.Div(f.filled)
}

// slippage is the directional distance of the average fill price from ref,
// as a percentage of ref. Adverse moves are positive.
func slippage(side domain.OrderSide, avg, ref decimal.Decimal) float64 {
	if !ref.IsPositive() || !avg.IsPositive() {
		return 0
	}
	diff := avg.Sub(ref)
	if side == domain.OrderSideSell {
		diff = ref.Sub(avg)
	}
	return diff.Div(ref).Mul(hundred).InexactFloat64()
}

func simulateMarket(spec domain.OrderSpec, consumed []domain.PriceLevel) estimate {
	f := walk(consumed, spec.Quantity)
	best := decimal.NewFromFloat(consumed[0].Price)
	avg := f.avgPrice()

	return estimate{
		fillPct:     f.fillPct(),
		impactPct:   float64(f.filledLevels) / float64(len(consumed)) * 100,
		slippagePct: slippage(spec.Side, avg, best),
		avgPrice:    avg.InexactFloat64(),
		filledQty:   f.filled.InexactFloat64(),
		label:       labelImmediate,
	}
}

func simulateLimit(spec domain.OrderSpec, consumed, resting []domain.PriceLevel) estimate {
	fillable := make([]domain.PriceLevel, 0, len(consumed))
	for _, lvl := range consumed {
		if crosses(spec.Side, lvl.Price, spec.LimitPrice) {
			fillable = append(fillable, lvl)
		}
	}

	f := walk(fillable, spec.Quantity)
	avg := f.avgPrice()
	fillPct := f.fillPct()

	var impact float64
	if f.complete() {
		impact = float64(len(fillable)) / float64(len(consumed)) * limitFullFillImpactCeiling
	} else {
		pos := queuePosition(spec.Side, resting, spec.LimitPrice)
		impact = (1 - float64(pos)/float64(len(resting))) * limitQueueImpactCeiling
	}

	return estimate{
		fillPct:     fillPct,
		impactPct:   impact,
		slippagePct: slippage(spec.Side, avg, decimal.NewFromFloat(spec.LimitPrice)),
		avgPrice:    avg.InexactFloat64(),
		filledQty:   f.filled.InexactFloat64(),
		label:       timeToFillLabel(spec.Delay, clampPct(fillPct)),
	}
}

// crosses reports whether a consumed-side level at price is marketable for
// a limit order at limit.
func crosses(side domain.OrderSide, price, limit float64) bool {
	if side == domain.OrderSideSell {
		return price >= limit
	}
	return price <= limit
}

// queuePosition returns the number of resting levels the order would sit
// behind: the index of the first level priced worse than limit, or the side
// length when there is none.
func queuePosition(side domain.OrderSide, resting []domain.PriceLevel, limit float64) int {
	for i, lvl := range resting {
		if side == domain.OrderSideSell {
			if lvl.Price > limit {
				return i
			}
			continue
		}
		if lvl.Price < limit {
			return i
		}
	}
	return len(resting)
}

// timeToFillLabel buckets the fill percentage for the simulated delay.
func timeToFillLabel(delay domain.SimulatedDelay, fillPct float64) string {
	if delay == domain.DelayImmediate {
		if fillPct >= 100 {
			return labelImmediate
		}
		return labelPartialFill
	}

	n := delay.Seconds()
	switch {
	case fillPct >= 100:
		return fmt.Sprintf("~%ds", n)
	case fillPct >= 75:
		return fmt.Sprintf(">%ds", n)
	case fillPct >= 50:
		return fmt.Sprintf(">>%ds", n)
	case fillPct > 0:
		return fmt.Sprintf(">>>%ds", n)
	default:
		return labelUnlikely
	}
}

// sortedSide returns a best-first copy of levels.
func sortedSide(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := slices.Clone(levels)
	slices.SortStableFunc(out, func(a, b domain.PriceLevel) int {
		if descending {
			return cmp.Compare(b.Price, a.Price)
		}
		return cmp.Compare(a.Price, b.Price)
	})
	return out
}

func clampPct(v float64) float64 {
	return min(max(v, 0), 100)
}
