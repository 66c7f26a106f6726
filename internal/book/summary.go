package book

import "github.com/alanyoungcy/depthsim/internal/domain"

// Summarize computes top-of-book statistics for an aggregated book. Fields
// that need a missing side stay zero.
func Summarize(b domain.OrderBook) domain.BookSummary {
	var s domain.BookSummary

	for _, lvl := range b.Bids {
		s.BidDepth += lvl.Quantity
	}
	for _, lvl := range b.Asks {
		s.AskDepth += lvl.Quantity
	}
	if total := s.BidDepth + s.AskDepth; total > 0 {
		s.Imbalance = (s.BidDepth - s.AskDepth) / total
	}

	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid {
		s.BestBid = bid.Price
	}
	if okAsk {
		s.BestAsk = ask.Price
	}
	if okBid && okAsk {
		s.MidPrice = (bid.Price + ask.Price) / 2
		s.Spread = ask.Price - bid.Price
		if s.MidPrice > 0 {
			s.SpreadPercentage = s.Spread / s.MidPrice * 100
		}
	}
	return s
}
