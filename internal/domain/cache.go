package domain

import (
	"context"
	"time"
)

// OrderbookCache stores the latest accepted book per subscription target.
type OrderbookCache interface {
	SetBook(ctx context.Context, target SubscriptionTarget, book OrderBook) error
	GetBook(ctx context.Context, target SubscriptionTarget) (OrderBook, error)
	Delete(ctx context.Context, target SubscriptionTarget) error
}

// SimulationCache keeps the latest simulation result per target. Results
// with a non-zero ttl disappear once it elapses.
type SimulationCache interface {
	SetResult(ctx context.Context, result SimulationResult, ttl time.Duration) error
	GetResult(ctx context.Context, target SubscriptionTarget) (SimulationResult, error)
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// BusMessage is one pub/sub delivery. Channel is the concrete channel it was
// published on, also for pattern subscriptions.
type BusMessage struct {
	Channel string
	Payload []byte
}

// SignalBus provides fire-and-forget pub/sub between the feed side and the
// API side of the service. Subscribe accepts glob patterns such as
// "ch:book:*".
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

// Pub/sub channel names.
const (
	ChannelBookPrefix = "ch:book:"
	ChannelSimulation = "ch:sim"
	ChannelFeed       = "ch:feed"
)

// BookChannel returns the channel a target's books are published on.
func BookChannel(target SubscriptionTarget) string {
	return ChannelBookPrefix + target.Key()
}
