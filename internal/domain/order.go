package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of a simulated order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// SimulatedDelay is how long the simulated order is assumed to rest before
// the estimate is read. Only the four declared values are meaningful.
type SimulatedDelay int

const (
	DelayImmediate SimulatedDelay = 0
	Delay5s        SimulatedDelay = 5
	Delay10s       SimulatedDelay = 10
	Delay30s       SimulatedDelay = 30
)

// Duration converts the delay to a time.Duration.
func (d SimulatedDelay) Duration() time.Duration {
	return time.Duration(d) * time.Second
}

// Seconds returns the delay in whole seconds.
func (d SimulatedDelay) Seconds() int {
	return int(d)
}

func (d SimulatedDelay) String() string {
	if d == DelayImmediate {
		return "immediate"
	}
	return fmt.Sprintf("%ds", int(d))
}

// ParseSimulatedDelay accepts "immediate", "0", "5s", "10s" or "30s".
func ParseSimulatedDelay(s string) (SimulatedDelay, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate", "0", "0s":
		return DelayImmediate, nil
	case "5s", "5":
		return Delay5s, nil
	case "10s", "10":
		return Delay10s, nil
	case "30s", "30":
		return Delay30s, nil
	}
	return 0, fmt.Errorf("%w: unknown delay %q", ErrInvalidOrder, s)
}

// MarshalText implements encoding.TextMarshaler.
func (d SimulatedDelay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *SimulatedDelay) UnmarshalText(text []byte) error {
	parsed, err := ParseSimulatedDelay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OrderSpec describes a what-if order to run against a book.
type OrderSpec struct {
	Exchange   ExchangeID     `json:"exchange"`
	Symbol     string         `json:"symbol"`
	Type       OrderType      `json:"order_type"`
	Side       OrderSide      `json:"side"`
	LimitPrice float64        `json:"limit_price,omitempty"`
	Quantity   float64        `json:"quantity"`
	Delay      SimulatedDelay `json:"simulated_delay"`
}

// Target returns the feed the order is simulated against.
func (s OrderSpec) Target() SubscriptionTarget {
	return SubscriptionTarget{Exchange: s.Exchange, Symbol: s.Symbol}
}

// Validate checks the order for missing or out-of-range fields. The simulator
// itself never calls this; it is for the code accepting user input.
func (s OrderSpec) Validate() error {
	var errs []string

	if !s.Exchange.Valid() {
		errs = append(errs, fmt.Sprintf("unknown exchange %d", int(s.Exchange)))
	}
	if strings.TrimSpace(s.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if s.Quantity <= 0 {
		errs = append(errs, "quantity must be > 0")
	}
	switch s.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		errs = append(errs, fmt.Sprintf("unknown side %q", s.Side))
	}
	switch s.Type {
	case OrderTypeMarket:
		if s.LimitPrice != 0 {
			errs = append(errs, "limit_price must be empty for market orders")
		}
	case OrderTypeLimit:
		if s.LimitPrice <= 0 {
			errs = append(errs, "limit_price must be > 0 for limit orders")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown order type %q", s.Type))
	}
	switch s.Delay {
	case DelayImmediate, Delay5s, Delay10s, Delay30s:
	default:
		errs = append(errs, fmt.Sprintf("unsupported delay %d", int(s.Delay)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(errs, "; "))
	}
	return nil
}

// SimulationResult is the outcome of one simulation. It is never mutated;
// a newer simulation supersedes it.
type SimulationResult struct {
	ID                     string     `json:"id,omitempty"`
	Spec                   OrderSpec  `json:"spec"`
	FillPercentage         float64    `json:"fill_percentage"`
	MarketImpactPercentage float64    `json:"market_impact_percentage"`
	SlippagePercentage     float64    `json:"slippage_percentage"`
	EstimatedTimeToFill    string     `json:"estimated_time_to_fill"`
	AveragePrice           float64    `json:"average_price"`
	FilledQuantity         float64    `json:"filled_quantity"`
	Active                 bool       `json:"active"`
	CreatedAt              *time.Time `json:"created_at,omitempty"`
	// ExpiresAt is nil for immediate simulations.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether a delayed result has passed its expiry at now.
func (r SimulationResult) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}
