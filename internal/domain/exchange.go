package domain

import (
	"fmt"
	"strings"
)

// ExchangeID identifies one of the supported exchanges. The set is closed.
type ExchangeID int

const (
	ExchangeOKX ExchangeID = iota
	ExchangeBybit
	ExchangeDeribit
)

// exchangeNames is indexed by ExchangeID.
var exchangeNames = [...]string{
	ExchangeOKX:     "okx",
	ExchangeBybit:   "bybit",
	ExchangeDeribit: "deribit",
}

// AllExchanges returns every supported exchange in declaration order.
func AllExchanges() []ExchangeID {
	return []ExchangeID{ExchangeOKX, ExchangeBybit, ExchangeDeribit}
}

// Valid reports whether id is one of the declared exchanges.
func (id ExchangeID) Valid() bool {
	return id >= 0 && int(id) < len(exchangeNames)
}

func (id ExchangeID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("exchange(%d)", int(id))
	}
	return exchangeNames[id]
}

// ParseExchangeID maps a case-insensitive exchange name to its ID.
func ParseExchangeID(s string) (ExchangeID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range exchangeNames {
		if n == name {
			return ExchangeID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownExchange, s)
}

// MarshalText implements encoding.TextMarshaler.
func (id ExchangeID) MarshalText() ([]byte, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownExchange, int(id))
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ExchangeID) UnmarshalText(text []byte) error {
	parsed, err := ParseExchangeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SubscriptionTarget identifies exactly one live feed.
type SubscriptionTarget struct {
	Exchange ExchangeID `json:"exchange"`
	Symbol   string     `json:"symbol"`
}

// Key returns a stable "exchange:symbol" identifier used for cache keys and
// pub/sub channel names.
func (t SubscriptionTarget) Key() string {
	return t.Exchange.String() + ":" + t.Symbol
}

func (t SubscriptionTarget) String() string {
	return t.Key()
}
