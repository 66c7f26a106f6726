package exchange

import (
	"strings"

	"github.com/goccy/go-json"
)

const bybitEndpoint = "wss://stream.bybit.com/v5/public/spot"

var bybitAdapter = adapter{
	endpoint:  bybitEndpoint,
	depth:     50,
	native:    bybitSymbol,
	subscribe: bybitSubscribe,
	decode:    bybitDecode,
	symbols: []string{
		"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT", "ADAUSDT",
	},
}

// bybitSymbol maps "btc-usdt" and "btc/usdt" to "BTCUSDT".
func bybitSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("-", "", "/", "", "_", "").Replace(s)
}

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func bybitSubscribe(symbol string) ([]byte, error) {
	return json.Marshal(bybitRequest{
		Op:   "subscribe",
		Args: []string{"orderbook.50." + symbol},
	})
}

type bybitBook struct {
	Symbol string     `json:"s"`
	Bids   []rawLevel `json:"b"`
	Asks   []rawLevel `json:"a"`
}

type bybitMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    json.RawMessage `json:"ts"`
	Data  *bybitBook      `json:"data"`
}

// bybitDecode reads {"topic":"orderbook.50.X","ts":..,"data":{"b":..,"a":..}}.
// Both snapshot and delta pushes are taken as the full book.
func bybitDecode(raw []byte) (bookPayload, bool, error) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return bookPayload{}, false, err
	}
	if !strings.Contains(msg.Topic, "orderbook") {
		return bookPayload{}, false, nil
	}
	if msg.Data == nil {
		return bookPayload{}, false, errMissingData
	}
	return bookPayload{
		bids:     msg.Data.Bids,
		asks:     msg.Data.Asks,
		tsMillis: parseTimestamp(msg.Ts),
	}, true, nil
}
