package exchange

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

const deribitEndpoint = "wss://www.deribit.com/ws/api/v2"

var errMissingData = errors.New("book message without data")

var deribitAdapter = adapter{
	endpoint:  deribitEndpoint,
	depth:     20,
	native:    deribitSymbol,
	subscribe: deribitSubscribe,
	decode:    deribitDecode,
	symbols: []string{
		"BTC-PERPETUAL", "ETH-PERPETUAL", "SOL_USDC-PERPETUAL", "BTC_USDC", "ETH_USDC",
	},
}

// deribitSymbol upper-cases the instrument and maps "btc/usdc" to "BTC_USDC".
func deribitSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(s, "/", "_")
}

type deribitParams struct {
	Channels []string `json:"channels"`
}

type deribitRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  deribitParams `json:"params"`
}

func deribitSubscribe(symbol string) ([]byte, error) {
	return json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "public/subscribe",
		Params: deribitParams{
			Channels: []string{"book." + symbol + ".none.20.100ms"},
		},
	})
}

type deribitBook struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Bids      []rawLevel      `json:"bids"`
	Asks      []rawLevel      `json:"asks"`
}

type deribitMessage struct {
	Method string `json:"method"`
	Params *struct {
		Channel string       `json:"channel"`
		Data    *deribitBook `json:"data"`
	} `json:"params"`
}

// deribitDecode reads subscription notifications
// {"method":"subscription","params":{"channel":"book...","data":{...}}}.
// RPC results and heartbeats carry no params.data and are skipped.
func deribitDecode(raw []byte) (bookPayload, bool, error) {
	var msg deribitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return bookPayload{}, false, err
	}
	if msg.Params == nil {
		return bookPayload{}, false, nil
	}
	if msg.Params.Channel != "" && !strings.HasPrefix(msg.Params.Channel, "book.") {
		return bookPayload{}, false, nil
	}
	data := msg.Params.Data
	if data == nil {
		if msg.Params.Channel != "" {
			return bookPayload{}, false, errMissingData
		}
		return bookPayload{}, false, nil
	}
	if data.Bids == nil && data.Asks == nil {
		return bookPayload{}, false, nil
	}
	return bookPayload{
		bids:     data.Bids,
		asks:     data.Asks,
		tsMillis: parseTimestamp(data.Timestamp),
	}, true, nil
}
