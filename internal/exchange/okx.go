package exchange

import (
	"strings"

	"github.com/goccy/go-json"
)

const okxEndpoint = "wss://ws.okx.com:8443/ws/v5/public"

var okxAdapter = adapter{
	endpoint:  okxEndpoint,
	depth:     50,
	native:    okxSymbol,
	subscribe: okxSubscribe,
	decode:    okxDecode,
	symbols: []string{
		"BTC-USDT", "ETH-USDT", "SOL-USDT", "XRP-USDT", "DOGE-USDT",
		"BTC-USDT-SWAP", "ETH-USDT-SWAP",
	},
}

// okxSymbol maps "btc/usdt" and "btc_usdt" to "BTC-USDT".
func okxSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "-", "_", "-").Replace(s)
}

type okxArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxRequest struct {
	Op   string   `json:"op"`
	Args []okxArg `json:"args"`
}

func okxSubscribe(symbol string) ([]byte, error) {
	return json.Marshal(okxRequest{
		Op:   "subscribe",
		Args: []okxArg{{Channel: "books", InstID: symbol}},
	})
}

type okxBook struct {
	Bids []rawLevel      `json:"bids"`
	Asks []rawLevel      `json:"asks"`
	Ts   json.RawMessage `json:"ts"`
}

type okxMessage struct {
	Event string    `json:"event"`
	Arg   *okxArg   `json:"arg"`
	Data  []okxBook `json:"data"`
}

// okxDecode reads pushes of the form {"arg":{...},"data":[{"bids":..,"asks":..,"ts":".."}]}.
// Event frames (subscribe acks, errors) and the plain-text "pong" are not books.
func okxDecode(raw []byte) (bookPayload, bool, error) {
	if strings.TrimSpace(string(raw)) == "pong" {
		return bookPayload{}, false, nil
	}

	var msg okxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return bookPayload{}, false, err
	}
	if msg.Event != "" || len(msg.Data) == 0 {
		return bookPayload{}, false, nil
	}
	if msg.Arg != nil && msg.Arg.Channel != "" && !strings.HasPrefix(msg.Arg.Channel, "books") {
		return bookPayload{}, false, nil
	}

	book := msg.Data[0]
	if book.Bids == nil && book.Asks == nil {
		return bookPayload{}, false, nil
	}
	return bookPayload{
		bids:     book.Bids,
		asks:     book.Asks,
		tsMillis: parseTimestamp(book.Ts),
	}, true, nil
}
