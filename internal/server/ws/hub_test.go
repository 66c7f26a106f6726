package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// chanBus hands each subscription its own channel keyed by pattern.
type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan domain.BusMessage
	all  chan struct{}
}

func newChanBus() *chanBus {
	return &chanBus{subs: make(map[string]chan domain.BusMessage), all: make(chan struct{})}
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan domain.BusMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.BusMessage, 8)
	b.subs[channel] = ch
	if len(b.subs) == len(busChannels) {
		close(b.all)
	}
	return ch, nil
}

// emit delivers payload on the subscription for pattern as if it had been
// published on channel.
func (b *chanBus) emit(pattern, channel, payload string) {
	b.mu.Lock()
	ch := b.subs[pattern]
	b.mu.Unlock()
	ch <- domain.BusMessage{Channel: channel, Payload: []byte(payload)}
}

type staticFeed domain.FeedStatus

func (s staticFeed) Status() domain.FeedStatus { return domain.FeedStatus(s) }

func startHub(t *testing.T) (*chanBus, *Hub, string) {
	t.Helper()
	bus := newChanBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode: "Full",
		Feed: staticFeed{Target: domain.SubscriptionTarget{Exchange: domain.ExchangeOKX, Symbol: "BTC-USDT"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-bus.all:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not subscribe")
	}

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return bus, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// waitClients blocks until the hub loop has registered n clients; the
// upgrade response is written before registration.
func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHub_HelloAndRelay(t *testing.T) {
	bus, hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	waitClients(t, hub, 1)
	assert.Equal(t, "hello", hello["type"])
	payload := hello["payload"].(map[string]any)
	assert.Equal(t, "full", payload["mode"])
	assert.Equal(t, "BTC-USDT", payload["feed"].(map[string]any)["target"].(map[string]any)["symbol"])

	bus.emit("ch:book:*", "ch:book:okx:BTC-USDT", `{"event":"book_update","target":{"exchange":"okx","symbol":"BTC-USDT"}}`)
	frame := readFrame(t, conn)
	assert.Equal(t, "ch:book:okx:BTC-USDT", frame["channel"])
	assert.Equal(t, "book_update", frame["data"].(map[string]any)["event"])

	bus.emit("ch:sim", "ch:sim", `{"event":"simulation"}`)
	frame = readFrame(t, conn)
	assert.Equal(t, "ch:sim", frame["channel"])

	// a message without channel falls back to the subscription pattern
	bus.emit("ch:feed", "", `{"event":"feed_status"}`)
	frame = readFrame(t, conn)
	assert.Equal(t, "ch:feed", frame["channel"])
}

func TestHub_ClientSubscriptions(t *testing.T) {
	bus, hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn) // hello

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "unsubscribe",
		"channels": []string{"ch:book:*", "ch:sim"},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "subscribe",
		"channels": []string{"ch:book:deribit:BTC-PERPETUAL"},
	}))

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("ch:book:deribit:BTC-PERPETUAL") && !c.isSubscribed("ch:sim") && !c.isSubscribed("ch:book:okx:BTC-USDT") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	bus.emit("ch:book:*", "ch:book:okx:BTC-USDT", `{"event":"book_update"}`)
	bus.emit("ch:sim", "ch:sim", `{"event":"simulation"}`)
	bus.emit("ch:book:*", "ch:book:deribit:BTC-PERPETUAL", `{"event":"book_update"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "ch:book:deribit:BTC-PERPETUAL", frame["channel"])
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:book:*": true, "ch:sim": true}}
	assert.True(t, c.isSubscribed("ch:book:okx:BTC-USDT"))
	assert.True(t, c.isSubscribed("ch:sim"))
	assert.False(t, c.isSubscribed("ch:feed"))
}
