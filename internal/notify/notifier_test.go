package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []Alert
}

func (s *recordingSender) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var target = domain.SubscriptionTarget{Exchange: domain.ExchangeDeribit, Symbol: "BTC-PERPETUAL"}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventFeedExhausted, " "}, testLogger())

	require.NoError(t, n.Notify(context.Background(), FeedSwitched(target, target)))
	assert.Zero(t, s.count())

	require.NoError(t, n.Notify(context.Background(), FeedExhausted(target, 5, "dial refused")))
	assert.Equal(t, 1, s.count())
	assert.Equal(t, "Feed down: deribit:BTC-PERPETUAL", s.alerts[0].Title)
	assert.Equal(t, SeverityWarning, s.alerts[0].Severity)
	assert.False(t, s.alerts[0].At.IsZero())
}

func TestNotifier_OneSenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), FeedRecovered(target))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, good.count())
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), FeedRecovered(target)))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), FeedRecovered(target)))
}

func TestFeedExhaustedMessage(t *testing.T) {
	a := FeedExhausted(target, 5, "")
	assert.Equal(t, EventFeedExhausted, a.Event)
	assert.Contains(t, a.Message, "after 5 reconnect attempts")
	assert.NotContains(t, a.Message, "Last error")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	a := Alert{Event: EventFeedRecovered, Severity: SeverityInfo, Title: "Feed <BTC_USDT>", Message: "a & b"}
	require.NoError(t, s.Send(context.Background(), a))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Feed &lt;BTC_USDT&gt;</b>\na &amp; b", got["text"])
	assert.Equal(t, true, got["disable_notification"])
}

func TestTelegramText_Warning(t *testing.T) {
	text := telegramText(FeedExhausted(target, 5, ""))
	assert.True(t, strings.HasPrefix(text, "⚠️ <b>Feed down"))
}

func TestDiscordSender(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), Alert{
		Event:    EventFeedExhausted,
		Severity: SeverityWarning,
		Title:    "T",
		Message:  strings.Repeat("x", 5000),
		At:       at,
	}))
	assert.Equal(t, "depthsim", got.Username)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Len(t, []rune(e.Description), discordDescriptionLimit)
	assert.Equal(t, 0xE67E22, e.Color)
	assert.Equal(t, EventFeedExhausted, e.Footer.Text)
	assert.Equal(t, "2024-01-02T03:04:05Z", e.Timestamp)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()

	err := NewDiscordSender(failing.URL).Send(context.Background(), Alert{Title: "T", Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
