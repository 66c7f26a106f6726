// Package notify sends operator alerts about feed health to chat channels
// (Telegram, Discord). Alerts are filtered by event type so operators receive
// only what they opted into.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// Event types.
const (
	EventFeedExhausted = "feed_exhausted"
	EventFeedRecovered = "feed_recovered"
	EventFeedSwitched  = "feed_switched"
)

// Severity ranks an alert; senders use it for highlighting.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one alert.
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Alert is one notification.
type Alert struct {
	Event    string
	Severity Severity
	Title    string
	Message  string
	// At is stamped by the Notifier when zero.
	At time.Time
}

// FeedExhausted builds the alert sent when a feed gives up reconnecting.
func FeedExhausted(target domain.SubscriptionTarget, attempts int, lastErr string) Alert {
	msg := fmt.Sprintf("%s stopped after %d reconnect attempts.", target, attempts)
	if lastErr != "" {
		msg += "\nLast error: " + lastErr
	}
	return Alert{
		Event:    EventFeedExhausted,
		Severity: SeverityWarning,
		Title:    "Feed down: " + target.String(),
		Message:  msg + "\nSwitch or re-select the feed to retry.",
	}
}

// FeedRecovered builds the alert sent when a feed subscribes again after
// having dropped.
func FeedRecovered(target domain.SubscriptionTarget) Alert {
	return Alert{
		Event:    EventFeedRecovered,
		Severity: SeverityInfo,
		Title:    "Feed recovered: " + target.String(),
		Message:  fmt.Sprintf("%s is streaming again.", target),
	}
}

// FeedSwitched builds the alert sent when the active target changes.
func FeedSwitched(from, to domain.SubscriptionTarget) Alert {
	return Alert{
		Event:    EventFeedSwitched,
		Severity: SeverityInfo,
		Title:    "Feed switched",
		Message:  fmt.Sprintf("%s -> %s", from, to),
	}
}

// Notifier dispatches alerts to every registered Sender concurrently.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in events are forwarded; an empty list allows
// every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		timeout: 15 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers a if its event type is allowed. A failing sender does not
// stop delivery to the others; all failures are returned joined.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}

	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, a); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", a.Event),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
