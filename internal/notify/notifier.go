// Package notify alerts operators over Telegram and Discord. The Alerter
// subscribes to the engine's event bus and forwards the events worth waking
// someone up for: breaker trips, unhealthy channels, and confirmed captures.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebmori/mevengine/internal/audit"
	"github.com/calebmori/mevengine/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the sender identifier (e.g. "telegram").
	Name() string
}

// Alerter consumes the live event channel and dispatches the configured event
// types to every sender.
type Alerter struct {
	senders []Sender
	bus     domain.EventBus
	events  map[string]bool // allowed event names; empty allows the default set
	logger  *slog.Logger
}

// defaultEvents is the alert set when none is configured.
var defaultEvents = []string{
	domain.EventBreakerTripped,
	domain.EventChannelUnhealthy,
	domain.EventOpportunityConfirmed,
	domain.EventDailySummary,
}

// NewAlerter creates an Alerter over the given bus and senders. events names
// the event types to forward; empty selects the default set.
func NewAlerter(senders []Sender, bus domain.EventBus, events []string, logger *slog.Logger) *Alerter {
	if len(events) == 0 {
		events = defaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Alerter{
		senders: senders,
		bus:     bus,
		events:  allowed,
		logger:  logger.With(slog.String("component", "alerter")),
	}
}

// Run subscribes to the live event channel and forwards matching events until
// ctx is cancelled.
func (a *Alerter) Run(ctx context.Context) error {
	if len(a.senders) == 0 {
		a.logger.Info("no senders configured, alerter idle")
		<-ctx.Done()
		return ctx.Err()
	}

	msgs, err := a.bus.Subscribe(ctx, audit.LiveChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			if !a.events[ev.Name] {
				continue
			}
			title, message := format(ev)
			a.dispatch(ctx, title, message)
		}
	}
}

// dispatch delivers to every sender; one failure does not block the rest.
func (a *Alerter) dispatch(ctx context.Context, title, message string) {
	for _, s := range a.senders {
		if err := s.Send(ctx, title, message); err != nil {
			a.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// format renders an event into a title and body.
func format(ev domain.Event) (string, string) {
	var b strings.Builder
	if ev.OpportunityID != "" {
		fmt.Fprintf(&b, "opportunity: %s\n", ev.OpportunityID)
	}
	for k, v := range ev.Detail {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	fmt.Fprintf(&b, "at: %s", ev.At.Format("15:04:05 MST"))

	switch ev.Name {
	case domain.EventBreakerTripped:
		return "Circuit breaker tripped", b.String()
	case domain.EventChannelUnhealthy:
		return "Broadcast channel unhealthy", b.String()
	case domain.EventOpportunityConfirmed:
		return "Execution confirmed", b.String()
	case domain.EventDailySummary:
		return "Daily summary", b.String()
	default:
		return ev.Name, b.String()
	}
}
