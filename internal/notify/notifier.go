// Package notify forwards settlement lifecycle events to operator channels
// (Telegram, Discord). Events are filtered by type so operators receive only
// the alerts they care about; delivery is best effort and never blocks
// settlement.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier consumes the engine's event bus and dispatches formatted
// notifications to one or more Senders. Only events whose type appears in
// the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	bus     domain.EventBus
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded; an empty
// slice allows all event types.
func NewNotifier(bus domain.EventBus, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		bus:     bus,
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Run subscribes to the event bus and dispatches until the context is
// cancelled. Sender failures are logged, never propagated: a dead webhook
// must not stop the stream.
func (n *Notifier) Run(ctx context.Context) error {
	if len(n.senders) == 0 {
		n.logger.Info("no senders configured, notifier idle")
		<-ctx.Done()
		return ctx.Err()
	}

	events, err := n.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("notify: event stream closed")
			}
			n.handle(ctx, e)
		}
	}
}

// handle filters and dispatches a single event.
func (n *Notifier) handle(ctx context.Context, e domain.Event) {
	if len(n.events) > 0 && !n.events[e.Type] {
		return
	}

	title, message := formatEvent(e)
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", e.Type),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", e.Type),
		)
	}
}

// formatEvent renders a lifecycle event as a short title and message body.
func formatEvent(e domain.Event) (title, message string) {
	switch e.Type {
	case domain.EventMatchCreated:
		title = fmt.Sprintf("Match #%d created", e.EntityID)
	case domain.EventMatchJoined:
		title = fmt.Sprintf("Match #%d: %s joined", e.EntityID, e.Actor)
	case domain.EventPredictionLocked:
		title = fmt.Sprintf("Match #%d: %s locked in", e.EntityID, e.Actor)
	case domain.EventMatchResolved:
		title = fmt.Sprintf("Match #%d resolved", e.EntityID)
	case domain.EventMatchCancelled:
		title = fmt.Sprintf("Match #%d cancelled", e.EntityID)
	case domain.EventWinningsClaimed:
		title = fmt.Sprintf("Match #%d: %s claimed winnings", e.EntityID, e.Actor)
	case domain.EventProposalCreated:
		title = fmt.Sprintf("Proposal #%d created", e.EntityID)
	case domain.EventOutcomeVoted:
		title = fmt.Sprintf("Proposal #%d: %s voted", e.EntityID, e.Actor)
	case domain.EventProposalResolved:
		title = fmt.Sprintf("Proposal #%d resolved", e.EntityID)
	case domain.EventProposalExecuted:
		title = fmt.Sprintf("Proposal #%d executed", e.EntityID)
	case domain.EventProposalCancelled:
		title = fmt.Sprintf("Proposal #%d cancelled", e.EntityID)
	case domain.EventTokensClaimed:
		title = fmt.Sprintf("Proposal #%d: %s claimed tokens", e.EntityID, e.Actor)
	default:
		title = fmt.Sprintf("%s #%d", e.Type, e.EntityID)
	}

	if len(e.Detail) == 0 {
		return title, ""
	}

	keys := make([]string, 0, len(e.Detail))
	for k := range e.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, e.Detail[k]))
	}
	return title, strings.Join(parts, "\n")
}
