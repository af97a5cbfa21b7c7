package domain

import (
	"context"
	"time"
)

// Event types published on the engine bus.
const (
	EventMatchCreated     = "match_created"
	EventMatchJoined      = "match_joined"
	EventPredictionLocked = "prediction_locked"
	EventMatchResolved    = "match_resolved"
	EventMatchCancelled   = "match_cancelled"
	EventWinningsClaimed  = "winnings_claimed"

	EventProposalCreated   = "proposal_created"
	EventOutcomeVoted      = "outcome_voted"
	EventProposalResolved  = "proposal_resolved"
	EventProposalExecuted  = "proposal_executed"
	EventProposalCancelled = "proposal_cancelled"
	EventTokensClaimed     = "tokens_claimed"
)

// Event is a lifecycle notification emitted by the settlement services and
// fanned out to websocket subscribers and notification channels.
type Event struct {
	Type     string         `json:"type"`
	EntityID uint64         `json:"entity_id"`
	Actor    string         `json:"actor,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// EventBus publishes lifecycle events and lets consumers subscribe to them.
// Delivery is best effort: settlement state never depends on the bus.
type EventBus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}
