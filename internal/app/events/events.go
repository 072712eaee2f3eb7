// Package events defines the raffle engine's domain events and the
// publisher contract at the broker boundary. Payloads are self-contained:
// downstream consumers can act on them without re-querying the engine.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type classifies a domain event.
type Type string

const (
	// Outbound events published by the engine.
	TypeRaffleActivated      Type = "raffle.activated"
	TypeTicketsIssued        Type = "raffle.tickets_issued"
	TypeTicketIssuanceFailed Type = "raffle.ticket_issuance_failed"
	TypeRaffleDrawCompleted  Type = "raffle.draw_completed"
	TypeRaffleWinnerSelected Type = "raffle.winner_selected"
	TypeRaffleCancelled      Type = "raffle.cancelled"
)

// Event is the envelope shared by all outbound domain events.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	RaffleID    string    `json:"raffle_id"`
	CausationID string    `json:"causation_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload"`
}

// New builds an event envelope with a fresh ID.
func New(typ Type, raffleID, causationID string, payload any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		RaffleID:    raffleID,
		CausationID: causationID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

// Publisher is the outbound contract; the broker transport behind it is
// supplied externally.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// NoOpPublisher discards all events.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, Event) error { return nil }

// --- Outbound payloads ------------------------------------------------------

// RaffleActivatedPayload announces that registration may open.
type RaffleActivatedPayload struct {
	Name              string    `json:"name"`
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
	DrawDate          time.Time `json:"draw_date"`
	PrizeCount        int       `json:"prize_count"`
}

// TicketsIssuedPayload reports a successful issuance.
type TicketsIssuedPayload struct {
	UserID        string   `json:"user_id"`
	Count         int      `json:"count"`
	TicketNumbers []string `json:"ticket_numbers"`
	Balance       int      `json:"balance"`
	Source        string   `json:"source"`
}

// TicketIssuanceFailedPayload is the audit event emitted instead of a
// silent retry when issuance is rejected.
type TicketIssuanceFailedPayload struct {
	UserID    string `json:"user_id"`
	Requested int    `json:"requested"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// WinnerRecord is the per-winner slice of a draw result.
type WinnerRecord struct {
	WinnerID     string `json:"winner_id"`
	UserID       string `json:"user_id"`
	TicketNumber string `json:"ticket_number"`
	PrizeID      string `json:"prize_id"`
	PrizeTier    int    `json:"prize_tier"`
	PrizeName    string `json:"prize_name"`
	PrizeValue   int64  `json:"prize_value"`
	Position     int    `json:"position"`
}

// RaffleDrawCompletedPayload reports a completed draw with its audit trail.
type RaffleDrawCompletedPayload struct {
	DrawID     string         `json:"draw_id"`
	Seed       string         `json:"seed"`
	Algorithm  string         `json:"algorithm"`
	MerkleRoot string         `json:"merkle_root"`
	PoolSize   int            `json:"pool_size"`
	Winners    []WinnerRecord `json:"winners"`
	Unawarded  int            `json:"unawarded_prize_units"`
}

// RaffleWinnerSelectedPayload notifies downstream claim workflows of a
// single winner.
type RaffleWinnerSelectedPayload struct {
	WinnerRecord
	DrawID string `json:"draw_id"`
}

// --- Inbound events ---------------------------------------------------------

// TicketsGenerated is consumed from upstream services (redemption
// completions, direct purchases, promotions). RaffleID may be empty, in
// which case the orchestrator routes to the currently open raffle.
type TicketsGenerated struct {
	UserID      string `json:"user_id"`
	RaffleID    string `json:"raffle_id,omitempty"`
	Count       int    `json:"count"`
	Source      string `json:"source"`
	CausationID string `json:"causation_id"`
}

// AdEngagementQualified is consumed from the ad engine when a user earns
// bonus tickets.
type AdEngagementQualified struct {
	UserID      string `json:"user_id"`
	RaffleID    string `json:"raffle_id,omitempty"`
	BonusCount  int    `json:"bonus_count"`
	CausationID string `json:"causation_id"`
}
