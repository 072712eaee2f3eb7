// Package winner defines the winner records produced by a draw. Winners
// are created only by the draw engine and consumed by downstream
// notification, claim and delivery workflows.
package winner

import "time"

// SubState tracks a downstream workflow step for a winner.
type SubState string

const (
	SubStatePending   SubState = "pending"
	SubStateNotified  SubState = "notified"
	SubStateClaimed   SubState = "claimed"
	SubStateDelivered SubState = "delivered"
	SubStateForfeited SubState = "forfeited"
)

// Winner links a winning ticket to the prize it won within one draw.
// Seed and Algorithm make the selection reproducible for audits.
type Winner struct {
	ID        string    `json:"id"`
	RaffleID  string    `json:"raffle_id"`
	PrizeID   string    `json:"prize_id"`
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	DrawID    string    `json:"draw_id"`
	Position  int       `json:"position"` // 1-based selection order within the draw
	Seed      string    `json:"seed"`
	Algorithm string    `json:"algorithm"`
	Notify    SubState  `json:"notify_state"`
	Claim     SubState  `json:"claim_state"`
	Delivery  SubState  `json:"delivery_state"`
	DrawnAt   time.Time `json:"drawn_at"`
}
