// Package ticket defines participation tickets and their numbering scheme.
package ticket

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Source identifies the upstream action that produced a ticket.
type Source string

const (
	SourceRedemption  Source = "redemption"
	SourcePurchase    Source = "purchase"
	SourcePromotional Source = "promotional"
	SourceAdBonus     Source = "ad-bonus"
	SourceTransfer    Source = "transfer"
)

// MaxTransfers bounds how many times a ticket may change owners.
const MaxTransfers = 3

// ErrTransferLimit is returned when a ticket has exhausted its transfer budget.
var ErrTransferLimit = errors.New("ticket transfer limit reached")

// ErrNotTransferable is returned when a non-active ticket is transferred.
var ErrNotTransferable = errors.New("only active tickets can be transferred")

// Ticket is a unit of participation entitlement. A ticket belongs to one
// raffle for its whole life; only its status, winner flag and owner (via
// bounded transfer) may change after creation.
type Ticket struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	RaffleID      string    `json:"raffle_id"`
	Number        string    `json:"number"` // human-auditable ticket number, unique within its raffle
	Status        Status    `json:"status"`
	Source        Source    `json:"source"`
	SourceRef     string    `json:"source_ref"` // causation reference of the issuing event
	TransferCount int       `json:"transfer_count"`
	Winner        bool      `json:"winner"`
	IssuedAt      time.Time `json:"issued_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Drawable reports whether the ticket participates in a draw pool.
func (t Ticket) Drawable() bool {
	return t.Status == StatusActive
}

// TransferTo returns a copy of the ticket owned by the new user, or an
// error when the transfer policy forbids it. The ticket stays in its raffle.
func (t Ticket) TransferTo(userID string, now time.Time) (Ticket, error) {
	if t.Status != StatusActive {
		return Ticket{}, ErrNotTransferable
	}
	if t.TransferCount >= MaxTransfers {
		return Ticket{}, ErrTransferLimit
	}
	t.UserID = userID
	t.TransferCount++
	t.UpdatedAt = now
	return t, nil
}

// WithStatus returns a copy of the ticket in the given status.
func (t Ticket) WithStatus(status Status, now time.Time) Ticket {
	t.Status = status
	t.UpdatedAt = now
	return t
}
