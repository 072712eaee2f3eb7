// Package ledger defines the append-only ticket issuance ledger. Ledger
// entries are never mutated or deleted; per-user balances are always the
// sum of deltas, so totals can be reconstructed independently of any
// cached counter on the raffle row.
package ledger

import (
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
)

// Entry records one issuance (or transfer) delta for a (user, raffle) pair.
// The (Source, SourceRef) pair is unique across the ledger: redelivery of
// the same upstream event cannot append a second entry.
type Entry struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	RaffleID  string        `json:"raffle_id"`
	Delta     int           `json:"delta"`
	Balance   int           `json:"balance"` // resulting balance for the pair after this entry
	Source    ticket.Source `json:"source"`
	SourceRef string        `json:"source_ref"` // causation reference
	CreatedAt time.Time     `json:"created_at"`
}
