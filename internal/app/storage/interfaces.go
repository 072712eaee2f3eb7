// Package storage defines the persistence contracts for the raffle engine.
// Schema ownership is external; the domain invariants are enforced above
// these interfaces regardless of what the backing store permits.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/domain/winner"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSource is returned when a ledger entry with the same
	// (source, source_ref) pair already exists.
	ErrDuplicateSource = errors.New("duplicate ledger source reference")

	// ErrConflict is returned on a concurrent-update conflict; the logical
	// operation is safe to retry.
	ErrConflict = errors.New("persistence conflict")
)

// RaffleStore persists raffle aggregates.
type RaffleStore interface {
	CreateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error)
	UpdateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error)
	GetRaffle(ctx context.Context, id string) (raffle.Raffle, error)
	ListRafflesByStatus(ctx context.Context, status raffle.Status) ([]raffle.Raffle, error)
	// FindOpenRaffle returns the active raffle whose registration window
	// contains the given instant; used to route events that do not name a
	// raffle explicitly.
	FindOpenRaffle(ctx context.Context, at time.Time) (raffle.Raffle, error)
}

// TicketStore persists tickets.
type TicketStore interface {
	CreateTickets(ctx context.Context, tickets []ticket.Ticket) ([]ticket.Ticket, error)
	GetTicket(ctx context.Context, id string) (ticket.Ticket, error)
	UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	ListTicketsByRaffle(ctx context.Context, raffleID string) ([]ticket.Ticket, error)
	ListTicketsByUser(ctx context.Context, raffleID, userID string) ([]ticket.Ticket, error)
}

// LedgerStore persists the append-only issuance ledger.
type LedgerStore interface {
	// AppendEntry appends one ledger entry. It fails with
	// ErrDuplicateSource when the (source, source_ref) pair exists.
	AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
	GetEntryBySource(ctx context.Context, source ticket.Source, sourceRef string) (ledger.Entry, error)
	// SumDeltas derives the balance for a (user, raffle) pair strictly
	// from ledger entries.
	SumDeltas(ctx context.Context, userID, raffleID string) (int, error)
	ListEntries(ctx context.Context, userID, raffleID string) ([]ledger.Entry, error)

	// ApplyIssuance persists the ledger entry, its tickets and the updated
	// raffle statistics, all as one unit. A failure leaves no state behind;
	// an existing (source, source_ref) pair fails with ErrDuplicateSource.
	ApplyIssuance(ctx context.Context, e ledger.Entry, tickets []ticket.Ticket, r raffle.Raffle) (ledger.Entry, []ticket.Ticket, error)

	// ApplyTransfer persists the debit and credit entries, the moved ticket
	// and the updated raffle statistics, all as one unit.
	ApplyTransfer(ctx context.Context, debit, credit ledger.Entry, t ticket.Ticket, r raffle.Raffle) (ticket.Ticket, error)
}

// WinnerStore reads persisted winners.
type WinnerStore interface {
	ListWinnersByRaffle(ctx context.Context, raffleID string) ([]winner.Winner, error)
}

// DrawStore provides the two composite operations the draw's concurrency
// model requires to be atomic.
type DrawStore interface {
	// BeginDrawSnapshot transitions the raffle to Drawing and snapshots
	// its drawable tickets as one atomic step, so no ticket can be issued
	// between the snapshot and the state flip.
	BeginDrawSnapshot(ctx context.Context, raffleID string, now time.Time) (raffle.Raffle, []ticket.Ticket, error)

	// CompleteDraw persists winners, flags winning tickets, updates the
	// awarded prize counts and transitions the raffle to Completed, all as
	// one unit. On failure the raffle stays in Drawing for a safe retry.
	CompleteDraw(ctx context.Context, r raffle.Raffle, winners []winner.Winner, now time.Time) (raffle.Raffle, error)
}

// Store combines every persistence contract the engine needs.
type Store interface {
	RaffleStore
	TicketStore
	LedgerStore
	WinnerStore
	DrawStore
}
