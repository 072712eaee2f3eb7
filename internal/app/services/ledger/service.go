// Package ledger implements the ticket ledger: atomic ticket issuance,
// balance accounting derived from append-only entries, and idempotent
// handling of redelivered upstream events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/events"
	"github.com/raffleworks/raffle-engine/internal/app/metrics"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
	"github.com/raffleworks/raffle-engine/pkg/logger"
)

// Business errors surfaced to callers.
var (
	ErrValidation                = errors.New("invalid issuance request")
	ErrLimitExceeded             = errors.New("ticket limit exceeded")
	ErrRaffleNotAcceptingEntries = errors.New("raffle is not accepting entries")
)

// IssueRequest describes one issuance attempt.
type IssueRequest struct {
	UserID    string
	RaffleID  string
	Count     int
	Source    ticket.Source
	SourceRef string // causation reference; the idempotency key together with Source
}

// IssueResult is the outcome of a successful (or deduplicated) issuance.
type IssueResult struct {
	Tickets        []ticket.Ticket
	Entry          ledger.Entry
	Balance        int
	NewParticipant bool
	Duplicate      bool // true when this was an idempotent replay
}

// Service is the ticket ledger.
type Service struct {
	store storage.Store
	bus   events.Publisher
	log   *logger.Logger
	locks *keyLock
	now   func() time.Time
}

// New constructs a ledger service.
func New(store storage.Store, bus events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	if bus == nil {
		bus = events.NoOpPublisher{}
	}
	return &Service{
		store: store,
		bus:   bus,
		log:   log,
		locks: newKeyLock(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock; test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LockRaffle acquires the raffle's issuance lock and returns it for the
// caller to release. Lifecycle transitions take it so a status change and
// an in-flight issuance cannot interleave their raffle writes.
func (s *Service) LockRaffle(raffleID string) *sync.Mutex {
	return s.locks.lock(raffleID)
}

// IssueTickets issues req.Count tickets to the user within the raffle as a
// single atomic unit: cap checks, ticket creation, ledger append and
// statistics update happen under the raffle's issuance lock. Redelivery of
// the same (source, sourceRef) pair returns the original result without
// issuing again.
func (s *Service) IssueTickets(ctx context.Context, req IssueRequest) (IssueResult, error) {
	if req.UserID == "" || req.RaffleID == "" || req.SourceRef == "" {
		return IssueResult{}, fmt.Errorf("%w: user, raffle and source reference are required", ErrValidation)
	}
	if req.Count < 1 {
		return IssueResult{}, fmt.Errorf("%w: count must be >= 1, got %d", ErrValidation, req.Count)
	}

	// Serialize per raffle: participant capacity is a raffle-wide
	// invariant, so per-user locking would be too narrow.
	mu := s.locks.lock(req.RaffleID)
	defer mu.Unlock()

	if dup, ok, err := s.replay(ctx, req); err != nil {
		return IssueResult{}, err
	} else if ok {
		metrics.RecordDuplicateDelivery()
		s.log.WithField("source", string(req.Source)).
			WithField("source_ref", req.SourceRef).
			Debug("duplicate delivery ignored")
		return dup, nil
	}

	r, err := s.store.GetRaffle(ctx, req.RaffleID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("get raffle: %w", err)
	}

	now := s.now()
	if !r.InRegistrationWindow(now) {
		metrics.RecordIssuanceRejected("registration_closed")
		return IssueResult{}, ErrRaffleNotAcceptingEntries
	}

	balance, err := s.store.SumDeltas(ctx, req.UserID, req.RaffleID)
	if err != nil {
		return IssueResult{}, fmt.Errorf("sum ledger deltas: %w", err)
	}
	if r.Rules.MaxTicketsPerUser > 0 && balance+req.Count > r.Rules.MaxTicketsPerUser {
		metrics.RecordIssuanceRejected("max_tickets_per_user")
		return IssueResult{}, fmt.Errorf("%w: balance %d + %d exceeds per-user cap %d",
			ErrLimitExceeded, balance, req.Count, r.Rules.MaxTicketsPerUser)
	}

	newParticipant := balance == 0
	if newParticipant && r.Rules.MaxParticipants > 0 && r.Stats.CurrentParticipants >= r.Rules.MaxParticipants {
		metrics.RecordIssuanceRejected("max_participants")
		return IssueResult{}, fmt.Errorf("%w: raffle %s participant cap %d reached",
			ErrLimitExceeded, r.ID, r.Rules.MaxParticipants)
	}

	tickets := make([]ticket.Ticket, 0, req.Count)
	prefix := r.NumberPrefix()
	for i := 0; i < req.Count; i++ {
		seq := int64(r.Stats.TotalTicketsIssued + i + 1)
		tickets = append(tickets, ticket.Ticket{
			UserID:    req.UserID,
			RaffleID:  req.RaffleID,
			Number:    ticket.FormatNumber(prefix, seq),
			Status:    ticket.StatusActive,
			Source:    req.Source,
			SourceRef: req.SourceRef,
			IssuedAt:  now,
			UpdatedAt: now,
		})
	}

	entry := ledger.Entry{
		UserID:    req.UserID,
		RaffleID:  req.RaffleID,
		Delta:     req.Count,
		Balance:   balance + req.Count,
		Source:    req.Source,
		SourceRef: req.SourceRef,
		CreatedAt: now,
	}
	// Statistics travel with the entry and tickets in one store operation:
	// a failure anywhere leaves no entry behind, so the redelivery is not
	// mistaken for a replay of a half-applied issuance.
	updated, err := r.RecordIssuance(req.Count, newParticipant, now)
	if err != nil {
		return IssueResult{}, err
	}
	entry, created, err := s.store.ApplyIssuance(ctx, entry, tickets, updated)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateSource) {
			// Lost a race with another deliverer of the same event; the
			// unique constraint makes this safe to replay.
			if dup, ok, rerr := s.replay(ctx, req); rerr == nil && ok {
				metrics.RecordDuplicateDelivery()
				return dup, nil
			}
			return IssueResult{}, err
		}
		return IssueResult{}, fmt.Errorf("apply issuance: %w", err)
	}

	result := IssueResult{
		Tickets:        created,
		Entry:          entry,
		Balance:        entry.Balance,
		NewParticipant: newParticipant,
	}

	numbers := make([]string, 0, len(created))
	for _, t := range created {
		numbers = append(numbers, t.Number)
	}
	if err := s.bus.Publish(ctx, events.New(events.TypeTicketsIssued, req.RaffleID, req.SourceRef,
		events.TicketsIssuedPayload{
			UserID:        req.UserID,
			Count:         req.Count,
			TicketNumbers: numbers,
			Balance:       entry.Balance,
			Source:        string(req.Source),
		})); err != nil {
		s.log.WithError(err).Warn("publish tickets issued event failed")
	}
	metrics.RecordTicketsIssued(string(req.Source), req.Count)

	s.log.WithField("raffle_id", req.RaffleID).
		WithField("user_id", req.UserID).
		WithField("count", req.Count).
		WithField("balance", entry.Balance).
		Info("tickets issued")

	return result, nil
}

// replay reconstructs the original result for an already-processed
// (source, sourceRef) pair.
func (s *Service) replay(ctx context.Context, req IssueRequest) (IssueResult, bool, error) {
	entry, err := s.store.GetEntryBySource(ctx, req.Source, req.SourceRef)
	if errors.Is(err, storage.ErrNotFound) {
		return IssueResult{}, false, nil
	}
	if err != nil {
		return IssueResult{}, false, fmt.Errorf("lookup ledger source: %w", err)
	}

	userTickets, err := s.store.ListTicketsByUser(ctx, entry.RaffleID, entry.UserID)
	if err != nil {
		return IssueResult{}, false, fmt.Errorf("list tickets: %w", err)
	}
	var issued []ticket.Ticket
	for _, t := range userTickets {
		if t.Source == req.Source && t.SourceRef == req.SourceRef {
			issued = append(issued, t)
		}
	}

	balance, err := s.store.SumDeltas(ctx, entry.UserID, entry.RaffleID)
	if err != nil {
		return IssueResult{}, false, err
	}
	return IssueResult{
		Tickets:   issued,
		Entry:     entry,
		Balance:   balance,
		Duplicate: true,
	}, true, nil
}

// GetBalance derives the user's ticket balance for a raffle strictly from
// the ledger.
func (s *Service) GetBalance(ctx context.Context, userID, raffleID string) (int, error) {
	return s.store.SumDeltas(ctx, userID, raffleID)
}

// ListEntries returns the ledger history for a (user, raffle) pair.
func (s *Service) ListEntries(ctx context.Context, userID, raffleID string) ([]ledger.Entry, error) {
	return s.store.ListEntries(ctx, userID, raffleID)
}

// TransferTicket moves one active ticket to another user within the same
// raffle, bounded by the per-ticket transfer policy. Both sides of the
// move are recorded in the ledger so balances stay equal to the sum of
// deltas for every user.
func (s *Service) TransferTicket(ctx context.Context, ticketID, fromUserID, toUserID string) (ticket.Ticket, error) {
	if fromUserID == toUserID {
		return ticket.Ticket{}, fmt.Errorf("%w: cannot transfer a ticket to its owner", ErrValidation)
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if t.UserID != fromUserID {
		return ticket.Ticket{}, fmt.Errorf("%w: ticket %s is not owned by %s", ErrValidation, ticketID, fromUserID)
	}

	mu := s.locks.lock(t.RaffleID)
	defer mu.Unlock()

	r, err := s.store.GetRaffle(ctx, t.RaffleID)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if r.Status != raffle.StatusActive && r.Status != raffle.StatusPaused {
		return ticket.Ticket{}, ErrRaffleNotAcceptingEntries
	}

	now := s.now()
	moved, err := t.TransferTo(toUserID, now)
	if err != nil {
		return ticket.Ticket{}, err
	}

	toBalance, err := s.store.SumDeltas(ctx, toUserID, t.RaffleID)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if r.Rules.MaxTicketsPerUser > 0 && toBalance+1 > r.Rules.MaxTicketsPerUser {
		return ticket.Ticket{}, fmt.Errorf("%w: recipient cap %d reached", ErrLimitExceeded, r.Rules.MaxTicketsPerUser)
	}
	fromBalance, err := s.store.SumDeltas(ctx, fromUserID, t.RaffleID)
	if err != nil {
		return ticket.Ticket{}, err
	}

	debit := ledger.Entry{
		UserID:    fromUserID,
		RaffleID:  t.RaffleID,
		Delta:     -1,
		Balance:   fromBalance - 1,
		Source:    ticket.SourceTransfer,
		SourceRef: fmt.Sprintf("%s:out:%d", ticketID, moved.TransferCount),
		CreatedAt: now,
	}
	credit := ledger.Entry{
		UserID:    toUserID,
		RaffleID:  t.RaffleID,
		Delta:     1,
		Balance:   toBalance + 1,
		Source:    ticket.SourceTransfer,
		SourceRef: fmt.Sprintf("%s:in:%d", ticketID, moved.TransferCount),
		CreatedAt: now,
	}

	// Keep participant statistics aligned with the new ownership.
	updated := r
	if toBalance == 0 {
		if updated, err = updated.AddParticipant(now); err != nil {
			return ticket.Ticket{}, err
		}
	}
	if fromBalance == 1 {
		if updated, err = updated.RemoveParticipant(now); err != nil {
			return ticket.Ticket{}, err
		}
	}

	// Both entries, the moved ticket and the statistics commit together,
	// so a failed transfer leaves no half-recorded move behind.
	saved, err := s.store.ApplyTransfer(ctx, debit, credit, moved, updated)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("apply transfer: %w", err)
	}

	s.log.WithField("ticket_id", ticketID).
		WithField("from", fromUserID).
		WithField("to", toUserID).
		Info("ticket transferred")
	return saved, nil
}

// ExpireTickets marks every active ticket of the raffle as expired; used
// when a raffle is cancelled.
func (s *Service) ExpireTickets(ctx context.Context, raffleID string) (int, error) {
	mu := s.locks.lock(raffleID)
	defer mu.Unlock()

	tickets, err := s.store.ListTicketsByRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	expired := 0
	for _, t := range tickets {
		if t.Status != ticket.StatusActive {
			continue
		}
		if _, err := s.store.UpdateTicket(ctx, t.WithStatus(ticket.StatusExpired, now)); err != nil {
			return expired, fmt.Errorf("expire ticket %s: %w", t.ID, err)
		}
		expired++
	}
	return expired, nil
}
