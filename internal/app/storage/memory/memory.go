// Package memory provides an in-memory implementation of the storage
// contracts for tests and single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/domain/winner"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
)

// Store is a mutex-guarded map-backed store.
type Store struct {
	mu      sync.RWMutex
	raffles map[string]raffle.Raffle
	tickets map[string]ticket.Ticket
	entries []ledger.Entry
	sources map[string]string // (source|source_ref) -> entry ID
	winners map[string][]winner.Winner
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		raffles: make(map[string]raffle.Raffle),
		tickets: make(map[string]ticket.Ticket),
		sources: make(map[string]string),
		winners: make(map[string][]winner.Winner),
	}
}

func sourceKey(source ticket.Source, ref string) string {
	return string(source) + "|" + ref
}

// --- RaffleStore ------------------------------------------------------------

func (s *Store) CreateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.raffles[r.ID] = r
	return r, nil
}

func (s *Store) UpdateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRaffleLocked(r)
}

func (s *Store) updateRaffleLocked(r raffle.Raffle) (raffle.Raffle, error) {
	if _, ok := s.raffles[r.ID]; !ok {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	s.raffles[r.ID] = r
	return r, nil
}

func (s *Store) GetRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.raffles[id]
	if !ok {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRafflesByStatus(ctx context.Context, status raffle.Status) ([]raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []raffle.Raffle
	for _, r := range s.raffles {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) FindOpenRaffle(ctx context.Context, at time.Time) (raffle.Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []raffle.Raffle
	for _, r := range s.raffles {
		if r.IsRegistrationOpen(at) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	// Earliest closing registration wins when several raffles are open.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Schedule.RegistrationEnd.Before(candidates[j].Schedule.RegistrationEnd)
	})
	return candidates[0], nil
}

// --- TicketStore ------------------------------------------------------------

func (s *Store) CreateTickets(ctx context.Context, tickets []ticket.Ticket) ([]ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTicketsLocked(tickets)
}

func (s *Store) createTicketsLocked(tickets []ticket.Ticket) ([]ticket.Ticket, error) {
	out := make([]ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		s.tickets[t.ID] = t
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[t.ID]; !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *Store) ListTicketsByRaffle(ctx context.Context, raffleID string) ([]ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTicketsByRaffleLocked(raffleID), nil
}

func (s *Store) listTicketsByRaffleLocked(raffleID string) []ticket.Ticket {
	var out []ticket.Ticket
	for _, t := range s.tickets {
		if t.RaffleID == raffleID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *Store) ListTicketsByUser(ctx context.Context, raffleID, userID string) ([]ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ticket.Ticket
	for _, t := range s.tickets {
		if t.RaffleID == raffleID && t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(e.Source, e.SourceRef)
	if _, exists := s.sources[key]; exists {
		return ledger.Entry{}, storage.ErrDuplicateSource
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.entries = append(s.entries, e)
	s.sources[key] = e.ID
	return e, nil
}

func (s *Store) GetEntryBySource(ctx context.Context, source ticket.Source, sourceRef string) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sources[sourceKey(source, sourceRef)]
	if !ok {
		return ledger.Entry{}, storage.ErrNotFound
	}
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return ledger.Entry{}, storage.ErrNotFound
}

func (s *Store) SumDeltas(ctx context.Context, userID, raffleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := 0
	for _, e := range s.entries {
		if e.UserID == userID && e.RaffleID == raffleID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (s *Store) ListEntries(ctx context.Context, userID, raffleID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.UserID == userID && e.RaffleID == raffleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ApplyIssuance(ctx context.Context, e ledger.Entry, tickets []ticket.Ticket, r raffle.Raffle) (ledger.Entry, []ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(e.Source, e.SourceRef)
	if _, exists := s.sources[key]; exists {
		return ledger.Entry{}, nil, storage.ErrDuplicateSource
	}
	if _, ok := s.raffles[r.ID]; !ok {
		return ledger.Entry{}, nil, storage.ErrNotFound
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.entries = append(s.entries, e)
	s.sources[key] = e.ID
	created, err := s.createTicketsLocked(tickets)
	if err != nil {
		return ledger.Entry{}, nil, err
	}
	s.raffles[r.ID] = r
	return e, created, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, debit, credit ledger.Entry, t ticket.Ticket, r raffle.Raffle) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range []ledger.Entry{debit, credit} {
		if _, exists := s.sources[sourceKey(e.Source, e.SourceRef)]; exists {
			return ticket.Ticket{}, storage.ErrDuplicateSource
		}
	}
	if _, ok := s.tickets[t.ID]; !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	if _, ok := s.raffles[r.ID]; !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}

	for _, e := range []*ledger.Entry{&debit, &credit} {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.entries = append(s.entries, *e)
		s.sources[sourceKey(e.Source, e.SourceRef)] = e.ID
	}
	s.tickets[t.ID] = t
	s.raffles[r.ID] = r
	return t, nil
}

// --- WinnerStore ------------------------------------------------------------

func (s *Store) ListWinnersByRaffle(ctx context.Context, raffleID string) ([]winner.Winner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]winner.Winner(nil), s.winners[raffleID]...)
	return out, nil
}

// --- DrawStore --------------------------------------------------------------

func (s *Store) BeginDrawSnapshot(ctx context.Context, raffleID string, now time.Time) (raffle.Raffle, []ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[raffleID]
	if !ok {
		return raffle.Raffle{}, nil, storage.ErrNotFound
	}
	drawing, err := r.BeginDraw(now)
	if err != nil {
		return raffle.Raffle{}, nil, err
	}
	s.raffles[raffleID] = drawing

	var pool []ticket.Ticket
	for _, t := range s.listTicketsByRaffleLocked(raffleID) {
		if t.Drawable() {
			pool = append(pool, t)
		}
	}
	return drawing, pool, nil
}

func (s *Store) CompleteDraw(ctx context.Context, r raffle.Raffle, winners []winner.Winner, now time.Time) (raffle.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.raffles[r.ID]
	if !ok {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	if stored.Status != raffle.StatusDrawing {
		return raffle.Raffle{}, raffle.TransitionError{RaffleID: r.ID, From: stored.Status, To: raffle.StatusCompleted}
	}

	completed, err := r.Complete(now)
	if err != nil {
		return raffle.Raffle{}, err
	}

	saved := make([]winner.Winner, 0, len(winners))
	for _, w := range winners {
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		saved = append(saved, w)
		if t, ok := s.tickets[w.TicketID]; ok {
			t.Winner = true
			t.Status = ticket.StatusUsed
			t.UpdatedAt = now
			s.tickets[t.ID] = t
		}
	}
	s.winners[r.ID] = append(s.winners[r.ID], saved...)
	s.raffles[r.ID] = completed
	return completed, nil
}

// Reset clears all data; test helper.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raffles = make(map[string]raffle.Raffle)
	s.tickets = make(map[string]ticket.Ticket)
	s.entries = nil
	s.sources = make(map[string]string)
	s.winners = make(map[string][]winner.Winner)
}
