package raffle

import (
	"errors"
	"fmt"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
)

// State machine errors for guarded mutations. Transition violations use
// TransitionError instead.
var (
	ErrNoPrizes        = errors.New("raffle needs at least one prize to activate")
	ErrTicketActivity  = errors.New("raffle with ticket activity cannot be activated")
	ErrPrizePoolLocked = errors.New("prize pool is only mutable in draft")
	ErrRulesLocked     = errors.New("participation rules are only mutable in draft")
	ErrCapacityReached = errors.New("raffle participant capacity reached")
	ErrNoParticipants  = errors.New("raffle has no participants to remove")
)

// transition moves the raffle to the target status, or fails with
// TransitionError leaving the receiver untouched.
func (r Raffle) transition(to Status, now time.Time) (Raffle, error) {
	if !CanTransition(r.Status, to) {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: to}
	}
	out := r.copy()
	out.Status = to
	out.UpdatedAt = now
	if to.IsTerminal() {
		// Completed and cancelled raffles are archived, never deleted.
		out.ArchivedAt = now
	}
	return out, nil
}

// Activate moves Draft -> Active. Requires a valid schedule, at least one
// valid prize, and no prior ticket activity.
func (r Raffle) Activate(now time.Time) (Raffle, error) {
	if !CanTransition(r.Status, StatusActive) || r.Status != StatusDraft {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: StatusActive}
	}
	if err := r.Schedule.Validate(); err != nil {
		return Raffle{}, fmt.Errorf("activate raffle %s: %w", r.ID, err)
	}
	if len(r.PrizePool) == 0 {
		return Raffle{}, ErrNoPrizes
	}
	for _, p := range r.PrizePool {
		if err := p.Validate(); err != nil {
			return Raffle{}, fmt.Errorf("activate raffle %s: %w", r.ID, err)
		}
	}
	if r.Stats.TotalTicketsIssued > 0 {
		return Raffle{}, ErrTicketActivity
	}
	return r.transition(StatusActive, now)
}

// Pause moves Active -> Paused.
func (r Raffle) Pause(now time.Time) (Raffle, error) {
	if r.Status != StatusActive {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: StatusPaused}
	}
	return r.transition(StatusPaused, now)
}

// Resume moves Paused -> Active.
func (r Raffle) Resume(now time.Time) (Raffle, error) {
	if r.Status != StatusPaused {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: StatusActive}
	}
	return r.transition(StatusActive, now)
}

// BeginDraw moves Active -> Drawing, closing the ticket pool.
func (r Raffle) BeginDraw(now time.Time) (Raffle, error) {
	if r.Status != StatusActive {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: StatusDrawing}
	}
	return r.transition(StatusDrawing, now)
}

// Complete moves the raffle to its terminal Completed state.
func (r Raffle) Complete(now time.Time) (Raffle, error) {
	return r.transition(StatusCompleted, now)
}

// Cancel moves the raffle to its terminal Cancelled state.
func (r Raffle) Cancel(now time.Time) (Raffle, error) {
	return r.transition(StatusCancelled, now)
}

// InRegistrationWindow reports whether the raffle is Active and the
// instant falls inside [RegistrationStart, RegistrationEnd). Capacity is
// not considered: existing participants may add tickets to a full raffle.
func (r Raffle) InRegistrationWindow(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return !now.Before(r.Schedule.RegistrationStart) && now.Before(r.Schedule.RegistrationEnd)
}

// IsRegistrationOpen reports whether the raffle accepts new participants
// at the given time: inside the registration window and below capacity.
func (r Raffle) IsRegistrationOpen(now time.Time) bool {
	if !r.InRegistrationWindow(now) {
		return false
	}
	if r.Rules.MaxParticipants > 0 && r.Stats.CurrentParticipants >= r.Rules.MaxParticipants {
		return false
	}
	return true
}

// IsEligibleForDraw reports whether the draw may start: Active,
// registration closed, within the draw buffer of the scheduled draw date,
// and at least one participant. Draws later than the scheduled date are
// still eligible so a stalled scheduler cannot strand a raffle.
func (r Raffle) IsEligibleForDraw(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if now.Before(r.Schedule.RegistrationEnd) {
		return false
	}
	if now.Before(r.Schedule.DrawDate.Add(-DefaultDrawBuffer)) {
		return false
	}
	return r.Stats.CurrentParticipants > 0
}

// RecordIssuance updates the participation statistics after a successful
// ledger write. It must be called within the same critical section as the
// ledger append. Only Active raffles accept issuance.
func (r Raffle) RecordIssuance(count int, newParticipant bool, now time.Time) (Raffle, error) {
	if r.Status != StatusActive {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: StatusActive}
	}
	if count < 1 {
		return Raffle{}, fmt.Errorf("issuance count must be >= 1, got %d", count)
	}
	out := r.copy()
	if newParticipant {
		if out.Rules.MaxParticipants > 0 && out.Stats.CurrentParticipants >= out.Rules.MaxParticipants {
			return Raffle{}, ErrCapacityReached
		}
		out.Stats.CurrentParticipants++
	}
	out.Stats.TotalTicketsIssued += count
	out.UpdatedAt = now
	return out, nil
}

// RemoveParticipant decrements the participant count, e.g. after a user
// transfers away their last ticket. Guarded to Active and Paused.
func (r Raffle) RemoveParticipant(now time.Time) (Raffle, error) {
	if r.Status != StatusActive && r.Status != StatusPaused {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: r.Status}
	}
	if r.Stats.CurrentParticipants == 0 {
		return Raffle{}, ErrNoParticipants
	}
	out := r.copy()
	out.Stats.CurrentParticipants--
	out.UpdatedAt = now
	return out, nil
}

// AddParticipant increments the participant count without ticket
// accounting; used when a transfer brings a new user into the raffle.
func (r Raffle) AddParticipant(now time.Time) (Raffle, error) {
	if r.Status != StatusActive && r.Status != StatusPaused {
		return Raffle{}, TransitionError{RaffleID: r.ID, From: r.Status, To: r.Status}
	}
	out := r.copy()
	if out.Rules.MaxParticipants > 0 && out.Stats.CurrentParticipants >= out.Rules.MaxParticipants {
		return Raffle{}, ErrCapacityReached
	}
	out.Stats.CurrentParticipants++
	out.UpdatedAt = now
	return out, nil
}

// UpdatePrizePool replaces the prize pool. Only Draft raffles accept
// prize changes.
func (r Raffle) UpdatePrizePool(prizes []prize.Prize, now time.Time) (Raffle, error) {
	if r.Status != StatusDraft {
		return Raffle{}, ErrPrizePoolLocked
	}
	for _, p := range prizes {
		if err := p.Validate(); err != nil {
			return Raffle{}, err
		}
	}
	out := r.copy()
	out.PrizePool = append([]prize.Prize(nil), prizes...)
	out.UpdatedAt = now
	return out, nil
}

// UpdateRules replaces the participation rules. Only Draft raffles accept
// rule changes.
func (r Raffle) UpdateRules(rules Rules, now time.Time) (Raffle, error) {
	if r.Status != StatusDraft {
		return Raffle{}, ErrRulesLocked
	}
	if err := rules.Validate(); err != nil {
		return Raffle{}, err
	}
	out := r.copy()
	out.Rules = rules
	out.UpdatedAt = now
	return out, nil
}

// TotalPrizeQuantity sums remaining units across the prize pool.
func (r Raffle) TotalPrizeQuantity() int {
	total := 0
	for _, p := range r.PrizePool {
		total += p.Remaining()
	}
	return total
}
