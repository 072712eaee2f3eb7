// Package raffle defines the raffle aggregate and its lifecycle state
// machine. All mutating operations return a new Raffle value: a transition
// either produces a valid snapshot or fails entirely, with no intermediate
// state visible to concurrent readers.
package raffle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
)

// RaffleType selects default durations and rules for a raffle.
type RaffleType string

const (
	TypeDaily   RaffleType = "daily"
	TypeWeekly  RaffleType = "weekly"
	TypeMonthly RaffleType = "monthly"
	TypeSpecial RaffleType = "special"
	TypeFlash   RaffleType = "flash"
)

// DefaultRegistrationWindow returns how long registration stays open for
// the raffle type.
func (t RaffleType) DefaultRegistrationWindow() time.Duration {
	switch t {
	case TypeDaily:
		return 24 * time.Hour
	case TypeWeekly:
		return 7 * 24 * time.Hour
	case TypeMonthly:
		return 30 * 24 * time.Hour
	case TypeFlash:
		return 2 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Schedule is the raffle's time window. Registration must close before (or
// at) the draw.
type Schedule struct {
	RegistrationStart time.Time `json:"registration_start"`
	RegistrationEnd   time.Time `json:"registration_end"`
	DrawDate          time.Time `json:"draw_date"`
}

// Validate checks the schedule invariants from the data model.
func (s Schedule) Validate() error {
	if s.RegistrationStart.IsZero() || s.RegistrationEnd.IsZero() || s.DrawDate.IsZero() {
		return errors.New("schedule dates must all be set")
	}
	if !s.RegistrationEnd.After(s.RegistrationStart) {
		return errors.New("registration end must be after registration start")
	}
	if s.DrawDate.Before(s.RegistrationEnd) {
		return errors.New("draw date must not precede registration end")
	}
	return nil
}

// Rules bound participation. Zero values mean "no cap" except
// MinTicketsToParticipate, whose zero value is treated as 1.
type Rules struct {
	MinTicketsToParticipate int `json:"min_tickets_to_participate"`
	MaxTicketsPerUser       int `json:"max_tickets_per_user"`
	MaxParticipants         int `json:"max_participants"`
}

// MinTickets returns the effective minimum tickets per participation.
func (r Rules) MinTickets() int {
	if r.MinTicketsToParticipate < 1 {
		return 1
	}
	return r.MinTicketsToParticipate
}

// Validate checks rule ranges.
func (r Rules) Validate() error {
	if r.MinTicketsToParticipate < 0 || r.MaxTicketsPerUser < 0 || r.MaxParticipants < 0 {
		return errors.New("participation rules must not be negative")
	}
	if r.MaxTicketsPerUser > 0 && r.MinTickets() > r.MaxTicketsPerUser {
		return fmt.Errorf("min tickets %d exceeds max tickets per user %d", r.MinTickets(), r.MaxTicketsPerUser)
	}
	return nil
}

// Stats caches participation totals. The ledger remains the source of
// truth; Stats is updated in the same critical section as every ledger
// write so capacity checks see current values.
type Stats struct {
	CurrentParticipants int `json:"current_participants"`
	TotalTicketsIssued  int `json:"total_tickets_issued"`
}

// DefaultDrawBuffer is how far ahead of the scheduled draw date a draw may
// start.
const DefaultDrawBuffer = 15 * time.Minute

// Raffle is the aggregate root for one time-boxed drawing.
type Raffle struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        RaffleType    `json:"type"`
	Status      Status        `json:"status"`
	Schedule    Schedule      `json:"schedule"`
	Rules       Rules         `json:"rules"`
	PrizePool   []prize.Prize `json:"prize_pool"` // ordered by tier, 1 first
	Eligibility Criteria      `json:"eligibility"`
	Stats       Stats         `json:"stats"`
	CreatedBy   string        `json:"created_by"`
	Tags        []string      `json:"tags,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ArchivedAt  time.Time     `json:"archived_at,omitempty"`
}

// New creates a Draft raffle with validated schedule and rules.
func New(name string, typ RaffleType, schedule Schedule, rules Rules, createdBy string, now time.Time) (Raffle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Raffle{}, errors.New("raffle name is required")
	}
	if err := schedule.Validate(); err != nil {
		return Raffle{}, fmt.Errorf("invalid schedule: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Raffle{}, fmt.Errorf("invalid rules: %w", err)
	}
	return Raffle{
		Name:      name,
		Type:      typ,
		Status:    StatusDraft,
		Schedule:  schedule,
		Rules:     rules,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NumberPrefix derives the raffle's ticket number prefix from its ID.
func (r Raffle) NumberPrefix() string {
	id := strings.ReplaceAll(r.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// copy returns a deep copy so transitions never alias the prize pool or
// tags of the original snapshot.
func (r Raffle) copy() Raffle {
	out := r
	out.PrizePool = append([]prize.Prize(nil), r.PrizePool...)
	out.Tags = append([]string(nil), r.Tags...)
	out.Eligibility.Countries = append([]string(nil), r.Eligibility.Countries...)
	return out
}
