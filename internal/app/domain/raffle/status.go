package raffle

import (
	"encoding/json"
	"fmt"
)

// Status represents the lifecycle state of a raffle.
type Status int32

const (
	// StatusDraft is the initial state: schedule, rules and prizes are
	// still editable and no tickets exist.
	StatusDraft Status = iota

	// StatusActive means registration may be open and tickets may be issued.
	StatusActive

	// StatusPaused suspends registration without closing the raffle.
	StatusPaused

	// StatusDrawing means the ticket pool is closed and winner selection
	// is in progress.
	StatusDrawing

	// StatusCompleted is terminal: winners have been persisted.
	StatusCompleted

	// StatusCancelled is terminal: the raffle was abandoned.
	StatusCancelled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusDrawing:
		return "drawing"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a string to Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "draft":
		return StatusDraft, nil
	case "active":
		return StatusActive, nil
	case "paused":
		return StatusPaused, nil
	case "drawing":
		return StatusDrawing, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusDraft, fmt.Errorf("unknown raffle status %q", s)
	}
}

// IsTerminal returns true for states that admit no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// validTransitions defines the allowed state transitions. Completed and
// Cancelled are terminal and deliberately absent as sources.
var validTransitions = map[Status][]Status{
	StatusDraft:   {StatusActive},
	StatusActive:  {StatusPaused, StatusDrawing, StatusCompleted, StatusCancelled},
	StatusPaused:  {StatusActive, StatusCompleted, StatusCancelled},
	StatusDrawing: {StatusCompleted, StatusCancelled},
}

// CanTransition returns true if the transition from -> to is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state transition. The raffle is left
// unchanged when one is returned.
type TransitionError struct {
	RaffleID string
	From     Status
	To       Status
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("raffle %s: illegal transition %s -> %s", e.RaffleID, e.From, e.To)
}
