package raffle

import (
	"errors"
	"testing"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func validSchedule() Schedule {
	return Schedule{
		RegistrationStart: baseTime,
		RegistrationEnd:   baseTime.Add(24 * time.Hour),
		DrawDate:          baseTime.Add(25 * time.Hour),
	}
}

func draftRaffle(t *testing.T) Raffle {
	t.Helper()
	r, err := New("Weekly Raffle", TypeWeekly, validSchedule(), Rules{}, "ops", baseTime)
	if err != nil {
		t.Fatalf("new raffle: %v", err)
	}
	r.ID = "raffle-1"
	r.PrizePool = []prize.Prize{
		{ID: "prize-1", Tier: 1, Type: prize.TypeCash, Description: "Grand", Value: 10000, Quantity: 1},
	}
	return r
}

func activeRaffle(t *testing.T) Raffle {
	t.Helper()
	r, err := draftRaffle(t).Activate(baseTime)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return r
}

func TestActivate(t *testing.T) {
	r := draftRaffle(t)
	activated, err := r.Activate(baseTime)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated.Status != StatusActive {
		t.Errorf("status = %v, want active", activated.Status)
	}
	if r.Status != StatusDraft {
		t.Errorf("original mutated to %v", r.Status)
	}
}

func TestActivateRequiresPrizes(t *testing.T) {
	r := draftRaffle(t)
	r.PrizePool = nil
	if _, err := r.Activate(baseTime); !errors.Is(err, ErrNoPrizes) {
		t.Fatalf("err = %v, want ErrNoPrizes", err)
	}
}

func TestActivateRejectsInvalidPrize(t *testing.T) {
	r := draftRaffle(t)
	r.PrizePool[0].Quantity = 0
	if _, err := r.Activate(baseTime); err == nil {
		t.Fatal("expected error for zero-quantity prize")
	}
}

func TestActivateRejectsTicketActivity(t *testing.T) {
	r := draftRaffle(t)
	r.Stats.TotalTicketsIssued = 1
	if _, err := r.Activate(baseTime); !errors.Is(err, ErrTicketActivity) {
		t.Fatalf("err = %v, want ErrTicketActivity", err)
	}
}

func TestActivateFromNonDraft(t *testing.T) {
	r := activeRaffle(t)
	_, err := r.Activate(baseTime)
	var te TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if te.From != StatusActive || te.To != StatusActive {
		t.Errorf("transition error %v -> %v", te.From, te.To)
	}
}

func TestPauseAndResume(t *testing.T) {
	r := activeRaffle(t)
	paused, err := r.Pause(baseTime)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != StatusPaused {
		t.Errorf("status = %v, want paused", paused.Status)
	}

	resumed, err := paused.Resume(baseTime)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != StatusActive {
		t.Errorf("status = %v, want active", resumed.Status)
	}

	if _, err := r.Resume(baseTime); err == nil {
		t.Error("resume from active should fail")
	}
}

func TestTerminalStatesSetArchivedAt(t *testing.T) {
	r := activeRaffle(t)
	completed, err := r.Complete(baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.ArchivedAt.IsZero() {
		t.Error("completed raffle has no archive timestamp")
	}

	cancelled, err := r.Cancel(baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.ArchivedAt.IsZero() {
		t.Error("cancelled raffle has no archive timestamp")
	}

	if _, err := completed.Cancel(baseTime); err == nil {
		t.Error("cancel after completion should fail")
	}
}

func TestIsRegistrationOpen(t *testing.T) {
	r := activeRaffle(t)
	tests := []struct {
		name string
		mod  func(Raffle) Raffle
		at   time.Time
		want bool
	}{
		{"inside window", func(r Raffle) Raffle { return r }, baseTime.Add(time.Hour), true},
		{"at start", func(r Raffle) Raffle { return r }, baseTime, true},
		{"before start", func(r Raffle) Raffle { return r }, baseTime.Add(-time.Minute), false},
		{"at end", func(r Raffle) Raffle { return r }, baseTime.Add(24 * time.Hour), false},
		{"paused", func(r Raffle) Raffle {
			p, _ := r.Pause(baseTime)
			return p
		}, baseTime.Add(time.Hour), false},
		{"at capacity", func(r Raffle) Raffle {
			r.Rules.MaxParticipants = 2
			r.Stats.CurrentParticipants = 2
			return r
		}, baseTime.Add(time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mod(r).IsRegistrationOpen(tt.at); got != tt.want {
				t.Errorf("IsRegistrationOpen = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEligibleForDraw(t *testing.T) {
	r := activeRaffle(t)
	r.Stats.CurrentParticipants = 1
	end := r.Schedule.RegistrationEnd
	drawDate := r.Schedule.DrawDate

	tests := []struct {
		name string
		mod  func(Raffle) Raffle
		at   time.Time
		want bool
	}{
		{"at draw date", func(r Raffle) Raffle { return r }, drawDate, true},
		{"inside buffer", func(r Raffle) Raffle { return r }, drawDate.Add(-DefaultDrawBuffer), true},
		{"before buffer", func(r Raffle) Raffle { return r }, drawDate.Add(-DefaultDrawBuffer - time.Minute), false},
		{"after draw date", func(r Raffle) Raffle { return r }, drawDate.Add(48 * time.Hour), true},
		{"registration still open", func(r Raffle) Raffle { return r }, end.Add(-time.Minute), false},
		{"no participants", func(r Raffle) Raffle {
			r.Stats.CurrentParticipants = 0
			return r
		}, drawDate, false},
		{"not active", func(r Raffle) Raffle {
			p, _ := r.Pause(baseTime)
			return p
		}, drawDate, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mod(r).IsEligibleForDraw(tt.at); got != tt.want {
				t.Errorf("IsEligibleForDraw = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordIssuance(t *testing.T) {
	r := activeRaffle(t)
	updated, err := r.RecordIssuance(3, true, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("record issuance: %v", err)
	}
	if updated.Stats.TotalTicketsIssued != 3 || updated.Stats.CurrentParticipants != 1 {
		t.Errorf("stats = %+v", updated.Stats)
	}
	if r.Stats.TotalTicketsIssued != 0 {
		t.Error("original stats mutated")
	}

	again, err := updated.RecordIssuance(2, false, baseTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("record issuance: %v", err)
	}
	if again.Stats.TotalTicketsIssued != 5 || again.Stats.CurrentParticipants != 1 {
		t.Errorf("stats = %+v", again.Stats)
	}
}

func TestRecordIssuanceCapacity(t *testing.T) {
	r := activeRaffle(t)
	r.Rules.MaxParticipants = 1
	r.Stats.CurrentParticipants = 1
	if _, err := r.RecordIssuance(1, true, baseTime); !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("err = %v, want ErrCapacityReached", err)
	}
	// Existing participants may still add tickets at capacity.
	if _, err := r.RecordIssuance(1, false, baseTime); err != nil {
		t.Fatalf("existing participant issuance: %v", err)
	}
}

func TestUpdatePrizePoolOnlyInDraft(t *testing.T) {
	draft := draftRaffle(t)
	prizes := []prize.Prize{{ID: "p2", Tier: 1, Type: prize.TypeCredit, Description: "Credit", Value: 500, Quantity: 3}}
	updated, err := draft.UpdatePrizePool(prizes, baseTime)
	if err != nil {
		t.Fatalf("update prize pool: %v", err)
	}
	if len(updated.PrizePool) != 1 || updated.PrizePool[0].ID != "p2" {
		t.Errorf("prize pool = %+v", updated.PrizePool)
	}

	active := activeRaffle(t)
	if _, err := active.UpdatePrizePool(prizes, baseTime); !errors.Is(err, ErrPrizePoolLocked) {
		t.Fatalf("err = %v, want ErrPrizePoolLocked", err)
	}
}

func TestUpdateRulesOnlyInDraft(t *testing.T) {
	draft := draftRaffle(t)
	updated, err := draft.UpdateRules(Rules{MaxTicketsPerUser: 5}, baseTime)
	if err != nil {
		t.Fatalf("update rules: %v", err)
	}
	if updated.Rules.MaxTicketsPerUser != 5 {
		t.Errorf("rules = %+v", updated.Rules)
	}

	active := activeRaffle(t)
	if _, err := active.UpdateRules(Rules{}, baseTime); !errors.Is(err, ErrRulesLocked) {
		t.Fatalf("err = %v, want ErrRulesLocked", err)
	}
}

func TestTransitionsDoNotAliasPrizePool(t *testing.T) {
	r := activeRaffle(t)
	drawing, err := r.BeginDraw(baseTime)
	if err != nil {
		t.Fatalf("begin draw: %v", err)
	}
	drawing.PrizePool[0].Awarded = 1
	if r.PrizePool[0].Awarded != 0 {
		t.Error("prize pool aliased across transition")
	}
}

func TestScheduleValidate(t *testing.T) {
	s := validSchedule()
	if err := s.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	bad := s
	bad.RegistrationEnd = bad.RegistrationStart
	if err := bad.Validate(); err == nil {
		t.Error("zero-length registration window accepted")
	}

	bad = s
	bad.DrawDate = bad.RegistrationEnd.Add(-time.Minute)
	if err := bad.Validate(); err == nil {
		t.Error("draw before registration end accepted")
	}
}

func TestRulesValidate(t *testing.T) {
	if err := (Rules{MinTicketsToParticipate: 5, MaxTicketsPerUser: 3}).Validate(); err == nil {
		t.Error("min above max accepted")
	}
	if err := (Rules{MaxParticipants: -1}).Validate(); err == nil {
		t.Error("negative cap accepted")
	}
	if got := (Rules{}).MinTickets(); got != 1 {
		t.Errorf("default min tickets = %d, want 1", got)
	}
}

func TestNumberPrefix(t *testing.T) {
	r := Raffle{ID: "a1b2c3d4-e5f6-7890-abcd-ef0123456789"}
	if got := r.NumberPrefix(); got != "A1B2C3D4" {
		t.Errorf("prefix = %q, want A1B2C3D4", got)
	}
}
