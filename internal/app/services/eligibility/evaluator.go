// Package eligibility decides whether a participation attempt yields
// tickets. Evaluation is pure: no clock reads, no stores, no side effects.
package eligibility

import (
	"fmt"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/profile"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
)

// Failure reasons, stable strings for audit events.
const (
	ReasonRegistrationClosed = "registration closed"
	ReasonRaffleFull         = "raffle is at participant capacity"
)

// Decision is the outcome of an eligibility evaluation.
type Decision struct {
	Eligible     bool
	GrantedCount int    // tickets to issue when eligible
	Reason       string // first failing check when ineligible
}

// Eligible builds a positive decision.
func Eligible(count int) Decision {
	return Decision{Eligible: true, GrantedCount: count}
}

// Ineligible builds a negative decision with the failing reason.
func Ineligible(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate runs the checks in their fixed order: registration window,
// profile criteria, requested count bounds, participant capacity. The
// first failing check determines the reason; there are no partial effects.
func Evaluate(r raffle.Raffle, p profile.UserProfile, requested int, now time.Time) Decision {
	if !r.InRegistrationWindow(now) {
		return Ineligible(ReasonRegistrationClosed)
	}

	if ok, reason := r.Eligibility.Evaluate(p); !ok {
		return Ineligible(reason)
	}

	if requested < r.Rules.MinTickets() {
		return Ineligible(fmt.Sprintf("at least %d tickets are required to participate", r.Rules.MinTickets()))
	}
	if r.Rules.MaxTicketsPerUser > 0 && requested > r.Rules.MaxTicketsPerUser {
		return Ineligible(fmt.Sprintf("at most %d tickets per user are allowed", r.Rules.MaxTicketsPerUser))
	}

	if r.Rules.MaxParticipants > 0 && r.Stats.CurrentParticipants >= r.Rules.MaxParticipants {
		return Ineligible(ReasonRaffleFull)
	}

	return Eligible(requested)
}
