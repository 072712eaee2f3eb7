// Package orchestrator composes the raffle engine: it consumes upstream
// ticket-generation events, drives raffle state, triggers draws and
// publishes outbound domain events. It is the only component that spans
// cross-component transactions; everything else is consulted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
	"github.com/raffleworks/raffle-engine/internal/app/domain/profile"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/events"
	"github.com/raffleworks/raffle-engine/internal/app/metrics"
	"github.com/raffleworks/raffle-engine/internal/app/services/draw"
	"github.com/raffleworks/raffle-engine/internal/app/services/eligibility"
	ledgersvc "github.com/raffleworks/raffle-engine/internal/app/services/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
	"github.com/raffleworks/raffle-engine/pkg/logger"
)

// ErrNoOpenRaffle is returned when an event names no raffle and none is
// currently open.
var ErrNoOpenRaffle = errors.New("no open raffle for the current period")

// ErrNotEligibleForDraw is returned when a draw trigger arrives outside
// the draw window.
var ErrNotEligibleForDraw = errors.New("raffle is not eligible for a draw")

// ProfileResolver looks up user profiles for eligibility checks. The
// identity service behind it is external.
type ProfileResolver interface {
	GetProfile(ctx context.Context, userID string) (profile.UserProfile, error)
}

// ProfileResolverFunc adapts a function to ProfileResolver.
type ProfileResolverFunc func(ctx context.Context, userID string) (profile.UserProfile, error)

func (f ProfileResolverFunc) GetProfile(ctx context.Context, userID string) (profile.UserProfile, error) {
	return f(ctx, userID)
}

// Service is the raffle orchestrator.
type Service struct {
	store    storage.Store
	ledger   *ledgersvc.Service
	engine   *draw.Engine
	bus      events.Publisher
	profiles ProfileResolver
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an orchestrator.
func New(store storage.Store, ledger *ledgersvc.Service, engine *draw.Engine, bus events.Publisher, profiles ProfileResolver, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	if bus == nil {
		bus = events.NoOpPublisher{}
	}
	return &Service{
		store:    store,
		ledger:   ledger,
		engine:   engine,
		bus:      bus,
		profiles: profiles,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the orchestrator clock; test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// --- Administrative surface -------------------------------------------------

// CreateRaffle creates a Draft raffle.
func (s *Service) CreateRaffle(ctx context.Context, name string, typ raffle.RaffleType, schedule raffle.Schedule, rules raffle.Rules, createdBy string) (raffle.Raffle, error) {
	r, err := raffle.New(name, typ, schedule, rules, createdBy, s.now())
	if err != nil {
		return raffle.Raffle{}, err
	}
	created, err := s.store.CreateRaffle(ctx, r)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("create raffle: %w", err)
	}
	s.log.WithField("raffle_id", created.ID).WithField("name", created.Name).Info("raffle created")
	return created, nil
}

// UpdatePrizePool replaces a Draft raffle's prize pool.
func (s *Service) UpdatePrizePool(ctx context.Context, raffleID string, prizes []prize.Prize) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	updated, err := r.UpdatePrizePool(prizes, s.now())
	if err != nil {
		return raffle.Raffle{}, err
	}
	return s.store.UpdateRaffle(ctx, updated)
}

// ActivateRaffle transitions Draft -> Active and announces it.
func (s *Service) ActivateRaffle(ctx context.Context, raffleID string) (raffle.Raffle, error) {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	activated, err := r.Activate(s.now())
	if err != nil {
		return raffle.Raffle{}, err
	}
	saved, err := s.store.UpdateRaffle(ctx, activated)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("persist activation: %w", err)
	}
	if err := s.bus.Publish(ctx, events.New(events.TypeRaffleActivated, saved.ID, "",
		events.RaffleActivatedPayload{
			Name:              saved.Name,
			RegistrationStart: saved.Schedule.RegistrationStart,
			RegistrationEnd:   saved.Schedule.RegistrationEnd,
			DrawDate:          saved.Schedule.DrawDate,
			PrizeCount:        len(saved.PrizePool),
		})); err != nil {
		s.log.WithError(err).Warn("publish raffle activated event failed")
	}
	s.log.WithField("raffle_id", saved.ID).Info("raffle activated")
	return saved, nil
}

// PauseRaffle transitions Active -> Paused.
func (s *Service) PauseRaffle(ctx context.Context, raffleID string) (raffle.Raffle, error) {
	return s.transition(ctx, raffleID, raffle.Raffle.Pause)
}

// ResumeRaffle transitions Paused -> Active.
func (s *Service) ResumeRaffle(ctx context.Context, raffleID string) (raffle.Raffle, error) {
	return s.transition(ctx, raffleID, raffle.Raffle.Resume)
}

// CancelRaffle cancels a raffle and expires its outstanding tickets.
func (s *Service) CancelRaffle(ctx context.Context, raffleID string) (raffle.Raffle, error) {
	cancelled, err := s.transition(ctx, raffleID, raffle.Raffle.Cancel)
	if err != nil {
		return raffle.Raffle{}, err
	}
	expired, err := s.ledger.ExpireTickets(ctx, raffleID)
	if err != nil {
		s.log.WithError(err).WithField("raffle_id", raffleID).Warn("expire tickets after cancel failed")
	}
	if err := s.bus.Publish(ctx, events.New(events.TypeRaffleCancelled, raffleID, "", map[string]any{
		"expired_tickets": expired,
	})); err != nil {
		s.log.WithError(err).Warn("publish raffle cancelled event failed")
	}
	return cancelled, nil
}

// transition applies a lifecycle operation under the raffle's issuance
// lock. Issuance reads and rewrites the raffle row for its statistics, so
// an unserialized status change could be overwritten by a concurrent
// issuance that read the old status.
func (s *Service) transition(ctx context.Context, raffleID string, op func(raffle.Raffle, time.Time) (raffle.Raffle, error)) (raffle.Raffle, error) {
	mu := s.ledger.LockRaffle(raffleID)
	defer mu.Unlock()

	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	updated, err := op(r, s.now())
	if err != nil {
		return raffle.Raffle{}, err
	}
	return s.store.UpdateRaffle(ctx, updated)
}

// --- Inbound events ---------------------------------------------------------

// HandleTicketsGenerated processes an upstream ticket-generation event.
// Evaluator or ledger rejections do not fail the handler; they surface as
// TicketIssuanceFailed audit events instead of silent retries.
func (s *Service) HandleTicketsGenerated(ctx context.Context, evt events.TicketsGenerated) error {
	return s.issue(ctx, evt.UserID, evt.RaffleID, evt.Count, evt.Source, evt.CausationID)
}

// HandleAdEngagementQualified processes an ad-engagement bonus event.
func (s *Service) HandleAdEngagementQualified(ctx context.Context, evt events.AdEngagementQualified) error {
	return s.issue(ctx, evt.UserID, evt.RaffleID, evt.BonusCount, "ad-bonus", evt.CausationID)
}

func (s *Service) issue(ctx context.Context, userID, raffleID string, count int, source, causationID string) error {
	now := s.now()

	r, err := s.resolveRaffle(ctx, raffleID, now)
	if err != nil {
		if errors.Is(err, ErrNoOpenRaffle) || errors.Is(err, storage.ErrNotFound) {
			s.publishIssuanceFailed(ctx, raffleID, userID, count, source, causationID, "no open raffle")
			return nil
		}
		return err
	}

	p := s.resolveProfile(ctx, userID)

	decision := eligibility.Evaluate(r, p, count, now)
	if !decision.Eligible {
		s.publishIssuanceFailed(ctx, r.ID, userID, count, source, causationID, decision.Reason)
		return nil
	}

	_, err = s.ledger.IssueTickets(ctx, ledgersvc.IssueRequest{
		UserID:    userID,
		RaffleID:  r.ID,
		Count:     decision.GrantedCount,
		Source:    ticketSource(source),
		SourceRef: causationID,
	})
	if err != nil {
		if errors.Is(err, ledgersvc.ErrLimitExceeded) ||
			errors.Is(err, ledgersvc.ErrRaffleNotAcceptingEntries) ||
			errors.Is(err, ledgersvc.ErrValidation) {
			s.publishIssuanceFailed(ctx, r.ID, userID, count, source, causationID, err.Error())
			return nil
		}
		return fmt.Errorf("issue tickets: %w", err)
	}
	return nil
}

// ticketSource maps the upstream event's source tag onto the ledger's
// known sources. Unknown tags are recorded as promotional grants.
func ticketSource(source string) ticket.Source {
	switch src := ticket.Source(source); src {
	case ticket.SourceRedemption, ticket.SourcePurchase, ticket.SourcePromotional, ticket.SourceAdBonus:
		return src
	default:
		return ticket.SourcePromotional
	}
}

func (s *Service) resolveRaffle(ctx context.Context, raffleID string, now time.Time) (raffle.Raffle, error) {
	if raffleID != "" {
		return s.store.GetRaffle(ctx, raffleID)
	}
	r, err := s.store.FindOpenRaffle(ctx, now)
	if errors.Is(err, storage.ErrNotFound) {
		return raffle.Raffle{}, ErrNoOpenRaffle
	}
	return r, err
}

// resolveProfile falls back to a bare profile when no resolver is wired;
// raffles without eligibility criteria accept it as-is.
func (s *Service) resolveProfile(ctx context.Context, userID string) profile.UserProfile {
	if s.profiles == nil {
		return profile.UserProfile{UserID: userID}
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("profile lookup failed, using empty profile")
		return profile.UserProfile{UserID: userID}
	}
	return p
}

func (s *Service) publishIssuanceFailed(ctx context.Context, raffleID, userID string, count int, source, causationID, reason string) {
	metrics.RecordIssuanceRejected("evaluation")
	if err := s.bus.Publish(ctx, events.New(events.TypeTicketIssuanceFailed, raffleID, causationID,
		events.TicketIssuanceFailedPayload{
			UserID:    userID,
			Requested: count,
			Source:    source,
			Reason:    reason,
		})); err != nil {
		s.log.WithError(err).Warn("publish issuance failed event failed")
	}
	s.log.WithField("raffle_id", raffleID).
		WithField("user_id", userID).
		WithField("reason", reason).
		Info("ticket issuance rejected")
}

// --- Draw cycle -------------------------------------------------------------

// RunDrawCycle checks every Active raffle past its registration end and
// draws the ones that are eligible. Called from the scheduler tick.
func (s *Service) RunDrawCycle(ctx context.Context) error {
	now := s.now()
	active, err := s.store.ListRafflesByStatus(ctx, raffle.StatusActive)
	if err != nil {
		return fmt.Errorf("list active raffles: %w", err)
	}
	metrics.SetActiveRaffles(len(active))

	var firstErr error

	// Raffles stuck in Drawing had their pool closed but the outcome was
	// never persisted. The selection is deterministic, so replaying it
	// yields the original winners.
	stuck, err := s.store.ListRafflesByStatus(ctx, raffle.StatusDrawing)
	if err != nil {
		return fmt.Errorf("list drawing raffles: %w", err)
	}
	for _, r := range stuck {
		if _, err := s.resumeDraw(ctx, r); err != nil {
			s.log.WithError(err).WithField("raffle_id", r.ID).Error("draw resume failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, r := range active {
		if now.Before(r.Schedule.RegistrationEnd) {
			continue
		}
		if !r.IsEligibleForDraw(now) {
			continue
		}
		if _, err := s.executeDraw(ctx, r.ID); err != nil {
			s.log.WithError(err).WithField("raffle_id", r.ID).Error("draw failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TriggerDraw runs a draw for one raffle, subject to the same eligibility
// gate as the scheduler; used by the administrative surface.
func (s *Service) TriggerDraw(ctx context.Context, raffleID string) (draw.Result, error) {
	r, err := s.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return draw.Result{}, err
	}
	if !r.IsEligibleForDraw(s.now()) {
		return draw.Result{}, ErrNotEligibleForDraw
	}
	return s.executeDraw(ctx, raffleID)
}

// executeDraw performs the full draw transaction. Transitioning to
// Drawing and snapshotting the pool are one atomic store operation, so no
// issuance can slip between the snapshot and the state flip. If
// persisting the outcome fails, the raffle stays in Drawing and the next
// cycle retries the completion.
func (s *Service) executeDraw(ctx context.Context, raffleID string) (draw.Result, error) {
	// The snapshot shares the issuance lock so the flip to Drawing cannot
	// be overwritten by an issuance that read the raffle as Active.
	mu := s.ledger.LockRaffle(raffleID)
	r, pool, err := s.store.BeginDrawSnapshot(ctx, raffleID, s.now())
	mu.Unlock()
	if err != nil {
		return draw.Result{}, fmt.Errorf("begin draw snapshot: %w", err)
	}
	return s.finishDraw(ctx, r, pool)
}

// resumeDraw completes a draw whose pool was closed but whose outcome was
// never persisted, e.g. after a storage outage mid-draw.
func (s *Service) resumeDraw(ctx context.Context, r raffle.Raffle) (draw.Result, error) {
	tickets, err := s.store.ListTicketsByRaffle(ctx, r.ID)
	if err != nil {
		return draw.Result{}, fmt.Errorf("list tickets for resumed draw: %w", err)
	}
	pool := make([]ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.Drawable() {
			pool = append(pool, t)
		}
	}
	return s.finishDraw(ctx, r, pool)
}

func (s *Service) finishDraw(ctx context.Context, r raffle.Raffle, pool []ticket.Ticket) (draw.Result, error) {
	started := time.Now()
	raffleID := r.ID

	result, err := s.engine.Draw(r, pool, s.now())
	if err != nil {
		return draw.Result{}, fmt.Errorf("draw: %w", err)
	}

	completed, err := s.store.CompleteDraw(ctx, result.Raffle, result.Winners, s.now())
	if err != nil {
		// Raffle remains in Drawing; the operation is retry-safe.
		return draw.Result{}, fmt.Errorf("persist draw outcome: %w", err)
	}
	result.Raffle = completed

	records := s.winnerRecords(ctx, result)
	payload := events.RaffleDrawCompletedPayload{
		DrawID:     result.DrawID,
		Seed:       result.Seed,
		Algorithm:  result.Algorithm,
		MerkleRoot: result.MerkleRoot,
		PoolSize:   result.PoolSize,
		Winners:    records,
		Unawarded:  result.UnawardedUnits(),
	}
	if err := s.bus.Publish(ctx, events.New(events.TypeRaffleDrawCompleted, raffleID, result.DrawID, payload)); err != nil {
		s.log.WithError(err).Warn("publish draw completed event failed")
	}
	for _, rec := range records {
		if err := s.bus.Publish(ctx, events.New(events.TypeRaffleWinnerSelected, raffleID, result.DrawID,
			events.RaffleWinnerSelectedPayload{WinnerRecord: rec, DrawID: result.DrawID})); err != nil {
			s.log.WithError(err).Warn("publish winner selected event failed")
		}
	}

	metrics.RecordDrawCompleted(time.Since(started), len(result.Winners))
	s.log.WithField("raffle_id", raffleID).
		WithField("draw_id", result.DrawID).
		WithField("winners", len(result.Winners)).
		Info("raffle draw completed")

	return result, nil
}

// winnerRecords builds self-contained winner payloads so downstream
// consumers need no follow-up queries.
func (s *Service) winnerRecords(ctx context.Context, result draw.Result) []events.WinnerRecord {
	prizeByID := make(map[string]int, len(result.Raffle.PrizePool))
	for i, p := range result.Raffle.PrizePool {
		prizeByID[p.ID] = i
	}
	records := make([]events.WinnerRecord, 0, len(result.Winners))
	for _, w := range result.Winners {
		rec := events.WinnerRecord{
			WinnerID: w.ID,
			UserID:   w.UserID,
			PrizeID:  w.PrizeID,
			Position: w.Position,
		}
		if i, ok := prizeByID[w.PrizeID]; ok {
			p := result.Raffle.PrizePool[i]
			rec.PrizeTier = p.Tier
			rec.PrizeName = p.Description
			rec.PrizeValue = p.Value
		}
		if t, err := s.store.GetTicket(ctx, w.TicketID); err == nil {
			rec.TicketNumber = t.Number
		}
		records = append(records, rec)
	}
	return records
}
