// Package draw implements winner selection for closed raffles. The draw
// is deterministic given the ticket pool and the fairness seed, so any
// completed draw can be replayed and audited.
package draw

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/domain/winner"
	"github.com/raffleworks/raffle-engine/pkg/logger"
)

var (
	// ErrAlreadyDrawn guards against executing a draw twice for the same
	// raffle.
	ErrAlreadyDrawn = errors.New("raffle has already been drawn")

	// ErrNotDrawing is returned when the raffle's ticket pool has not
	// been closed by the state machine.
	ErrNotDrawing = errors.New("raffle is not in the drawing state")
)

// Policy tunes winner selection.
type Policy struct {
	// OneWinPerUser removes all of a winner's remaining tickets from the
	// pool after their first win.
	OneWinPerUser bool
}

// Unawarded reports prize units left unawarded because the pool ran out.
type Unawarded struct {
	PrizeID string
	Tier    int
	Units   int
}

// Result is the outcome of a draw: the ordered winners, the raffle
// snapshot with updated awarded counts, and the audit metadata needed to
// reproduce the selection.
type Result struct {
	DrawID     string
	RaffleID   string
	Raffle     raffle.Raffle
	Seed       string
	Algorithm  string
	MerkleRoot string
	PoolSize   int
	Winners    []winner.Winner
	Unawarded  []Unawarded
	DrawnAt    time.Time
}

// UnawardedUnits sums the prize units that could not be awarded.
func (r Result) UnawardedUnits() int {
	total := 0
	for _, u := range r.Unawarded {
		total += u.Units
	}
	return total
}

// Engine selects winners from a closed ticket pool.
type Engine struct {
	policy Policy
	log    *logger.Logger
}

// New constructs a draw engine.
func New(policy Policy, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("draw")
	}
	return &Engine{policy: policy, log: log}
}

// Draw selects winners for every prize tier of the raffle, in rank order,
// without replacement. The raffle must be in the Drawing state (the state
// machine's transition is the synchronization point that closed the
// pool). A pool smaller than the total prize quantity is not an error:
// the draw awards what it can and reports the rest as unawarded.
func (e *Engine) Draw(r raffle.Raffle, pool []ticket.Ticket, now time.Time) (Result, error) {
	switch r.Status {
	case raffle.StatusDrawing:
	case raffle.StatusCompleted:
		return Result{}, ErrAlreadyDrawn
	default:
		return Result{}, fmt.Errorf("%w: status is %s", ErrNotDrawing, r.Status)
	}

	// Cancelled or expired tickets never participate, whatever the
	// caller handed us.
	eligible := make([]ticket.Ticket, 0, len(pool))
	for _, t := range pool {
		if t.Drawable() {
			eligible = append(eligible, t)
		}
	}
	// Sort by ticket number so the same pool always enumerates in the
	// same order, independent of storage iteration order.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Number < eligible[j].Number })

	numbers := make([]string, 0, len(eligible))
	for _, t := range eligible {
		numbers = append(numbers, t.Number)
	}
	root := MerkleRoot(numbers)
	seed := Seed(r.ID, r.Schedule.DrawDate, root)
	rng := newStream(seed)

	prizes := append([]prize.Prize(nil), r.PrizePool...)
	sort.Slice(prizes, func(i, j int) bool { return prizes[i].Tier < prizes[j].Tier })

	drawID := uuid.NewString()
	result := Result{
		DrawID:     drawID,
		RaffleID:   r.ID,
		Seed:       seed,
		Algorithm:  Algorithm,
		MerkleRoot: root,
		PoolSize:   len(eligible),
		DrawnAt:    now,
	}

	position := 0
	for pi := range prizes {
		p := &prizes[pi]
		for unit := p.Remaining(); unit > 0; unit-- {
			if len(eligible) == 0 {
				result.Unawarded = append(result.Unawarded, Unawarded{
					PrizeID: p.ID,
					Tier:    p.Tier,
					Units:   unit,
				})
				break
			}
			idx := rng.intn(len(eligible))
			won := eligible[idx]
			// Splice rather than swap-remove to keep enumeration order
			// deterministic for the remaining pool.
			eligible = append(eligible[:idx], eligible[idx+1:]...)

			position++
			result.Winners = append(result.Winners, winner.Winner{
				ID:        uuid.NewString(),
				RaffleID:  r.ID,
				PrizeID:   p.ID,
				TicketID:  won.ID,
				UserID:    won.UserID,
				DrawID:    drawID,
				Position:  position,
				Seed:      seed,
				Algorithm: Algorithm,
				Notify:    winner.SubStatePending,
				Claim:     winner.SubStatePending,
				Delivery:  winner.SubStatePending,
				DrawnAt:   now,
			})
			p.Awarded++

			if e.policy.OneWinPerUser {
				kept := eligible[:0]
				for _, t := range eligible {
					if t.UserID != won.UserID {
						kept = append(kept, t)
					}
				}
				eligible = kept
			}
		}
	}

	updated := r
	updated.PrizePool = prizes
	result.Raffle = updated

	e.log.WithField("raffle_id", r.ID).
		WithField("draw_id", drawID).
		WithField("pool_size", result.PoolSize).
		WithField("winners", len(result.Winners)).
		WithField("seed", seed).
		Info("draw executed")

	return result, nil
}
