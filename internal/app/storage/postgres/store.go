// Package postgres implements the storage interfaces backed by PostgreSQL.
// The ledger's idempotency relies on the unique (source, source_ref) index;
// the two composite draw operations run inside transactions with row locks.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/domain/winner"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for schema migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// --- RaffleStore ------------------------------------------------------------

const raffleColumns = `id, name, type, status, registration_start, registration_end, draw_date,
	rules, prize_pool, eligibility, tags, current_participants, total_tickets_issued,
	created_by, notes, created_at, updated_at, archived_at`

type raffleRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Type                string         `db:"type"`
	Status              string         `db:"status"`
	RegistrationStart   time.Time      `db:"registration_start"`
	RegistrationEnd     time.Time      `db:"registration_end"`
	DrawDate            time.Time      `db:"draw_date"`
	Rules               []byte         `db:"rules"`
	PrizePool           []byte         `db:"prize_pool"`
	Eligibility         []byte         `db:"eligibility"`
	Tags                pq.StringArray `db:"tags"`
	CurrentParticipants int            `db:"current_participants"`
	TotalTicketsIssued  int            `db:"total_tickets_issued"`
	CreatedBy           string         `db:"created_by"`
	Notes               string         `db:"notes"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
	ArchivedAt          sql.NullTime   `db:"archived_at"`
}

func (row raffleRow) toDomain() (raffle.Raffle, error) {
	status, err := raffle.ParseStatus(row.Status)
	if err != nil {
		return raffle.Raffle{}, fmt.Errorf("raffle %s: %w", row.ID, err)
	}
	r := raffle.Raffle{
		ID:     row.ID,
		Name:   row.Name,
		Type:   raffle.RaffleType(row.Type),
		Status: status,
		Schedule: raffle.Schedule{
			RegistrationStart: row.RegistrationStart.UTC(),
			RegistrationEnd:   row.RegistrationEnd.UTC(),
			DrawDate:          row.DrawDate.UTC(),
		},
		Stats: raffle.Stats{
			CurrentParticipants: row.CurrentParticipants,
			TotalTicketsIssued:  row.TotalTicketsIssued,
		},
		CreatedBy: row.CreatedBy,
		Tags:      row.Tags,
		Notes:     row.Notes,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if row.ArchivedAt.Valid {
		r.ArchivedAt = row.ArchivedAt.Time.UTC()
	}
	if len(row.Rules) > 0 {
		if err := json.Unmarshal(row.Rules, &r.Rules); err != nil {
			return raffle.Raffle{}, fmt.Errorf("raffle %s rules: %w", row.ID, err)
		}
	}
	if len(row.PrizePool) > 0 {
		if err := json.Unmarshal(row.PrizePool, &r.PrizePool); err != nil {
			return raffle.Raffle{}, fmt.Errorf("raffle %s prize pool: %w", row.ID, err)
		}
	}
	if len(row.Eligibility) > 0 {
		if err := json.Unmarshal(row.Eligibility, &r.Eligibility); err != nil {
			return raffle.Raffle{}, fmt.Errorf("raffle %s eligibility: %w", row.ID, err)
		}
	}
	return r, nil
}

func raffleArgs(r raffle.Raffle) ([]any, error) {
	rulesJSON, err := json.Marshal(r.Rules)
	if err != nil {
		return nil, err
	}
	poolJSON, err := json.Marshal(r.PrizePool)
	if err != nil {
		return nil, err
	}
	criteriaJSON, err := json.Marshal(r.Eligibility)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.Name, string(r.Type), r.Status.String(),
		r.Schedule.RegistrationStart, r.Schedule.RegistrationEnd, r.Schedule.DrawDate,
		rulesJSON, poolJSON, criteriaJSON, pq.StringArray(r.Tags),
		r.Stats.CurrentParticipants, r.Stats.TotalTicketsIssued,
		r.CreatedBy, r.Notes, r.CreatedAt, r.UpdatedAt, toNullTime(r.ArchivedAt),
	}, nil
}

func (s *Store) CreateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	args, err := raffleArgs(r)
	if err != nil {
		return raffle.Raffle{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raffles (`+raffleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, args...)
	if err != nil {
		return raffle.Raffle{}, err
	}
	return r, nil
}

func (s *Store) UpdateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	return s.updateRaffle(ctx, s.db, r)
}

func (s *Store) updateRaffle(ctx context.Context, exec sqlx.ExtContext, r raffle.Raffle) (raffle.Raffle, error) {
	args, err := raffleArgs(r)
	if err != nil {
		return raffle.Raffle{}, err
	}
	result, err := exec.ExecContext(ctx, `
		UPDATE raffles
		SET name = $2, type = $3, status = $4,
			registration_start = $5, registration_end = $6, draw_date = $7,
			rules = $8, prize_pool = $9, eligibility = $10, tags = $11,
			current_participants = $12, total_tickets_issued = $13,
			created_by = $14, notes = $15, created_at = $16, updated_at = $17, archived_at = $18
		WHERE id = $1
	`, args...)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	var row raffleRow
	err := sqlx.GetContext(ctx, s.db, &row, `
		SELECT `+raffleColumns+` FROM raffles WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	if err != nil {
		return raffle.Raffle{}, err
	}
	return row.toDomain()
}

func (s *Store) ListRafflesByStatus(ctx context.Context, status raffle.Status) ([]raffle.Raffle, error) {
	var rows []raffleRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT `+raffleColumns+` FROM raffles WHERE status = $1 ORDER BY created_at
	`, status.String())
	if err != nil {
		return nil, err
	}
	result := make([]raffle.Raffle, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *Store) FindOpenRaffle(ctx context.Context, at time.Time) (raffle.Raffle, error) {
	var row raffleRow
	err := sqlx.GetContext(ctx, s.db, &row, `
		SELECT `+raffleColumns+` FROM raffles
		WHERE status = $1 AND registration_start <= $2 AND registration_end > $2
		ORDER BY registration_end
		LIMIT 1
	`, raffle.StatusActive.String(), at)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	if err != nil {
		return raffle.Raffle{}, err
	}
	return row.toDomain()
}

// --- TicketStore ------------------------------------------------------------

const ticketColumns = `id, user_id, raffle_id, number, status, source, source_ref,
	transfer_count, winner, issued_at, updated_at`

type ticketRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	RaffleID      string    `db:"raffle_id"`
	Number        string    `db:"number"`
	Status        string    `db:"status"`
	Source        string    `db:"source"`
	SourceRef     string    `db:"source_ref"`
	TransferCount int       `db:"transfer_count"`
	Winner        bool      `db:"winner"`
	IssuedAt      time.Time `db:"issued_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row ticketRow) toDomain() ticket.Ticket {
	return ticket.Ticket{
		ID:            row.ID,
		UserID:        row.UserID,
		RaffleID:      row.RaffleID,
		Number:        row.Number,
		Status:        ticket.Status(row.Status),
		Source:        ticket.Source(row.Source),
		SourceRef:     row.SourceRef,
		TransferCount: row.TransferCount,
		Winner:        row.Winner,
		IssuedAt:      row.IssuedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateTickets(ctx context.Context, tickets []ticket.Ticket) ([]ticket.Ticket, error) {
	return createTickets(ctx, s.db, tickets)
}

func createTickets(ctx context.Context, exec sqlx.ExtContext, tickets []ticket.Ticket) ([]ticket.Ticket, error) {
	created := make([]ticket.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, t.ID, t.UserID, t.RaffleID, t.Number, string(t.Status), string(t.Source), t.SourceRef,
			t.TransferCount, t.Winner, t.IssuedAt, t.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: ticket number %s", storage.ErrConflict, t.Number)
			}
			return nil, err
		}
		created = append(created, t)
	}
	return created, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	var row ticketRow
	err := sqlx.GetContext(ctx, s.db, &row, `
		SELECT `+ticketColumns+` FROM tickets WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	if err != nil {
		return ticket.Ticket{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	return updateTicket(ctx, s.db, t)
}

func updateTicket(ctx context.Context, exec sqlx.ExtContext, t ticket.Ticket) (ticket.Ticket, error) {
	result, err := exec.ExecContext(ctx, `
		UPDATE tickets
		SET user_id = $2, status = $3, transfer_count = $4, winner = $5, updated_at = $6
		WHERE id = $1
	`, t.ID, t.UserID, string(t.Status), t.TransferCount, t.Winner, t.UpdatedAt)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTicketsByRaffle(ctx context.Context, raffleID string) ([]ticket.Ticket, error) {
	return listTickets(ctx, s.db, `
		SELECT `+ticketColumns+` FROM tickets WHERE raffle_id = $1 ORDER BY number
	`, raffleID)
}

func (s *Store) ListTicketsByUser(ctx context.Context, raffleID, userID string) ([]ticket.Ticket, error) {
	return listTickets(ctx, s.db, `
		SELECT `+ticketColumns+` FROM tickets WHERE raffle_id = $1 AND user_id = $2 ORDER BY number
	`, raffleID, userID)
}

func listTickets(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]ticket.Ticket, error) {
	var rows []ticketRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]ticket.Ticket, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

const entryColumns = `id, user_id, raffle_id, delta, balance, source, source_ref, created_at`

type entryRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	RaffleID  string    `db:"raffle_id"`
	Delta     int       `db:"delta"`
	Balance   int       `db:"balance"`
	Source    string    `db:"source"`
	SourceRef string    `db:"source_ref"`
	CreatedAt time.Time `db:"created_at"`
}

func (row entryRow) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:        row.ID,
		UserID:    row.UserID,
		RaffleID:  row.RaffleID,
		Delta:     row.Delta,
		Balance:   row.Balance,
		Source:    ticket.Source(row.Source),
		SourceRef: row.SourceRef,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, exec sqlx.ExtContext, e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := exec.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.UserID, e.RaffleID, e.Delta, e.Balance, string(e.Source), e.SourceRef, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Entry{}, storage.ErrDuplicateSource
		}
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) GetEntryBySource(ctx context.Context, source ticket.Source, sourceRef string) (ledger.Entry, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, s.db, &row, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE source = $1 AND source_ref = $2
	`, string(source), sourceRef)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SumDeltas(ctx context.Context, userID, raffleID string) (int, error) {
	var sum int
	err := sqlx.GetContext(ctx, s.db, &sum, `
		SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1 AND raffle_id = $2
	`, userID, raffleID)
	return sum, err
}

func (s *Store) ListEntries(ctx context.Context, userID, raffleID string) ([]ledger.Entry, error) {
	var rows []entryRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = $1 AND raffle_id = $2
		ORDER BY created_at
	`, userID, raffleID)
	if err != nil {
		return nil, err
	}
	result := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// ApplyIssuance inserts the ledger entry, its tickets and the raffle
// statistics update in one transaction, so a mid-operation failure rolls
// everything back and the redelivery can start clean.
func (s *Store) ApplyIssuance(ctx context.Context, e ledger.Entry, tickets []ticket.Ticket, r raffle.Raffle) (ledger.Entry, []ticket.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, nil, err
	}
	defer tx.Rollback()

	e, err = appendEntry(ctx, tx, e)
	if err != nil {
		return ledger.Entry{}, nil, err
	}
	created, err := createTickets(ctx, tx, tickets)
	if err != nil {
		return ledger.Entry{}, nil, err
	}
	if _, err := s.updateRaffle(ctx, tx, r); err != nil {
		return ledger.Entry{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, nil, err
	}
	return e, created, nil
}

// ApplyTransfer records both sides of a ticket transfer, the moved ticket
// and the raffle statistics update in one transaction.
func (s *Store) ApplyTransfer(ctx context.Context, debit, credit ledger.Entry, t ticket.Ticket, r raffle.Raffle) (ticket.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ticket.Ticket{}, err
	}
	defer tx.Rollback()

	if _, err := appendEntry(ctx, tx, debit); err != nil {
		return ticket.Ticket{}, err
	}
	if _, err := appendEntry(ctx, tx, credit); err != nil {
		return ticket.Ticket{}, err
	}
	saved, err := updateTicket(ctx, tx, t)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if _, err := s.updateRaffle(ctx, tx, r); err != nil {
		return ticket.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
		return ticket.Ticket{}, err
	}
	return saved, nil
}

// --- WinnerStore ------------------------------------------------------------

const winnerColumns = `id, raffle_id, prize_id, ticket_id, user_id, draw_id, position,
	seed, algorithm, notify_state, claim_state, delivery_state, drawn_at`

type winnerRow struct {
	ID        string    `db:"id"`
	RaffleID  string    `db:"raffle_id"`
	PrizeID   string    `db:"prize_id"`
	TicketID  string    `db:"ticket_id"`
	UserID    string    `db:"user_id"`
	DrawID    string    `db:"draw_id"`
	Position  int       `db:"position"`
	Seed      string    `db:"seed"`
	Algorithm string    `db:"algorithm"`
	Notify    string    `db:"notify_state"`
	Claim     string    `db:"claim_state"`
	Delivery  string    `db:"delivery_state"`
	DrawnAt   time.Time `db:"drawn_at"`
}

func (row winnerRow) toDomain() winner.Winner {
	return winner.Winner{
		ID:        row.ID,
		RaffleID:  row.RaffleID,
		PrizeID:   row.PrizeID,
		TicketID:  row.TicketID,
		UserID:    row.UserID,
		DrawID:    row.DrawID,
		Position:  row.Position,
		Seed:      row.Seed,
		Algorithm: row.Algorithm,
		Notify:    winner.SubState(row.Notify),
		Claim:     winner.SubState(row.Claim),
		Delivery:  winner.SubState(row.Delivery),
		DrawnAt:   row.DrawnAt.UTC(),
	}
}

func (s *Store) ListWinnersByRaffle(ctx context.Context, raffleID string) ([]winner.Winner, error) {
	var rows []winnerRow
	err := sqlx.SelectContext(ctx, s.db, &rows, `
		SELECT `+winnerColumns+` FROM winners WHERE raffle_id = $1 ORDER BY position
	`, raffleID)
	if err != nil {
		return nil, err
	}
	result := make([]winner.Winner, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- DrawStore --------------------------------------------------------------

// BeginDrawSnapshot locks the raffle row, transitions it to Drawing and
// reads the active ticket pool in one transaction, so no issuance can
// land between the snapshot and the state flip.
func (s *Store) BeginDrawSnapshot(ctx context.Context, raffleID string, now time.Time) (raffle.Raffle, []ticket.Ticket, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return raffle.Raffle{}, nil, err
	}
	defer tx.Rollback()

	r, err := getRaffleForUpdate(ctx, tx, raffleID)
	if err != nil {
		return raffle.Raffle{}, nil, err
	}
	drawing, err := r.BeginDraw(now)
	if err != nil {
		return raffle.Raffle{}, nil, err
	}
	if _, err := s.updateRaffle(ctx, tx, drawing); err != nil {
		return raffle.Raffle{}, nil, err
	}

	pool, err := listTickets(ctx, tx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE raffle_id = $1 AND status = $2
		ORDER BY number
	`, raffleID, string(ticket.StatusActive))
	if err != nil {
		return raffle.Raffle{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return raffle.Raffle{}, nil, err
	}
	return drawing, pool, nil
}

// CompleteDraw persists winners, flags their tickets, stores the updated
// prize pool and transitions the raffle to Completed in one transaction.
// A rollback leaves the raffle in Drawing so completion can be retried.
func (s *Store) CompleteDraw(ctx context.Context, r raffle.Raffle, winners []winner.Winner, now time.Time) (raffle.Raffle, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return raffle.Raffle{}, err
	}
	defer tx.Rollback()

	stored, err := getRaffleForUpdate(ctx, tx, r.ID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if stored.Status != raffle.StatusDrawing {
		return raffle.Raffle{}, fmt.Errorf("%w: raffle %s is %s, expected %s",
			storage.ErrConflict, r.ID, stored.Status, raffle.StatusDrawing)
	}

	completed, err := r.Complete(now)
	if err != nil {
		return raffle.Raffle{}, err
	}

	for i, w := range winners {
		if w.ID == "" {
			w.ID = uuid.NewString()
			winners[i] = w
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO winners (`+winnerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, w.ID, w.RaffleID, w.PrizeID, w.TicketID, w.UserID, w.DrawID, w.Position,
			w.Seed, w.Algorithm, string(w.Notify), string(w.Claim), string(w.Delivery), w.DrawnAt)
		if err != nil {
			return raffle.Raffle{}, fmt.Errorf("insert winner %d: %w", w.Position, err)
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE tickets SET status = $2, winner = TRUE, updated_at = $3 WHERE id = $1
		`, w.TicketID, string(ticket.StatusUsed), now)
		if err != nil {
			return raffle.Raffle{}, fmt.Errorf("flag winning ticket %s: %w", w.TicketID, err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return raffle.Raffle{}, fmt.Errorf("flag winning ticket %s: %w", w.TicketID, storage.ErrNotFound)
		}
	}

	if _, err := s.updateRaffle(ctx, tx, completed); err != nil {
		return raffle.Raffle{}, err
	}
	if err := tx.Commit(); err != nil {
		return raffle.Raffle{}, err
	}
	return completed, nil
}

func getRaffleForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (raffle.Raffle, error) {
	var row raffleRow
	err := sqlx.GetContext(ctx, tx, &row, `
		SELECT `+raffleColumns+` FROM raffles WHERE id = $1 FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Raffle{}, storage.ErrNotFound
	}
	if err != nil {
		return raffle.Raffle{}, err
	}
	return row.toDomain()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
