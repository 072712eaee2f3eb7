package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAppendEntryMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err := store.AppendEntry(context.Background(), ledger.Entry{
		UserID:    "user-1",
		RaffleID:  "raffle-1",
		Delta:     2,
		Balance:   2,
		Source:    ticket.SourceRedemption,
		SourceRef: "evt-1",
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, storage.ErrDuplicateSource) {
		t.Fatalf("err = %v, want ErrDuplicateSource", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRaffleNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM raffles WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetRaffle(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRaffleRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "name", "type", "status", "registration_start", "registration_end", "draw_date",
		"rules", "prize_pool", "eligibility", "tags", "current_participants", "total_tickets_issued",
		"created_by", "notes", "created_at", "updated_at", "archived_at",
	}
	mock.ExpectQuery("SELECT .+ FROM raffles WHERE id").
		WithArgs("raffle-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"raffle-1", "Weekly", "weekly", "active", now, now.Add(24*time.Hour), now.Add(25*time.Hour),
			[]byte(`{"max_tickets_per_user":10}`),
			[]byte(`[{"id":"prize-1","tier":1,"type":"cash","description":"Grand","value":5000,"quantity":1}]`),
			[]byte(`{"min_age":18}`),
			"{featured}", 3, 9,
			"ops", "", now, now, nil,
		))

	r, err := store.GetRaffle(context.Background(), "raffle-1")
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	if r.Status != raffle.StatusActive {
		t.Errorf("status = %v, want active", r.Status)
	}
	if r.Rules.MaxTicketsPerUser != 10 {
		t.Errorf("max tickets per user = %d, want 10", r.Rules.MaxTicketsPerUser)
	}
	if len(r.PrizePool) != 1 || r.PrizePool[0].Type != prize.TypeCash {
		t.Errorf("prize pool = %+v, want one cash prize", r.PrizePool)
	}
	if r.Eligibility.MinAge != 18 {
		t.Errorf("min age = %d, want 18", r.Eligibility.MinAge)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "featured" {
		t.Errorf("tags = %v, want [featured]", r.Tags)
	}
}

func TestSumDeltas(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user-1", "raffle-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(7))

	sum, err := store.SumDeltas(context.Background(), "user-1", "raffle-1")
	if err != nil {
		t.Fatalf("sum deltas: %v", err)
	}
	if sum != 7 {
		t.Errorf("sum = %d, want 7", sum)
	}
}

func TestApplyIssuanceRollsBackOnTicketFailure(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tickets").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := store.ApplyIssuance(context.Background(),
		ledger.Entry{
			UserID: "user-1", RaffleID: "raffle-1", Delta: 1, Balance: 1,
			Source: ticket.SourceRedemption, SourceRef: "evt-1", CreatedAt: now,
		},
		[]ticket.Ticket{{
			UserID: "user-1", RaffleID: "raffle-1", Number: "RF-X-000001",
			Status: ticket.StatusActive, Source: ticket.SourceRedemption,
			SourceRef: "evt-1", IssuedAt: now, UpdatedAt: now,
		}},
		raffle.Raffle{ID: "raffle-1"})
	if err == nil {
		t.Fatal("expected ticket insert failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteDrawRejectsNonDrawingRaffle(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "name", "type", "status", "registration_start", "registration_end", "draw_date",
		"rules", "prize_pool", "eligibility", "tags", "current_participants", "total_tickets_issued",
		"created_by", "notes", "created_at", "updated_at", "archived_at",
	}
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM raffles WHERE id .+ FOR UPDATE").
		WithArgs("raffle-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"raffle-1", "Weekly", "weekly", "completed", now, now, now,
			[]byte(`{}`), []byte(`[]`), []byte(`{}`), "{}", 0, 0,
			"", "", now, now, now,
		))
	mock.ExpectRollback()

	_, err := store.CompleteDraw(context.Background(), raffle.Raffle{ID: "raffle-1"}, nil, now)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r, err := raffle.New("integration", raffle.TypeWeekly, raffle.Schedule{
		RegistrationStart: now,
		RegistrationEnd:   now.Add(time.Hour),
		DrawDate:          now.Add(2 * time.Hour),
	}, raffle.Rules{}, "test", now)
	if err != nil {
		t.Fatalf("new raffle: %v", err)
	}

	created, err := store.CreateRaffle(ctx, r)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	got, err := store.GetRaffle(ctx, created.ID)
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	if got.Name != "integration" || got.Status != raffle.StatusDraft {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
