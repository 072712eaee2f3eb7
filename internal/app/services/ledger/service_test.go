package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raffleworks/raffle-engine/internal/app/domain/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/domain/prize"
	"github.com/raffleworks/raffle-engine/internal/app/domain/raffle"
	"github.com/raffleworks/raffle-engine/internal/app/domain/ticket"
	"github.com/raffleworks/raffle-engine/internal/app/events"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
	"github.com/raffleworks/raffle-engine/internal/app/storage/memory"
)

var issueTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, rules raffle.Rules) (*Service, *memory.Store, *events.MemoryBus, raffle.Raffle) {
	t.Helper()
	store := memory.New()
	bus := events.NewMemoryBus(100)
	svc := New(store, bus, nil).WithClock(func() time.Time { return issueTime })
	return svc, store, bus, seedActiveRaffle(t, store, rules)
}

func seedActiveRaffle(t *testing.T, store storage.RaffleStore, rules raffle.Rules) raffle.Raffle {
	t.Helper()
	r, err := raffle.New("Ledger Test", raffle.TypeWeekly, raffle.Schedule{
		RegistrationStart: issueTime.Add(-time.Hour),
		RegistrationEnd:   issueTime.Add(time.Hour),
		DrawDate:          issueTime.Add(2 * time.Hour),
	}, rules, "ops", issueTime.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("new raffle: %v", err)
	}
	r.PrizePool = []prize.Prize{{ID: "p", Tier: 1, Type: prize.TypeCash, Description: "x", Value: 1, Quantity: 1}}
	active, err := r.Activate(issueTime.Add(-90 * time.Minute))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	active, err = store.CreateRaffle(context.Background(), active)
	if err != nil {
		t.Fatalf("create raffle: %v", err)
	}
	if active.ID == "" {
		t.Fatal("created raffle has no id")
	}
	return active
}

func TestIssueTickets(t *testing.T) {
	svc, store, bus, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	res, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 3,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(res.Tickets) != 3 || res.Balance != 3 || !res.NewParticipant || res.Duplicate {
		t.Errorf("result = %+v", res)
	}
	for _, tk := range res.Tickets {
		if !ticket.ValidNumber(tk.Number) {
			t.Errorf("invalid ticket number %q", tk.Number)
		}
	}

	updated, err := store.GetRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	if updated.Stats.TotalTicketsIssued != 3 || updated.Stats.CurrentParticipants != 1 {
		t.Errorf("stats = %+v", updated.Stats)
	}

	issued := bus.RecentByType(events.TypeTicketsIssued, 10)
	if len(issued) != 1 {
		t.Fatalf("tickets issued events = %d, want 1", len(issued))
	}
}

func TestBalanceEqualsSumOfDeltas(t *testing.T) {
	svc, _, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := svc.IssueTickets(ctx, IssueRequest{
			UserID: "user-1", RaffleID: r.ID, Count: i,
			Source: ticket.SourcePurchase, SourceRef: fmt.Sprintf("order-%d", i),
		}); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	balance, err := svc.GetBalance(ctx, "user-1", r.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	entries, err := svc.ListEntries(ctx, "user-1", r.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	if balance != sum || balance != 10 {
		t.Errorf("balance = %d, sum = %d, want 10", balance, sum)
	}
}

func TestIssueTicketsIdempotentReplay(t *testing.T) {
	svc, store, bus, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()
	req := IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 2,
		Source: ticket.SourceRedemption, SourceRef: "evt-dup",
	}

	first, err := svc.IssueTickets(ctx, req)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := svc.IssueTickets(ctx, req)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if !second.Duplicate {
		t.Error("redelivery not flagged as duplicate")
	}
	if second.Balance != first.Balance {
		t.Errorf("balance changed on redelivery: %d -> %d", first.Balance, second.Balance)
	}
	if len(second.Tickets) != len(first.Tickets) {
		t.Errorf("ticket count changed on redelivery: %d -> %d", len(first.Tickets), len(second.Tickets))
	}
	if second.Entry.ID != first.Entry.ID {
		t.Error("redelivery returned a different ledger entry")
	}

	all, err := store.ListTicketsByRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("stored tickets = %d, want 2", len(all))
	}
	if got := len(bus.RecentByType(events.TypeTicketsIssued, 10)); got != 1 {
		t.Errorf("tickets issued events = %d, want 1", got)
	}
}

func TestIssueTicketsPerUserCap(t *testing.T) {
	svc, _, _, r := newFixture(t, raffle.Rules{MaxTicketsPerUser: 5})
	ctx := context.Background()

	if _, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 4,
		Source: ticket.SourcePurchase, SourceRef: "order-1",
	}); err != nil {
		t.Fatalf("first issue: %v", err)
	}

	_, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 2,
		Source: ticket.SourcePurchase, SourceRef: "order-2",
	})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("err = %v, want ErrLimitExceeded", err)
	}

	// The failed attempt must leave no partial state behind.
	balance, err := svc.GetBalance(ctx, "user-1", r.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 4 {
		t.Errorf("balance = %d, want 4", balance)
	}
}

func TestIssueTicketsClosedRegistration(t *testing.T) {
	svc, _, _, r := newFixture(t, raffle.Rules{})
	svc.WithClock(func() time.Time { return issueTime.Add(2 * time.Hour) })

	_, err := svc.IssueTickets(context.Background(), IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 1,
		Source: ticket.SourceRedemption, SourceRef: "late",
	})
	if !errors.Is(err, ErrRaffleNotAcceptingEntries) {
		t.Fatalf("err = %v, want ErrRaffleNotAcceptingEntries", err)
	}
}

func TestIssueTicketsValidation(t *testing.T) {
	svc, _, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	bad := []IssueRequest{
		{RaffleID: r.ID, Count: 1, Source: ticket.SourceRedemption, SourceRef: "x"},
		{UserID: "u", Count: 1, Source: ticket.SourceRedemption, SourceRef: "x"},
		{UserID: "u", RaffleID: r.ID, Count: 1, Source: ticket.SourceRedemption},
		{UserID: "u", RaffleID: r.ID, Count: 0, Source: ticket.SourceRedemption, SourceRef: "x"},
	}
	for i, req := range bad {
		if _, err := svc.IssueTickets(ctx, req); !errors.Is(err, ErrValidation) {
			t.Errorf("request %d: err = %v, want ErrValidation", i, err)
		}
	}
}

func TestConcurrentIssuanceHonorsParticipantCap(t *testing.T) {
	svc, store, _, r := newFixture(t, raffle.Rules{MaxParticipants: 2})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.IssueTickets(ctx, IssueRequest{
				UserID:    fmt.Sprintf("user-%c", 'a'+i),
				RaffleID:  r.ID,
				Count:     1,
				Source:    ticket.SourceRedemption,
				SourceRef: fmt.Sprintf("evt-%d", i),
			})
		}(i)
	}
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, ErrLimitExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("rejections = %d, want exactly 1", rejected)
	}

	updated, err := store.GetRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	if updated.Stats.CurrentParticipants != 2 {
		t.Errorf("participants = %d, want 2", updated.Stats.CurrentParticipants)
	}
}

func TestTransferTicket(t *testing.T) {
	svc, store, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	res, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "alice", RaffleID: r.ID, Count: 2,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	moved, err := svc.TransferTicket(ctx, res.Tickets[0].ID, "alice", "bob")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if moved.UserID != "bob" || moved.TransferCount != 1 {
		t.Errorf("moved = %+v", moved)
	}

	aliceBalance, _ := svc.GetBalance(ctx, "alice", r.ID)
	bobBalance, _ := svc.GetBalance(ctx, "bob", r.ID)
	if aliceBalance != 1 || bobBalance != 1 {
		t.Errorf("balances alice=%d bob=%d, want 1 and 1", aliceBalance, bobBalance)
	}

	updated, _ := store.GetRaffle(ctx, r.ID)
	if updated.Stats.CurrentParticipants != 2 {
		t.Errorf("participants = %d, want 2 after transfer to new user", updated.Stats.CurrentParticipants)
	}
}

func TestTransferTicketLastTicketMovesParticipant(t *testing.T) {
	svc, store, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	res, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "alice", RaffleID: r.ID, Count: 1,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.TransferTicket(ctx, res.Tickets[0].ID, "alice", "bob"); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	updated, _ := store.GetRaffle(ctx, r.ID)
	if updated.Stats.CurrentParticipants != 1 {
		t.Errorf("participants = %d, want 1", updated.Stats.CurrentParticipants)
	}
}

func TestTransferTicketGuards(t *testing.T) {
	svc, _, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	res, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "alice", RaffleID: r.ID, Count: 1,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id := res.Tickets[0].ID

	if _, err := svc.TransferTicket(ctx, id, "alice", "alice"); !errors.Is(err, ErrValidation) {
		t.Errorf("self transfer err = %v, want ErrValidation", err)
	}
	if _, err := svc.TransferTicket(ctx, id, "mallory", "bob"); !errors.Is(err, ErrValidation) {
		t.Errorf("non-owner transfer err = %v, want ErrValidation", err)
	}
}

// faultStore fails a configurable number of composite writes so tests can
// exercise recovery from a storage outage mid-operation.
type faultStore struct {
	*memory.Store
	issuanceFailures int
	transferFailures int
}

func (s *faultStore) ApplyIssuance(ctx context.Context, e ledger.Entry, tickets []ticket.Ticket, r raffle.Raffle) (ledger.Entry, []ticket.Ticket, error) {
	if s.issuanceFailures > 0 {
		s.issuanceFailures--
		return ledger.Entry{}, nil, errors.New("storage unavailable")
	}
	return s.Store.ApplyIssuance(ctx, e, tickets, r)
}

func (s *faultStore) ApplyTransfer(ctx context.Context, debit, credit ledger.Entry, tk ticket.Ticket, r raffle.Raffle) (ticket.Ticket, error) {
	if s.transferFailures > 0 {
		s.transferFailures--
		return ticket.Ticket{}, errors.New("storage unavailable")
	}
	return s.Store.ApplyTransfer(ctx, debit, credit, tk, r)
}

func TestIssuePersistFailureLeavesNoState(t *testing.T) {
	store := &faultStore{Store: memory.New(), issuanceFailures: 1}
	svc := New(store, nil, nil).WithClock(func() time.Time { return issueTime })
	r := seedActiveRaffle(t, store, raffle.Rules{})
	ctx := context.Background()
	req := IssueRequest{
		UserID: "user-1", RaffleID: r.ID, Count: 2,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	}

	if _, err := svc.IssueTickets(ctx, req); err == nil {
		t.Fatal("expected persistence failure")
	}

	// The failure must be all-or-nothing: no entry, no tickets, no
	// statistics drift for the redelivery to trip over.
	balance, err := svc.GetBalance(ctx, "user-1", r.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance after failed issue = %d, want 0", balance)
	}
	all, err := store.ListTicketsByRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("stored tickets after failed issue = %d, want 0", len(all))
	}
	stored, err := store.GetRaffle(ctx, r.ID)
	if err != nil {
		t.Fatalf("get raffle: %v", err)
	}
	if stored.Stats.TotalTicketsIssued != 0 || stored.Stats.CurrentParticipants != 0 {
		t.Errorf("stats after failed issue = %+v", stored.Stats)
	}

	res, err := svc.IssueTickets(ctx, req)
	if err != nil {
		t.Fatalf("redelivery after failure: %v", err)
	}
	if res.Duplicate {
		t.Error("redelivery of a failed issuance flagged as duplicate")
	}
	if len(res.Tickets) != 2 || res.Balance != 2 {
		t.Errorf("redelivery result = %+v", res)
	}
}

func TestTransferPersistFailureLeavesNoState(t *testing.T) {
	store := &faultStore{Store: memory.New(), transferFailures: 1}
	svc := New(store, nil, nil).WithClock(func() time.Time { return issueTime })
	r := seedActiveRaffle(t, store, raffle.Rules{})
	ctx := context.Background()

	res, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "alice", RaffleID: r.ID, Count: 1,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id := res.Tickets[0].ID

	if _, err := svc.TransferTicket(ctx, id, "alice", "bob"); err == nil {
		t.Fatal("expected persistence failure")
	}

	stored, err := store.GetTicket(ctx, id)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if stored.UserID != "alice" || stored.TransferCount != 0 {
		t.Errorf("ticket after failed transfer = %+v", stored)
	}
	aliceBalance, _ := svc.GetBalance(ctx, "alice", r.ID)
	bobBalance, _ := svc.GetBalance(ctx, "bob", r.ID)
	if aliceBalance != 1 || bobBalance != 0 {
		t.Errorf("balances alice=%d bob=%d, want 1 and 0", aliceBalance, bobBalance)
	}

	moved, err := svc.TransferTicket(ctx, id, "alice", "bob")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if moved.UserID != "bob" || moved.TransferCount != 1 {
		t.Errorf("moved = %+v", moved)
	}
}

func TestExpireTickets(t *testing.T) {
	svc, store, _, r := newFixture(t, raffle.Rules{})
	ctx := context.Background()

	if _, err := svc.IssueTickets(ctx, IssueRequest{
		UserID: "alice", RaffleID: r.ID, Count: 3,
		Source: ticket.SourceRedemption, SourceRef: "evt-1",
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	expired, err := svc.ExpireTickets(ctx, r.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 3 {
		t.Errorf("expired = %d, want 3", expired)
	}

	all, _ := store.ListTicketsByRaffle(ctx, r.ID)
	for _, tk := range all {
		if tk.Status != ticket.StatusExpired {
			t.Errorf("ticket %s status = %s, want expired", tk.ID, tk.Status)
		}
	}
}
