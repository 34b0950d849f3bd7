package memory

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
)

func TestPotConditionalUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()

	p, err := store.UpdatePotBalance(ctx, 100, 0)
	if err != nil {
		t.Fatalf("credit pot: %v", err)
	}
	if p.Balance != 100 {
		t.Fatalf("unexpected balance: %v", p.Balance)
	}

	// A stale expected value must be rejected, not applied.
	if _, err := store.UpdatePotBalance(ctx, -10, 50); !errors.Is(err, storage.ErrStalePot) {
		t.Fatalf("stale update accepted: %v", err)
	}
	p, err = store.GetPot(ctx)
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if p.Balance != 100 {
		t.Fatalf("balance changed by rejected update: %v", p.Balance)
	}

	// Draining below zero is rejected distinctly even with the right
	// expected value, so callers do not retry it as a race.
	if _, err := store.UpdatePotBalance(ctx, -150, 100); !errors.Is(err, storage.ErrInsufficientPot) {
		t.Fatalf("overdraw not reported as insufficient: %v", err)
	}
	p, err = store.GetPot(ctx)
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if p.Balance != 100 {
		t.Fatalf("balance changed by rejected overdraw: %v", p.Balance)
	}
}

func TestPotConcurrentSalesLoseNoUpdates(t *testing.T) {
	store := New()
	ctx := context.Background()

	const sellers = 50
	var wg sync.WaitGroup
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				current, err := store.GetPot(ctx)
				if err != nil {
					t.Errorf("get pot: %v", err)
					return
				}
				_, err = store.RecordTicketSale(ctx, 1.0, current.Balance)
				if err == nil {
					return
				}
				if !errors.Is(err, storage.ErrStalePot) {
					t.Errorf("record sale: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	p, err := store.GetPot(ctx)
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if p.TicketsSold != sellers || p.LifetimeTickets != sellers {
		t.Fatalf("sold counters lost updates: %+v", p)
	}
	if math.Abs(p.Balance-float64(sellers)) > 1e-6 {
		t.Fatalf("balance lost updates: %v", p.Balance)
	}
}

func TestRetainRevenueMovesBalance(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.UpdatePotBalance(ctx, 40, 0); err != nil {
		t.Fatalf("seed pot: %v", err)
	}
	p, err := store.RetainRevenue(ctx, 15, 40)
	if err != nil {
		t.Fatalf("retain revenue: %v", err)
	}
	if math.Abs(p.Balance-25) > 1e-9 || math.Abs(p.LifetimeRevenue-15) > 1e-9 {
		t.Fatalf("unexpected pot after retain: %+v", p)
	}

	// More than the balance cannot be retained.
	if _, err := store.RetainRevenue(ctx, 100, 25); !errors.Is(err, storage.ErrInsufficientPot) {
		t.Fatalf("over-retain not reported as insufficient: %v", err)
	}
}

func TestTicketQueries(t *testing.T) {
	store := New()
	ctx := context.Background()

	old, err := store.CreateTicket(ctx, ticket.Ticket{OwnerID: "alice", WalletAddress: "w1", Numbers: []int{1, 2, 3, 4, 5}, Powerball: 1})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if old.ID == "" || old.CreatedAt.IsZero() {
		t.Fatalf("ticket not initialised: %+v", old)
	}

	if _, err := store.GetTicket(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.CreateTicket(ctx, ticket.Ticket{OwnerID: "bob", WalletAddress: "w2", Numbers: []int{6, 7, 8, 9, 10}, Powerball: 2}); err != nil {
		t.Fatalf("create second ticket: %v", err)
	}

	mine, err := store.ListTicketsByOwner(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(mine) != 1 || mine[0].OwnerID != "alice" {
		t.Fatalf("unexpected owner listing: %+v", mine)
	}

	all, err := store.ListEligibleTickets(ctx, time.Time{})
	if err != nil {
		t.Fatalf("list eligible: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both tickets eligible, got %d", len(all))
	}

	none, err := store.ListEligibleTickets(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list eligible future: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("future window should exclude all tickets, got %d", len(none))
	}
}

func TestWinRecordBatchAndUnpaidListing(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateWinRecords(ctx, []draw.WinRecord{
		{TicketID: "t1", DrawID: "d1", OwnerID: "o1", WalletAddress: "w1", Tier: draw.TierJackpot, Amount: 85},
		{TicketID: "t2", DrawID: "d1", OwnerID: "o2", WalletAddress: "w2", Tier: draw.TierSix, Amount: 1.7},
	})
	if err != nil {
		t.Fatalf("create win records: %v", err)
	}
	for _, rec := range created {
		if rec.ID == "" {
			t.Fatalf("record id not assigned: %+v", rec)
		}
	}

	paid := created[0]
	paid.Disbursed = true
	paid.PayoutRef = "tx-1"
	paid.DisbursedAt = time.Now().UTC()
	if _, err := store.UpdateWinRecord(ctx, paid); err != nil {
		t.Fatalf("update win record: %v", err)
	}

	unpaid, err := store.ListUnpaidWinRecords(ctx, "d1")
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(unpaid) != 1 || unpaid[0].ID != created[1].ID {
		t.Fatalf("unexpected unpaid set: %+v", unpaid)
	}

	all, err := store.ListWinRecords(ctx, "d1")
	if err != nil {
		t.Fatalf("list win records: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both records, got %d", len(all))
	}
	// Ordered by tier, jackpot first.
	if all[0].Tier != draw.TierJackpot {
		t.Fatalf("records not ordered by tier: %+v", all)
	}

	missing := created[0]
	missing.ID = "no-such-record"
	if _, err := store.UpdateWinRecord(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDrawListingNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateDraw(ctx, draw.Draw{WinningNumbers: []int{1, 2, 3, 4, 5}, Powerball: 1, DrawnAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("create draw: %v", err)
	}
	second, err := store.CreateDraw(ctx, draw.Draw{WinningNumbers: []int{6, 7, 8, 9, 10}, Powerball: 2, DrawnAt: time.Now()})
	if err != nil {
		t.Fatalf("create draw: %v", err)
	}

	draws, err := store.ListDraws(ctx, 1)
	if err != nil {
		t.Fatalf("list draws: %v", err)
	}
	if len(draws) != 1 || draws[0].ID != second.ID {
		t.Fatalf("limit or ordering wrong: %+v", draws)
	}

	got, err := store.GetDraw(ctx, first.ID)
	if err != nil {
		t.Fatalf("get draw: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("wrong draw returned: %+v", got)
	}
}
