package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/payout"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage/memory"
)

// fixedGenerator persists a predetermined winning combination.
type fixedGenerator struct {
	store   *memory.Store
	numbers []int
	pb      int
	gate    chan struct{} // when non-nil, Generate blocks until closed
	entered chan struct{} // closed on first Generate call
}

func (g *fixedGenerator) Generate(ctx context.Context) (draw.Draw, error) {
	if g.entered != nil {
		close(g.entered)
		g.entered = nil
	}
	if g.gate != nil {
		<-g.gate
	}
	return g.store.CreateDraw(ctx, draw.Draw{
		WinningNumbers: g.numbers,
		Powerball:      g.pb,
		DrawnAt:        time.Now().UTC(),
	})
}

type fakeSender struct {
	mu        sync.Mutex
	balance   float64
	failTo    map[string]error
	transfers map[string]int
	seq       int
}

func newFakeSender(balance float64) *fakeSender {
	return &fakeSender{balance: balance, failTo: map[string]error{}, transfers: map[string]int{}}
}

func (f *fakeSender) Balance(ctx context.Context, account string) (float64, error) {
	return f.balance, nil
}

func (f *fakeSender) Transfer(ctx context.Context, from, to string, amount float64) (payout.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[to]; ok {
		return payout.TransferReceipt{}, err
	}
	f.transfers[to]++
	f.seq++
	return payout.TransferReceipt{Reference: fmt.Sprintf("tx-%d", f.seq), SubmittedAt: time.Now().UTC()}, nil
}

func buyTicket(t *testing.T, store *memory.Store, wallet string, numbers []int, pb int) ticket.Ticket {
	t.Helper()
	bought, err := store.CreateTicket(context.Background(), ticket.Ticket{
		OwnerID:       "owner-" + wallet,
		WalletAddress: wallet,
		Numbers:       numbers,
		Powerball:     pb,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return bought
}

func seedPot(t *testing.T, store *memory.Store, balance float64) {
	t.Helper()
	if _, err := store.UpdatePotBalance(context.Background(), balance, 0); err != nil {
		t.Fatalf("seed pot: %v", err)
	}
}

func newController(store *memory.Store, sender *fakeSender, cfg Config) *Service {
	gen := &fixedGenerator{store: store, numbers: []int{1, 2, 3, 4, 5}, pb: 1}
	orch := payout.New(sender, store, payout.Config{Treasury: "treasury", RatePerSec: 1000}, nil)
	return New(gen, store, store, store, orch, nil, cfg, nil)
}

func TestRun_JackpotCycle(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 100)
	buyTicket(t, store, "wallet-jackpot", []int{1, 2, 3, 4, 5}, 1)
	buyTicket(t, store, "wallet-loser", []int{10, 11, 12, 13, 14}, 9)

	sender := newFakeSender(1000)
	svc := newController(store, sender, Config{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Phase != PhaseDone {
		t.Fatalf("unexpected phase: %s", result.Phase)
	}
	if result.WinnerCount != 1 || result.Paid != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if math.Abs(result.TotalDisbursed-85.0) > 1e-6 {
		t.Fatalf("jackpot should pay 85, paid %v", result.TotalDisbursed)
	}

	records, err := store.ListWinRecords(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("list win records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one win record, got %d", len(records))
	}
	rec := records[0]
	if rec.Tier != draw.TierJackpot || !rec.Disbursed || rec.PayoutRef == "" {
		t.Fatalf("win record not settled: %+v", rec)
	}
	if math.Abs(rec.Amount-85.0) > 1e-6 {
		t.Fatalf("unexpected amount: %v", rec.Amount)
	}

	p, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if math.Abs(p.Balance-15.0) > 1e-6 {
		t.Fatalf("pot should keep undisbursed remainder, got %v", p.Balance)
	}
	if p.TicketsSold != 0 {
		t.Fatalf("sold counter not reset: %d", p.TicketsSold)
	}
}

func TestRun_NoEligibleTickets(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 50)

	sender := newFakeSender(1000)
	svc := newController(store, sender, Config{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Phase != PhaseDone || result.WinnerCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Draw.ID == "" {
		t.Fatalf("draw should still be recorded")
	}

	records, err := store.ListWinRecords(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("list win records: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("no win records expected, got %d", len(records))
	}

	p, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if math.Abs(p.Balance-50.0) > 1e-9 {
		t.Fatalf("pot should be untouched, got %v", p.Balance)
	}
	if len(sender.transfers) != 0 {
		t.Fatalf("no transfers expected")
	}
}

func TestRun_SingleFlight(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 10)

	gate := make(chan struct{})
	entered := make(chan struct{})
	gen := &fixedGenerator{store: store, numbers: []int{1, 2, 3, 4, 5}, pb: 1, gate: gate, entered: entered}
	sender := newFakeSender(1000)
	orch := payout.New(sender, store, payout.Config{Treasury: "treasury", RatePerSec: 1000}, nil)
	svc := New(gen, store, store, store, orch, nil, Config{}, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background())
		errCh <- err
	}()
	<-entered

	if _, err := svc.Run(context.Background()); !errors.Is(err, ErrSettlementInFlight) {
		t.Fatalf("second trigger should be rejected, got %v", err)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("first run: %v", err)
	}

	draws, err := store.ListDraws(context.Background(), 0)
	if err != nil {
		t.Fatalf("list draws: %v", err)
	}
	if len(draws) != 1 {
		t.Fatalf("expected exactly one draw, got %d", len(draws))
	}
}

func TestRun_PartialPayoutReducesPotByPaidOnly(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 100)
	// Three tier-six winners: 3 matched numbers, no powerball.
	buyTicket(t, store, "wallet-a", []int{1, 2, 3, 20, 21}, 9)
	buyTicket(t, store, "wallet-b", []int{1, 2, 3, 22, 23}, 9)
	buyTicket(t, store, "wallet-c", []int{1, 2, 3, 24, 25}, 9)

	sender := newFakeSender(1000)
	sender.failTo["wallet-b"] = errors.New("rpc node unavailable")
	svc := newController(store, sender, Config{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Paid != 2 || result.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	perWinner := 100 * 0.85 * 0.02 / 3
	wantPaid := 2 * perWinner
	if math.Abs(result.TotalDisbursed-wantPaid) > 1e-6 {
		t.Fatalf("disbursed %v, want %v", result.TotalDisbursed, wantPaid)
	}

	p, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if math.Abs(p.Balance-(100-wantPaid)) > 1e-6 {
		t.Fatalf("pot reduced by %v, want %v", 100-p.Balance, wantPaid)
	}

	unpaid, err := store.ListUnpaidWinRecords(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(unpaid) != 1 || unpaid[0].WalletAddress != "wallet-b" {
		t.Fatalf("unexpected unpaid set: %+v", unpaid)
	}
	if unpaid[0].FailureReason == "" {
		t.Fatalf("failure reason missing")
	}
}

func TestRetryPayouts_PaysOnlyUnpaid(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 100)
	buyTicket(t, store, "wallet-a", []int{1, 2, 3, 20, 21}, 9)
	buyTicket(t, store, "wallet-b", []int{1, 2, 3, 22, 23}, 9)

	sender := newFakeSender(1000)
	sender.failTo["wallet-b"] = errors.New("transient rpc error")
	svc := newController(store, sender, Config{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", result)
	}
	potAfterRun, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}

	// The outage clears; the retry pass pays only wallet-b.
	sender.mu.Lock()
	delete(sender.failTo, "wallet-b")
	sender.mu.Unlock()

	batch, err := svc.RetryPayouts(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if batch.Paid != 1 || batch.Failed != 0 {
		t.Fatalf("unexpected retry result: %+v", batch)
	}
	if sender.transfers["wallet-a"] != 1 || sender.transfers["wallet-b"] != 1 {
		t.Fatalf("transfer counts wrong: %+v", sender.transfers)
	}

	perWinner := 100 * 0.85 * 0.02 / 2
	p, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if math.Abs(p.Balance-(potAfterRun.Balance-perWinner)) > 1e-6 {
		t.Fatalf("pot not reduced by retried payment: %v", p.Balance)
	}

	unpaid, err := store.ListUnpaidWinRecords(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(unpaid) != 0 {
		t.Fatalf("unpaid records remain: %+v", unpaid)
	}

	// A second retry pass finds nothing to pay.
	again, err := svc.RetryPayouts(context.Background(), result.Draw.ID)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if again.Attempted != 0 {
		t.Fatalf("second retry attempted transfers: %+v", again)
	}
	if sender.transfers["wallet-b"] != 1 {
		t.Fatalf("winner double-paid")
	}
}

func TestRetryPayouts_PotShortfallClampsDeduction(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// A prior draw left an unpaid claim, and later draws have since spent
	// most of the pot: the claim is bigger than what the pot still holds.
	d, err := store.CreateDraw(ctx, draw.Draw{WinningNumbers: []int{1, 2, 3, 4, 5}, Powerball: 1, DrawnAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create draw: %v", err)
	}
	if _, err := store.CreateWinRecords(ctx, []draw.WinRecord{{
		TicketID:      "t1",
		DrawID:        d.ID,
		OwnerID:       "owner-a",
		WalletAddress: "wallet-a",
		Tier:          draw.TierJackpot,
		Amount:        42.5,
	}}); err != nil {
		t.Fatalf("create win record: %v", err)
	}
	seedPot(t, store, 10)

	sender := newFakeSender(1000)
	svc := newController(store, sender, Config{})

	retryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	batch, err := svc.RetryPayouts(retryCtx, d.ID)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if batch.Paid != 1 || sender.transfers["wallet-a"] != 1 {
		t.Fatalf("winner not paid: %+v transfers=%v", batch, sender.transfers)
	}

	// The ledger gives up what it has instead of spinning on the shortfall.
	p, err := store.GetPot(ctx)
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	if math.Abs(p.Balance) > 1e-9 {
		t.Fatalf("pot should be drained to zero, got %v", p.Balance)
	}

	unpaid, err := store.ListUnpaidWinRecords(ctx, d.ID)
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(unpaid) != 0 {
		t.Fatalf("claim still open after payment: %+v", unpaid)
	}
}

func TestRun_RetainPolicySweepsUnclaimedFunds(t *testing.T) {
	store := memory.New()
	seedPot(t, store, 100)
	buyTicket(t, store, "wallet-jackpot", []int{1, 2, 3, 4, 5}, 1)

	sender := newFakeSender(1000)
	svc := newController(store, sender, Config{ResiduePolicy: ResidueRetain})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if math.Abs(result.TotalDisbursed-85.0) > 1e-6 {
		t.Fatalf("unexpected disbursement: %v", result.TotalDisbursed)
	}

	p, err := store.GetPot(context.Background())
	if err != nil {
		t.Fatalf("get pot: %v", err)
	}
	// 85 paid out, 15 house share swept, nothing rolls over.
	if math.Abs(p.Balance) > 1e-6 {
		t.Fatalf("pot should be empty under retain policy, got %v", p.Balance)
	}
	if p.LifetimeRevenue < 15.0-1e-6 {
		t.Fatalf("revenue not recorded: %v", p.LifetimeRevenue)
	}
}
