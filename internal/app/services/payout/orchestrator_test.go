package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage/memory"
)

type mockSender struct {
	mu        sync.Mutex
	balance   float64
	failTo    map[string]error
	transfers []mockTransfer
	seq       int
}

type mockTransfer struct {
	To     string
	Amount float64
}

func (m *mockSender) Balance(ctx context.Context, account string) (float64, error) {
	return m.balance, nil
}

func (m *mockSender) Transfer(ctx context.Context, from, to string, amount float64) (TransferReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTo[to]; ok {
		return TransferReceipt{}, err
	}
	m.seq++
	m.transfers = append(m.transfers, mockTransfer{To: to, Amount: amount})
	return TransferReceipt{Reference: fmt.Sprintf("tx-%d", m.seq), SubmittedAt: time.Now().UTC()}, nil
}

func seedRecords(t *testing.T, store *memory.Store, amounts map[string]float64) []draw.WinRecord {
	t.Helper()
	records := make([]draw.WinRecord, 0, len(amounts))
	for wallet, amount := range amounts {
		records = append(records, draw.WinRecord{
			TicketID:      "ticket-" + wallet,
			DrawID:        "draw-1",
			OwnerID:       "owner-" + wallet,
			WalletAddress: wallet,
			MatchCount:    3,
			Tier:          draw.TierSix,
			Amount:        amount,
		})
	}
	created, err := store.CreateWinRecords(context.Background(), records)
	if err != nil {
		t.Fatalf("create win records: %v", err)
	}
	return created
}

func TestDisburse_PartialFailureIsolatesWinners(t *testing.T) {
	store := memory.New()
	records := seedRecords(t, store, map[string]float64{
		"wallet-a": 10,
		"wallet-b": 20,
		"wallet-c": 30,
	})

	sender := &mockSender{
		balance: 1000,
		failTo:  map[string]error{"wallet-b": errors.New("node rejected transaction")},
	}
	orch := New(sender, store, Config{Treasury: "treasury", Concurrency: 2, RatePerSec: 1000}, nil)

	result, err := orch.Disburse(context.Background(), records)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if result.Paid != 2 || result.Failed != 1 {
		t.Fatalf("unexpected counts: paid=%d failed=%d", result.Paid, result.Failed)
	}
	if result.TotalPaid < 39.999 || result.TotalPaid > 40.001 {
		t.Fatalf("unexpected total paid: %v", result.TotalPaid)
	}

	stored, err := store.ListWinRecords(context.Background(), "draw-1")
	if err != nil {
		t.Fatalf("list win records: %v", err)
	}
	for _, rec := range stored {
		if rec.WalletAddress == "wallet-b" {
			if rec.Disbursed {
				t.Fatalf("failed winner marked disbursed")
			}
			if rec.FailureReason == "" {
				t.Fatalf("failure reason not recorded")
			}
			continue
		}
		if !rec.Disbursed {
			t.Fatalf("winner %s not disbursed", rec.WalletAddress)
		}
		if rec.PayoutRef == "" {
			t.Fatalf("winner %s missing payout reference", rec.WalletAddress)
		}
		if rec.DisbursedAt.IsZero() {
			t.Fatalf("winner %s missing disbursement time", rec.WalletAddress)
		}
	}
}

func TestDisburse_SkipsAlreadyPaid(t *testing.T) {
	store := memory.New()
	records := seedRecords(t, store, map[string]float64{
		"wallet-a": 10,
		"wallet-b": 20,
	})

	paid := records[0]
	paid.Disbursed = true
	paid.PayoutRef = "tx-prev"
	paid.DisbursedAt = time.Now().UTC()
	if _, err := store.UpdateWinRecord(context.Background(), paid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	records[0] = paid

	sender := &mockSender{balance: 1000}
	orch := New(sender, store, Config{Treasury: "treasury", RatePerSec: 1000}, nil)

	result, err := orch.Disburse(context.Background(), records)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if result.Attempted != 1 || result.Paid != 1 {
		t.Fatalf("already-paid record re-attempted: %+v", result)
	}
	if len(sender.transfers) != 1 {
		t.Fatalf("expected exactly one transfer, got %d", len(sender.transfers))
	}
	if sender.transfers[0].To != records[1].WalletAddress {
		t.Fatalf("transfer went to wrong wallet: %s", sender.transfers[0].To)
	}
}

func TestDisburse_InsufficientFundsFailsBeforeTransfers(t *testing.T) {
	store := memory.New()
	records := seedRecords(t, store, map[string]float64{
		"wallet-a": 60,
		"wallet-b": 50,
	})

	sender := &mockSender{balance: 100}
	orch := New(sender, store, Config{Treasury: "treasury", RatePerSec: 1000}, nil)

	_, err := orch.Disburse(context.Background(), records)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(sender.transfers) != 0 {
		t.Fatalf("transfers attempted despite failed pre-flight check")
	}
}

func TestDisburse_ZeroAmountClosedWithoutTransfer(t *testing.T) {
	store := memory.New()
	records := seedRecords(t, store, map[string]float64{"wallet-a": 0})

	sender := &mockSender{balance: 0}
	orch := New(sender, store, Config{Treasury: "treasury", RatePerSec: 1000}, nil)

	result, err := orch.Disburse(context.Background(), records)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if result.Paid != 1 {
		t.Fatalf("zero-value record not closed: %+v", result)
	}
	if len(sender.transfers) != 0 {
		t.Fatalf("zero-value record triggered a transfer")
	}

	stored, err := store.GetWinRecord(context.Background(), records[0].ID)
	if err != nil {
		t.Fatalf("get win record: %v", err)
	}
	if !stored.Disbursed {
		t.Fatalf("zero-value record left open")
	}
}

func TestDisburse_EmptyBatch(t *testing.T) {
	store := memory.New()
	sender := &mockSender{balance: 0}
	orch := New(sender, store, Config{Treasury: "treasury"}, nil)

	result, err := orch.Disburse(context.Background(), nil)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if result.Attempted != 0 || result.Paid != 0 || result.Failed != 0 {
		t.Fatalf("unexpected result for empty batch: %+v", result)
	}
}
