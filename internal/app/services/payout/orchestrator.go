// Package payout drives prize disbursement for a settled draw. Transfers are
// independent per winner: one failure never blocks or rolls back another
// winner's payment, and a failed batch can be re-run idempotently.
package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/metrics"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Epsilon bounds float comparisons on transfer amounts.
const Epsilon = 1e-9

// ErrInsufficientFunds fails a batch before any transfer is attempted: the
// funding wallet cannot cover the aggregate of pending amounts. This is an
// operator-actionable condition requiring a treasury top-up.
var ErrInsufficientFunds = errors.New("treasury balance below pending payout total")

// TransferReceipt is the verifiable result of a successful transfer.
type TransferReceipt struct {
	Reference   string
	SubmittedAt time.Time
}

// PaymentSender abstracts the on-chain transfer primitive. Implementations
// may fail, time out, or succeed with a reference; a timeout is a failure
// requiring reconciliation, never an assumed success.
type PaymentSender interface {
	Balance(ctx context.Context, account string) (float64, error)
	Transfer(ctx context.Context, from, to string, amount float64) (TransferReceipt, error)
}

// Outcome records the result of one winner's payout attempt.
type Outcome struct {
	WinRecordID string
	OwnerID     string
	Amount      float64
	Paid        bool
	Reference   string
	Reason      string
}

// BatchResult summarises one disbursement pass.
type BatchResult struct {
	Attempted int
	Paid      int
	Failed    int
	TotalPaid float64
	Outcomes  []Outcome
}

// Config tunes orchestrator behaviour.
type Config struct {
	Treasury    string        // funding wallet address
	Concurrency int           // max parallel transfers
	Timeout     time.Duration // per-transfer deadline
	RatePerSec  float64       // transfer submission rate limit
}

// Orchestrator executes payout batches against the payment sender.
type Orchestrator struct {
	sender  PaymentSender
	records storage.WinRecordStore
	limiter *rate.Limiter
	cfg     Config
	log     *logger.Logger
}

// New constructs a payout orchestrator.
func New(sender PaymentSender, records storage.WinRecordStore, cfg Config, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("payout")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Orchestrator{
		sender:  sender,
		records: records,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:     cfg,
		log:     log,
	}
}

// Disburse pays every unpaid record in the batch. Records already marked
// disbursed are skipped, never re-transferred, so re-running after a partial
// failure is safe. The pre-flight balance check gates the whole batch
// against one consistent snapshot; once admitted, per-winner outcomes are
// independent.
func (o *Orchestrator) Disburse(ctx context.Context, batch []draw.WinRecord) (BatchResult, error) {
	pending := make([]draw.WinRecord, 0, len(batch))
	var total float64
	for _, rec := range batch {
		if rec.Disbursed {
			continue
		}
		pending = append(pending, rec)
		total += rec.Amount
	}

	result := BatchResult{Attempted: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	if total > Epsilon {
		balance, err := o.sender.Balance(ctx, o.cfg.Treasury)
		if err != nil {
			return result, fmt.Errorf("treasury balance check: %w", err)
		}
		if balance+Epsilon < total {
			return result, fmt.Errorf("%w: have %v, need %v", ErrInsufficientFunds, balance, total)
		}
	}

	outcomes := make([]Outcome, len(pending))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, rec := range pending {
		wg.Add(1)
		go func(i int, rec draw.WinRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = o.payOne(ctx, rec)
		}(i, rec)
	}
	wg.Wait()

	for _, out := range outcomes {
		if out.Paid {
			result.Paid++
			result.TotalPaid += out.Amount
		} else {
			result.Failed++
		}
	}
	result.Outcomes = outcomes

	o.log.WithField("attempted", result.Attempted).
		WithField("paid", result.Paid).
		WithField("failed", result.Failed).
		WithField("total_paid", result.TotalPaid).
		Info("payout batch finished")

	return result, nil
}

func (o *Orchestrator) payOne(ctx context.Context, rec draw.WinRecord) Outcome {
	out := Outcome{WinRecordID: rec.ID, OwnerID: rec.OwnerID, Amount: rec.Amount}

	// A zero-value prize has nothing to transfer; close out the record so
	// retry passes do not pick it up again.
	if rec.Amount <= Epsilon {
		rec.Disbursed = true
		rec.DisbursedAt = time.Now().UTC()
		if _, err := o.records.UpdateWinRecord(ctx, rec); err != nil {
			out.Reason = fmt.Sprintf("close zero-value record: %v", err)
			return out
		}
		out.Paid = true
		metrics.RecordPayout("paid_zero", 0)
		return out
	}

	if err := o.limiter.Wait(ctx); err != nil {
		out.Reason = fmt.Sprintf("rate limiter: %v", err)
		o.recordFailure(ctx, rec, out.Reason)
		return out
	}

	transferCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	receipt, err := o.sender.Transfer(transferCtx, o.cfg.Treasury, rec.WalletAddress, rec.Amount)
	if err != nil {
		out.Reason = err.Error()
		metrics.RecordPayout("failed", rec.Amount)
		o.recordFailure(ctx, rec, out.Reason)
		o.log.WithError(err).
			WithField("win_record_id", rec.ID).
			WithField("amount", rec.Amount).
			Warn("prize transfer failed")
		return out
	}

	rec.Disbursed = true
	rec.PayoutRef = receipt.Reference
	rec.FailureReason = ""
	rec.DisbursedAt = receipt.SubmittedAt
	if rec.DisbursedAt.IsZero() {
		rec.DisbursedAt = time.Now().UTC()
	}

	if _, err := o.records.UpdateWinRecord(ctx, rec); err != nil {
		// Funds moved but the ledger write failed. Report the payment as
		// made and flag it loudly: a retry pass must not run until the
		// record is reconciled by hand.
		o.log.WithError(err).
			WithField("win_record_id", rec.ID).
			WithField("payout_ref", receipt.Reference).
			Error("transfer succeeded but win record update failed; manual reconciliation required")
		out.Paid = true
		out.Reference = receipt.Reference
		out.Reason = "ledger update failed after transfer"
		return out
	}

	out.Paid = true
	out.Reference = receipt.Reference
	metrics.RecordPayout("paid", rec.Amount)
	return out
}

func (o *Orchestrator) recordFailure(ctx context.Context, rec draw.WinRecord, reason string) {
	rec.Disbursed = false
	rec.FailureReason = reason
	if _, err := o.records.UpdateWinRecord(ctx, rec); err != nil {
		o.log.WithError(err).
			WithField("win_record_id", rec.ID).
			Warn("record payout failure")
	}
}
