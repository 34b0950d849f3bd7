// Package settlement runs the draw settlement cycle: generate a draw,
// evaluate tickets, allocate prizes, persist the audit trail, disburse, and
// reset the ledger for the next cycle.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/pot"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/metrics"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/allocation"
	drawsvc "github.com/lampochka7181/Euromillions-back-end/internal/app/services/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/payout"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Phase names the stage a settlement run is in when it finishes or fails.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseEvaluating Phase = "evaluating"
	PhaseAllocating Phase = "allocating"
	PhasePersisting Phase = "persisting"
	PhaseDisbursing Phase = "disbursing"
	PhaseResetting  Phase = "resetting"
	PhaseDone       Phase = "done"
)

// ResiduePolicy decides what happens to the pot money a settlement did not
// pay out.
type ResiduePolicy string

const (
	// ResidueRollover leaves everything undisbursed in the pot for the next
	// draw. The pot shrinks only by what was actually paid.
	ResidueRollover ResiduePolicy = "rollover"
	// ResidueRetain additionally sweeps the house share and the unspent
	// winner-pool residue out of the pot as revenue.
	ResidueRetain ResiduePolicy = "retain"
)

// ErrSettlementInFlight rejects a trigger that arrives while a settlement is
// already running. Triggers are rejected, never queued.
var ErrSettlementInFlight = errors.New("a settlement is already in flight")

// DrawGenerator produces and persists the winning combination. Satisfied by
// draw.Generator.
type DrawGenerator interface {
	Generate(ctx context.Context) (draw.Draw, error)
}

// Disburser pays a batch of win records. Satisfied by payout.Orchestrator.
type Disburser interface {
	Disburse(ctx context.Context, batch []draw.WinRecord) (payout.BatchResult, error)
}

// Result is the structured outcome of a completed settlement run.
type Result struct {
	Phase           Phase
	Draw            draw.Draw
	EligibleTickets int
	WinnerCount     int
	TierCounts      map[draw.Tier]int
	Allocation      allocation.Result
	Paid            int
	Failed          int
	TotalDisbursed  float64
	Outcomes        []payout.Outcome
	PotAfter        pot.Pot
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Config tunes the settlement cycle.
type Config struct {
	Allocation    allocation.Config
	Eligibility   time.Duration // purchase window for the next draw
	ResiduePolicy ResiduePolicy
}

// Service is the settlement lifecycle controller.
type Service struct {
	generator DrawGenerator
	tickets   storage.TicketStore
	records   storage.WinRecordStore
	pot       storage.PotStore
	disburser Disburser
	announcer Announcer
	cfg       Config
	log       *logger.Logger

	// inFlight is the single-flight guard: settlement never runs twice
	// against the same pot snapshot.
	inFlight atomic.Bool
}

// New constructs the settlement controller.
func New(generator DrawGenerator, tickets storage.TicketStore, records storage.WinRecordStore, potStore storage.PotStore, disburser Disburser, announcer Announcer, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if cfg.Allocation.WinnerShare == 0 {
		cfg.Allocation = allocation.DefaultConfig()
	}
	if cfg.ResiduePolicy == "" {
		cfg.ResiduePolicy = ResidueRollover
	}
	return &Service{
		generator: generator,
		tickets:   tickets,
		records:   records,
		pot:       potStore,
		disburser: disburser,
		announcer: announcer,
		cfg:       cfg,
		log:       log,
	}
}

// Run executes one full settlement cycle. A second call while one is in
// flight returns ErrSettlementInFlight. Failures before disbursement are
// safe to re-trigger; failures during disbursement are resumed with
// RetryPayouts, never by re-running generation.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSettlementInFlight
	}
	defer s.inFlight.Store(false)

	start := time.Now().UTC()
	result := Result{StartedAt: start, TierCounts: make(map[draw.Tier]int)}

	fail := func(phase Phase, err error) (Result, error) {
		result.Phase = phase
		result.FinishedAt = time.Now().UTC()
		metrics.RecordSettlementRun("failed", time.Since(start))
		s.log.WithError(err).WithField("phase", string(phase)).Error("settlement failed")
		return result, fmt.Errorf("%s: %w", phase, err)
	}

	potBefore, err := s.pot.GetPot(ctx)
	if err != nil {
		return fail(PhaseGenerating, fmt.Errorf("pot snapshot: %w", err))
	}

	d, err := s.generator.Generate(ctx)
	if err != nil {
		return fail(PhaseGenerating, err)
	}
	result.Draw = d

	since := time.Time{}
	if s.cfg.Eligibility > 0 {
		since = start.Add(-s.cfg.Eligibility)
	}
	eligible, err := s.tickets.ListEligibleTickets(ctx, since)
	if err != nil {
		return fail(PhaseEvaluating, fmt.Errorf("list eligible tickets: %w", err))
	}
	result.EligibleTickets = len(eligible)

	// No tickets means no winners and nothing at risk: skip straight to the
	// reset without touching the pot.
	if len(eligible) == 0 {
		if err := s.pot.ResetTicketsSold(ctx); err != nil {
			return fail(PhaseResetting, fmt.Errorf("reset sold counter: %w", err))
		}
		result.Phase = PhaseDone
		result.PotAfter = potBefore
		result.FinishedAt = time.Now().UTC()
		metrics.RecordSettlementRun("skipped", time.Since(start))
		s.log.WithField("draw_id", d.ID).Info("settlement finished with no eligible tickets")
		s.announce(ctx, result)
		return result, nil
	}

	winners := make([]draw.WinRecord, 0)
	for _, t := range eligible {
		matchCount, pbMatch := drawsvc.Evaluate(t, d)
		tier := drawsvc.TierFor(matchCount, pbMatch)
		if tier == draw.TierNone {
			continue
		}
		result.TierCounts[tier]++
		winners = append(winners, draw.WinRecord{
			TicketID:       t.ID,
			DrawID:         d.ID,
			OwnerID:        t.OwnerID,
			WalletAddress:  t.WalletAddress,
			MatchCount:     matchCount,
			PowerballMatch: pbMatch,
			Tier:           tier,
		})
	}
	result.WinnerCount = len(winners)

	alloc, err := allocation.Allocate(potBefore.Balance, result.TierCounts, s.cfg.Allocation)
	if err != nil {
		return fail(PhaseAllocating, err)
	}
	result.Allocation = alloc
	for i := range winners {
		winners[i].Amount = alloc.PerWinner[winners[i].Tier]
	}

	// The audit trail is written before any money moves. A durability
	// failure here aborts the cycle with no funds at risk.
	if len(winners) > 0 {
		winners, err = s.records.CreateWinRecords(ctx, winners)
		if err != nil {
			return fail(PhasePersisting, fmt.Errorf("persist win records: %w", err))
		}
	}

	if len(winners) > 0 {
		batch, err := s.disburser.Disburse(ctx, winners)
		if err != nil {
			return fail(PhaseDisbursing, err)
		}
		result.Paid = batch.Paid
		result.Failed = batch.Failed
		result.TotalDisbursed = batch.TotalPaid
		result.Outcomes = batch.Outcomes
	}

	potAfter, err := s.closeOutPot(ctx, result.TotalDisbursed, alloc)
	if err != nil {
		return fail(PhaseResetting, err)
	}
	result.PotAfter = potAfter

	result.Phase = PhaseDone
	result.FinishedAt = time.Now().UTC()
	metrics.RecordSettlementRun("done", time.Since(start))
	s.log.WithField("draw_id", d.ID).
		WithField("eligible", result.EligibleTickets).
		WithField("winners", result.WinnerCount).
		WithField("paid", result.Paid).
		WithField("failed", result.Failed).
		WithField("disbursed", result.TotalDisbursed).
		Info("settlement finished")

	s.announce(ctx, result)
	return result, nil
}

// RetryPayouts re-runs disbursement for the draw's unpaid win records. The
// amounts were fixed when the records were persisted; this pass never
// re-evaluates or re-allocates. Shares the single-flight guard with Run.
func (s *Service) RetryPayouts(ctx context.Context, drawID string) (payout.BatchResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return payout.BatchResult{}, ErrSettlementInFlight
	}
	defer s.inFlight.Store(false)

	unpaid, err := s.records.ListUnpaidWinRecords(ctx, drawID)
	if err != nil {
		return payout.BatchResult{}, fmt.Errorf("list unpaid win records: %w", err)
	}
	if len(unpaid) == 0 {
		return payout.BatchResult{}, nil
	}

	batch, err := s.disburser.Disburse(ctx, unpaid)
	if err != nil {
		return batch, err
	}
	if _, err := s.deductPot(ctx, batch.TotalPaid); err != nil {
		return batch, fmt.Errorf("reduce pot after retry: %w", err)
	}
	s.log.WithField("draw_id", drawID).
		WithField("paid", batch.Paid).
		WithField("failed", batch.Failed).
		Info("payout retry pass finished")
	return batch, nil
}

// closeOutPot reduces the pot by what was actually disbursed, applies the
// residue policy, and clears the sold counter.
func (s *Service) closeOutPot(ctx context.Context, disbursed float64, alloc allocation.Result) (pot.Pot, error) {
	current, err := s.deductPot(ctx, disbursed)
	if err != nil {
		return pot.Pot{}, fmt.Errorf("reduce pot by disbursed amount: %w", err)
	}

	if s.cfg.ResiduePolicy == ResidueRetain {
		sweep := alloc.Revenue + alloc.Residue
		// Unpaid prize amounts stay in the pot awaiting a retry pass; only
		// money no winner has a claim on is swept.
		if sweep > current.Balance {
			sweep = current.Balance
		}
		current, err = s.retainRevenue(ctx, sweep)
		if err != nil {
			return pot.Pot{}, fmt.Errorf("retain revenue: %w", err)
		}
	}

	if err := s.pot.ResetTicketsSold(ctx); err != nil {
		return pot.Pot{}, fmt.Errorf("reset sold counter: %w", err)
	}
	return current, nil
}

// deductPot applies a conditional decrement with an optimistic retry loop.
// Ticket sales may land concurrently, so a stale expected balance is
// refreshed and retried rather than failed. The debit is clamped to the
// current balance: a later draw may already have re-allocated a failed
// payout's claim, leaving the pot holding less than a retry pass disburses.
// The shortfall is logged for reconciliation instead of blocking the ledger.
func (s *Service) deductPot(ctx context.Context, amount float64) (pot.Pot, error) {
	if amount <= allocation.Epsilon {
		return s.pot.GetPot(ctx)
	}
	for {
		if err := ctx.Err(); err != nil {
			return pot.Pot{}, err
		}
		current, err := s.pot.GetPot(ctx)
		if err != nil {
			return pot.Pot{}, err
		}
		debit := amount
		if debit > current.Balance {
			debit = current.Balance
			s.log.WithField("disbursed", amount).
				WithField("balance", current.Balance).
				Warn("pot balance below disbursed amount; deducting remainder, manual reconciliation required")
		}
		if debit <= allocation.Epsilon {
			return current, nil
		}
		updated, err := s.pot.UpdatePotBalance(ctx, -debit, current.Balance)
		if err != nil {
			if errors.Is(err, storage.ErrStalePot) || errors.Is(err, storage.ErrInsufficientPot) {
				continue
			}
			return pot.Pot{}, err
		}
		return updated, nil
	}
}

func (s *Service) retainRevenue(ctx context.Context, amount float64) (pot.Pot, error) {
	if amount <= allocation.Epsilon {
		return s.pot.GetPot(ctx)
	}
	for {
		if err := ctx.Err(); err != nil {
			return pot.Pot{}, err
		}
		current, err := s.pot.GetPot(ctx)
		if err != nil {
			return pot.Pot{}, err
		}
		// Only money no winner has a claim on is swept; a concurrent debit
		// shrinks the sweep rather than failing it.
		sweep := amount
		if sweep > current.Balance {
			sweep = current.Balance
		}
		if sweep <= allocation.Epsilon {
			return current, nil
		}
		updated, err := s.pot.RetainRevenue(ctx, sweep, current.Balance)
		if err != nil {
			if errors.Is(err, storage.ErrStalePot) || errors.Is(err, storage.ErrInsufficientPot) {
				continue
			}
			return pot.Pot{}, err
		}
		return updated, nil
	}
}

func (s *Service) announce(ctx context.Context, result Result) {
	if s.announcer == nil {
		return
	}
	ann := Announcement{
		DrawID:         result.Draw.ID,
		WinningNumbers: result.Draw.WinningNumbers,
		Powerball:      result.Draw.Powerball,
		WinnerCount:    result.WinnerCount,
		TotalDisbursed: result.TotalDisbursed,
		SettledAt:      result.FinishedAt,
	}
	// Announcements are best-effort; a sink failure never affects the
	// settlement outcome.
	if err := s.announcer.Announce(ctx, ann); err != nil {
		s.log.WithError(err).Warn("settlement announcement failed")
	}
}
