// Package allocation computes per-winner prize amounts from a pot snapshot
// using a cascading waterfall over the prize tiers.
package allocation

import (
	"errors"
	"fmt"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
)

// Epsilon bounds float comparisons on prize amounts.
const Epsilon = 1e-9

// ErrInvalidPot marks an allocation invariant violation. It is a
// programming-logic fault: settlement must halt rather than disburse
// amounts computed from a bad ledger state.
var ErrInvalidPot = errors.New("allocation invariant violation")

// Config carries the allocation policy.
type Config struct {
	// WinnerShare is the fraction of the pot earmarked for winners; the
	// remainder is retained as revenue.
	WinnerShare float64
	// TierFractions maps each tier to its share of the ORIGINAL winner
	// pool. The shares intentionally sum past 1.0 (192%); the cascade
	// clamp is what keeps total spend within the pool.
	TierFractions map[draw.Tier]float64
}

// DefaultTierFractions is the production tier policy.
var DefaultTierFractions = map[draw.Tier]float64{
	draw.TierJackpot: 1.00,
	draw.TierTwo:     0.50,
	draw.TierThree:   0.25,
	draw.TierFour:    0.10,
	draw.TierFive:    0.05,
	draw.TierSix:     0.02,
}

// DefaultConfig returns the standard 85% winner share policy.
func DefaultConfig() Config {
	return Config{WinnerShare: 0.85, TierFractions: DefaultTierFractions}
}

// Result is the outcome of one allocation pass.
type Result struct {
	PotBalance float64
	WinnerPool float64
	// PerWinner is the equal-split amount for each winning ticket in a
	// tier. Present only for tiers with at least one winner.
	PerWinner map[draw.Tier]float64
	// TierSpend is the total claimed by each tier after clamping.
	TierSpend map[draw.Tier]float64
	// TotalSpend is the sum of all tier spends; never exceeds WinnerPool.
	TotalSpend float64
	// Residue is the unspent remainder of the winner pool. Whether it
	// rolls over or is retained as revenue is the caller's policy.
	Residue float64
	// Revenue is the non-winner share of the pot (PotBalance - WinnerPool).
	Revenue float64
}

// Allocate runs the cascade in strict tier order 1..6. Each tier's budget is
// a fraction of the original winner pool, clamped to what earlier tiers left
// behind; winners within a tier split the spend equally.
func Allocate(potBalance float64, counts map[draw.Tier]int, cfg Config) (Result, error) {
	if potBalance < 0 {
		return Result{}, fmt.Errorf("%w: negative pot balance %v", ErrInvalidPot, potBalance)
	}
	if cfg.WinnerShare <= 0 || cfg.WinnerShare > 1 {
		return Result{}, fmt.Errorf("%w: winner share %v outside (0,1]", ErrInvalidPot, cfg.WinnerShare)
	}
	for tier, count := range counts {
		if count < 0 {
			return Result{}, fmt.Errorf("%w: negative winner count %d for tier %d", ErrInvalidPot, count, tier)
		}
		if tier < draw.TierJackpot || tier > draw.LowestPayingTier {
			return Result{}, fmt.Errorf("%w: unknown tier %d", ErrInvalidPot, tier)
		}
	}

	winnerPool := potBalance * cfg.WinnerShare
	remaining := winnerPool

	result := Result{
		PotBalance: potBalance,
		WinnerPool: winnerPool,
		PerWinner:  make(map[draw.Tier]float64),
		TierSpend:  make(map[draw.Tier]float64),
		Revenue:    potBalance - winnerPool,
	}

	for tier := draw.TierJackpot; tier <= draw.LowestPayingTier; tier++ {
		n := counts[tier]
		if n == 0 {
			continue
		}
		fraction, ok := cfg.TierFractions[tier]
		if !ok {
			return Result{}, fmt.Errorf("%w: no fraction configured for tier %d", ErrInvalidPot, tier)
		}

		tierBudget := winnerPool * fraction
		tierSpend := tierBudget
		if tierSpend > remaining {
			tierSpend = remaining
		}

		result.PerWinner[tier] = tierSpend / float64(n)
		result.TierSpend[tier] = tierSpend
		result.TotalSpend += tierSpend
		remaining -= tierSpend
	}

	if result.TotalSpend > winnerPool+Epsilon {
		return Result{}, fmt.Errorf("%w: spend %v exceeds winner pool %v", ErrInvalidPot, result.TotalSpend, winnerPool)
	}

	result.Residue = remaining
	return result, nil
}
