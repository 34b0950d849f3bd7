package draw

import (
	domain "github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
)

// Evaluate compares a ticket against a draw. Main numbers are compared as
// sets, not positionally. Pure function: no store access, no side effects.
func Evaluate(t ticket.Ticket, d domain.Draw) (matchCount int, powerballMatch bool) {
	winning := make(map[int]bool, len(d.WinningNumbers))
	for _, n := range d.WinningNumbers {
		winning[n] = true
	}
	for _, n := range t.Numbers {
		if winning[n] {
			matchCount++
		}
	}
	return matchCount, t.Powerball == d.Powerball
}

// TierFor maps a match result to its prize tier. A ticket lands in at most
// one tier, the highest that applies. Anything below three main matches is
// not a winner: this engine uses the tiered-cascade scheme exclusively and
// deliberately omits the flat-prize tiers (2+powerball, powerball-only).
func TierFor(matchCount int, powerballMatch bool) domain.Tier {
	switch {
	case matchCount == 5 && powerballMatch:
		return domain.TierJackpot
	case matchCount == 5:
		return domain.TierTwo
	case matchCount == 4 && powerballMatch:
		return domain.TierThree
	case matchCount == 4:
		return domain.TierFour
	case matchCount == 3 && powerballMatch:
		return domain.TierFive
	case matchCount == 3:
		return domain.TierSix
	default:
		return domain.TierNone
	}
}
