package draw

import "time"

// Draw records the winning combination for one settlement cycle. It is
// written exactly once and never mutated afterwards.
type Draw struct {
	ID             string
	WinningNumbers []int // 5 distinct numbers, sorted ascending
	Powerball      int
	DrawnAt        time.Time
	CreatedAt      time.Time
}

// Tier identifies a prize category. TierNone marks a non-winning ticket.
type Tier int

const (
	TierNone    Tier = 0
	TierJackpot Tier = 1
	TierTwo     Tier = 2
	TierThree   Tier = 3
	TierFour    Tier = 4
	TierFive    Tier = 5
	TierSix     Tier = 6
)

// LowestPayingTier bounds the tiered-cascade scheme: matches below three
// main numbers never win, regardless of the powerball.
const LowestPayingTier = TierSix

// WinRecord is the permanent audit entry for a winning ticket in a draw.
// It is created before disbursement begins and mutated exactly once by the
// payout orchestrator to record the outcome. WinRecords are never deleted.
type WinRecord struct {
	ID             string
	TicketID       string
	DrawID         string
	OwnerID        string
	WalletAddress  string
	MatchCount     int
	PowerballMatch bool
	Tier           Tier
	Amount         float64
	Disbursed      bool
	PayoutRef      string
	FailureReason  string
	DisbursedAt    time.Time
	CreatedAt      time.Time
}
