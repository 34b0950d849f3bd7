package ticket

import "time"

// Ticket is an immutable record of a purchased line. Settlement reads
// tickets but never mutates them.
type Ticket struct {
	ID            string
	OwnerID       string
	WalletAddress string
	Numbers       []int // 5 distinct numbers, stored sorted ascending
	Powerball     int
	CreatedAt     time.Time
}

// Number ranges for a valid line.
const (
	NumberCount  = 5
	NumberMin    = 1
	NumberMax    = 30
	PowerballMin = 1
	PowerballMax = 10
)
