package pot

import "time"

// Pot is the singleton ledger shared between ticket sales and settlement.
// Two independent writers mutate it, so every balance change must go
// through a conditional update keyed on the expected current balance.
type Pot struct {
	Balance         float64
	TicketsSold     int64
	LifetimeTickets int64
	LifetimeRevenue float64
	UpdatedAt       time.Time
}
