// Package storage defines the persistence boundary of the settlement engine.
// Implementations must provide the isolation the pot ledger requires: balance
// changes are conditional updates keyed on the expected current balance, never
// read-modify-write at the application layer.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/pot"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStalePot is returned when a conditional pot update loses the race:
	// the stored balance no longer matches the caller's expected value.
	ErrStalePot = errors.New("pot balance changed concurrently")
	// ErrInsufficientPot is returned when a debit would drive the balance
	// negative. Unlike ErrStalePot, retrying with a fresh snapshot cannot
	// succeed unless the caller also shrinks the debit.
	ErrInsufficientPot = errors.New("pot balance below requested debit")
)

// TicketStore persists purchased tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error)
	GetTicket(ctx context.Context, id string) (ticket.Ticket, error)
	ListTicketsByOwner(ctx context.Context, ownerID string, limit int) ([]ticket.Ticket, error)
	// ListEligibleTickets returns tickets created at or after since,
	// ordered by creation time.
	ListEligibleTickets(ctx context.Context, since time.Time) ([]ticket.Ticket, error)
}

// DrawStore persists immutable draw records.
type DrawStore interface {
	CreateDraw(ctx context.Context, d draw.Draw) (draw.Draw, error)
	GetDraw(ctx context.Context, id string) (draw.Draw, error)
	ListDraws(ctx context.Context, limit int) ([]draw.Draw, error)
}

// WinRecordStore persists the audit trail of winning tickets.
type WinRecordStore interface {
	// CreateWinRecords writes the batch atomically; either every record is
	// durable or none are.
	CreateWinRecords(ctx context.Context, records []draw.WinRecord) ([]draw.WinRecord, error)
	UpdateWinRecord(ctx context.Context, rec draw.WinRecord) (draw.WinRecord, error)
	GetWinRecord(ctx context.Context, id string) (draw.WinRecord, error)
	ListWinRecords(ctx context.Context, drawID string) ([]draw.WinRecord, error)
	ListUnpaidWinRecords(ctx context.Context, drawID string) ([]draw.WinRecord, error)
}

// PotStore persists the singleton pot ledger. All balance mutations are
// compare-and-set on the expected current balance and return ErrStalePot
// when another writer got there first.
type PotStore interface {
	GetPot(ctx context.Context) (pot.Pot, error)
	// UpdatePotBalance applies delta to the balance iff it still equals
	// expected. Updates that would drive the balance negative are rejected
	// with ErrInsufficientPot.
	UpdatePotBalance(ctx context.Context, delta, expected float64) (pot.Pot, error)
	// RecordTicketSale credits one sale: balance += price and the sold
	// counters increment. Conditional on expected balance.
	RecordTicketSale(ctx context.Context, price, expected float64) (pot.Pot, error)
	// RetainRevenue moves amount out of the balance into lifetime revenue.
	// Conditional on expected balance; an amount exceeding the balance is
	// rejected with ErrInsufficientPot.
	RetainRevenue(ctx context.Context, amount, expected float64) (pot.Pot, error)
	// ResetTicketsSold clears the per-cycle sold counter after settlement.
	ResetTicketsSold(ctx context.Context) error
}
