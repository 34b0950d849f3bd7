// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and prototyping and keeps the
// same conditional-update semantics as the postgres store.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/pot"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
)

// balanceEpsilon bounds float comparison for the pot compare-and-set.
const balanceEpsilon = 1e-9

// Store is the in-memory persistence layer.
type Store struct {
	mu         sync.RWMutex
	tickets    map[string]ticket.Ticket
	draws      map[string]draw.Draw
	winRecords map[string]draw.WinRecord
	pot        pot.Pot
}

var (
	_ storage.TicketStore    = (*Store)(nil)
	_ storage.DrawStore      = (*Store)(nil)
	_ storage.WinRecordStore = (*Store)(nil)
	_ storage.PotStore       = (*Store)(nil)
)

// New creates an empty in-memory store with a zero-balance pot.
func New() *Store {
	return &Store{
		tickets:    make(map[string]ticket.Ticket),
		draws:      make(map[string]draw.Draw),
		winRecords: make(map[string]draw.WinRecord),
		pot:        pot.Pot{UpdatedAt: time.Now().UTC()},
	}
}

// TicketStore implementation -------------------------------------------------

func (s *Store) CreateTicket(_ context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Numbers = append([]int(nil), t.Numbers...)
	s.tickets[t.ID] = t
	return cloneTicket(t), nil
}

func (s *Store) GetTicket(_ context.Context, id string) (ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, storage.ErrNotFound
	}
	return cloneTicket(t), nil
}

func (s *Store) ListTicketsByOwner(_ context.Context, ownerID string, limit int) ([]ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ticket.Ticket
	for _, t := range s.tickets {
		if t.OwnerID == ownerID {
			result = append(result, cloneTicket(t))
		}
	}
	sortTickets(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListEligibleTickets(_ context.Context, since time.Time) ([]ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ticket.Ticket
	for _, t := range s.tickets {
		if !t.CreatedAt.Before(since) {
			result = append(result, cloneTicket(t))
		}
	}
	sortTickets(result)
	return result, nil
}

// DrawStore implementation ---------------------------------------------------

func (s *Store) CreateDraw(_ context.Context, d draw.Draw) (draw.Draw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.WinningNumbers = append([]int(nil), d.WinningNumbers...)
	s.draws[d.ID] = d
	return cloneDraw(d), nil
}

func (s *Store) GetDraw(_ context.Context, id string) (draw.Draw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.draws[id]
	if !ok {
		return draw.Draw{}, storage.ErrNotFound
	}
	return cloneDraw(d), nil
}

func (s *Store) ListDraws(_ context.Context, limit int) ([]draw.Draw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]draw.Draw, 0, len(s.draws))
	for _, d := range s.draws {
		result = append(result, cloneDraw(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DrawnAt.After(result[j].DrawnAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// WinRecordStore implementation ----------------------------------------------

func (s *Store) CreateWinRecords(_ context.Context, records []draw.WinRecord) ([]draw.WinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]draw.WinRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		s.winRecords[rec.ID] = rec
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) UpdateWinRecord(_ context.Context, rec draw.WinRecord) (draw.WinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.winRecords[rec.ID]
	if !ok {
		return draw.WinRecord{}, storage.ErrNotFound
	}
	rec.CreatedAt = original.CreatedAt
	s.winRecords[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetWinRecord(_ context.Context, id string) (draw.WinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.winRecords[id]
	if !ok {
		return draw.WinRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListWinRecords(_ context.Context, drawID string) ([]draw.WinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []draw.WinRecord
	for _, rec := range s.winRecords {
		if rec.DrawID == drawID {
			result = append(result, rec)
		}
	}
	sortWinRecords(result)
	return result, nil
}

func (s *Store) ListUnpaidWinRecords(_ context.Context, drawID string) ([]draw.WinRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []draw.WinRecord
	for _, rec := range s.winRecords {
		if rec.DrawID == drawID && !rec.Disbursed {
			result = append(result, rec)
		}
	}
	sortWinRecords(result)
	return result, nil
}

// PotStore implementation ----------------------------------------------------

func (s *Store) GetPot(_ context.Context) (pot.Pot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pot, nil
}

func (s *Store) UpdatePotBalance(_ context.Context, delta, expected float64) (pot.Pot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.Abs(s.pot.Balance-expected) > balanceEpsilon {
		return pot.Pot{}, storage.ErrStalePot
	}
	next := s.pot.Balance + delta
	if next < -balanceEpsilon {
		return pot.Pot{}, storage.ErrInsufficientPot
	}
	if next < 0 {
		next = 0
	}
	s.pot.Balance = next
	s.pot.UpdatedAt = time.Now().UTC()
	return s.pot, nil
}

func (s *Store) RecordTicketSale(_ context.Context, price, expected float64) (pot.Pot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.Abs(s.pot.Balance-expected) > balanceEpsilon {
		return pot.Pot{}, storage.ErrStalePot
	}
	s.pot.Balance += price
	s.pot.TicketsSold++
	s.pot.LifetimeTickets++
	s.pot.UpdatedAt = time.Now().UTC()
	return s.pot, nil
}

func (s *Store) RetainRevenue(_ context.Context, amount, expected float64) (pot.Pot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.Abs(s.pot.Balance-expected) > balanceEpsilon {
		return pot.Pot{}, storage.ErrStalePot
	}
	if amount > s.pot.Balance+balanceEpsilon {
		return pot.Pot{}, storage.ErrInsufficientPot
	}
	s.pot.Balance -= amount
	if s.pot.Balance < 0 {
		s.pot.Balance = 0
	}
	s.pot.LifetimeRevenue += amount
	s.pot.UpdatedAt = time.Now().UTC()
	return s.pot, nil
}

func (s *Store) ResetTicketsSold(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pot.TicketsSold = 0
	s.pot.UpdatedAt = time.Now().UTC()
	return nil
}

// Helpers ---------------------------------------------------------------------

func cloneTicket(t ticket.Ticket) ticket.Ticket {
	t.Numbers = append([]int(nil), t.Numbers...)
	return t
}

func cloneDraw(d draw.Draw) draw.Draw {
	d.WinningNumbers = append([]int(nil), d.WinningNumbers...)
	return d
}

func sortTickets(tickets []ticket.Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
}

func sortWinRecords(records []draw.WinRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Tier != records[j].Tier {
			return records[i].Tier < records[j].Tier
		}
		return records[i].ID < records[j].ID
	})
}
