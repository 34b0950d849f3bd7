// Package tickets sells lottery tickets and feeds the prize pot.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/metrics"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

var (
	ErrOwnerRequired    = errors.New("ticket owner is required")
	ErrWalletRequired   = errors.New("wallet address is required")
	ErrInvalidNumbers   = errors.New("ticket needs five distinct numbers between 1 and 30")
	ErrInvalidPowerball = errors.New("powerball must be between 1 and 10")
	// ErrSaleUncredited reports a sale that stood but whose pot credit
	// failed. The ticket returned alongside it is persisted and valid.
	ErrSaleUncredited = errors.New("ticket sold but pot credit failed")
)

// AddressValidator checks a payout wallet address. A nil validator accepts
// any non-empty address.
type AddressValidator func(address string) error

// Service handles ticket purchases.
type Service struct {
	tickets  storage.TicketStore
	pot      storage.PotStore
	price    float64
	validate AddressValidator
	log      *logger.Logger
}

// New constructs the ticket service.
func New(tickets storage.TicketStore, potStore storage.PotStore, price float64, validate AddressValidator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tickets")
	}
	return &Service{
		tickets:  tickets,
		pot:      potStore,
		price:    price,
		validate: validate,
		log:      log,
	}
}

// Purchase validates and stores a ticket, then credits the sale to the pot.
// Numbers are stored sorted so match evaluation can treat them as a set.
func (s *Service) Purchase(ctx context.Context, ownerID, wallet string, numbers []int, powerball int) (ticket.Ticket, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ticket.Ticket{}, ErrOwnerRequired
	}
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return ticket.Ticket{}, ErrWalletRequired
	}
	if s.validate != nil {
		if err := s.validate(wallet); err != nil {
			return ticket.Ticket{}, fmt.Errorf("wallet address: %w", err)
		}
	}
	sorted, err := normaliseNumbers(numbers)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if powerball < ticket.PowerballMin || powerball > ticket.PowerballMax {
		return ticket.Ticket{}, ErrInvalidPowerball
	}

	created, err := s.tickets.CreateTicket(ctx, ticket.Ticket{
		OwnerID:       ownerID,
		WalletAddress: wallet,
		Numbers:       sorted,
		Powerball:     powerball,
	})
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("store ticket: %w", err)
	}

	if err := s.creditSale(ctx); err != nil {
		// The ticket exists; the pot credit is retried but never blocks the
		// sale itself. Revenue drift is visible in the pot audit fields.
		s.log.WithError(err).
			WithField("ticket_id", created.ID).
			Error("credit ticket sale to pot failed")
		return created, fmt.Errorf("%w: ticket %s: %v", ErrSaleUncredited, created.ID, err)
	}

	metrics.RecordTicketSale()
	s.log.WithField("ticket_id", created.ID).
		WithField("owner_id", ownerID).
		Info("ticket sold")
	return created, nil
}

// Get returns a ticket by ID.
func (s *Service) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	return s.tickets.GetTicket(ctx, strings.TrimSpace(id))
}

// ListByOwner returns tickets bought by the owner in purchase order. A
// non-positive limit returns all of them.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]ticket.Ticket, error) {
	return s.tickets.ListTicketsByOwner(ctx, strings.TrimSpace(ownerID), limit)
}

// Price returns the configured ticket price.
func (s *Service) Price() float64 { return s.price }

// creditSale applies the sale to the pot with an optimistic retry loop. A
// stale-balance failure means a concurrent sale landed first, so the loop
// always makes system-wide progress.
func (s *Service) creditSale(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		current, err := s.pot.GetPot(ctx)
		if err != nil {
			return err
		}
		if _, err := s.pot.RecordTicketSale(ctx, s.price, current.Balance); err != nil {
			if errors.Is(err, storage.ErrStalePot) {
				continue
			}
			return err
		}
		return nil
	}
}

func normaliseNumbers(numbers []int) ([]int, error) {
	if len(numbers) != ticket.NumberCount {
		return nil, ErrInvalidNumbers
	}
	seen := make(map[int]struct{}, len(numbers))
	sorted := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if n < ticket.NumberMin || n > ticket.NumberMax {
			return nil, ErrInvalidNumbers
		}
		if _, dup := seen[n]; dup {
			return nil, ErrInvalidNumbers
		}
		seen[n] = struct{}{}
		sorted = append(sorted, n)
	}
	sort.Ints(sorted)
	return sorted, nil
}
