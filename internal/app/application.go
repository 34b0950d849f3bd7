// Package app wires the settlement engine's services together and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/allocation"
	drawsvc "github.com/lampochka7181/Euromillions-back-end/internal/app/services/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/payout"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/settlement"
	ticketsvc "github.com/lampochka7181/Euromillions-back-end/internal/app/services/tickets"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage/memory"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/system"
	"github.com/lampochka7181/Euromillions-back-end/internal/chain"
	"github.com/lampochka7181/Euromillions-back-end/internal/config"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tickets    storage.TicketStore
	Draws      storage.DrawStore
	WinRecords storage.WinRecordStore
	Pot        storage.PotStore
}

// Application ties the settlement services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Tickets    *ticketsvc.Service
	Generator  *drawsvc.Generator
	Payouts    *payout.Orchestrator
	Settlement *settlement.Service

	Stores Stores
}

// New builds a fully initialised application. The sender funds prize
// transfers; tests pass a fake.
func New(cfg *config.Config, stores Stores, sender payout.PaymentSender, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("payment sender is required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Tickets == nil {
		stores.Tickets = mem
	}
	if stores.Draws == nil {
		stores.Draws = mem
	}
	if stores.WinRecords == nil {
		stores.WinRecords = mem
	}
	if stores.Pot == nil {
		stores.Pot = mem
	}

	manager := system.NewManager()

	var validator ticketsvc.AddressValidator
	if cfg.Chain.RPCURL != "" {
		validator = chain.ValidateAddress
	}
	ticketService := ticketsvc.New(stores.Tickets, stores.Pot, cfg.Lottery.TicketPrice, validator, log)
	generator := drawsvc.NewGenerator(stores.Draws, log)

	orchestrator := payout.New(sender, stores.WinRecords, payout.Config{
		Treasury:    cfg.Chain.TreasuryAddress,
		Concurrency: cfg.Lottery.PayoutConcurrency,
		Timeout:     time.Duration(cfg.Lottery.PayoutTimeout) * time.Second,
		RatePerSec:  cfg.Lottery.PayoutRatePerSec,
	}, log)

	var announcer settlement.Announcer
	if cfg.Lottery.AnnouncerURL != "" {
		announcer = settlement.NewWebhookAnnouncer(cfg.Lottery.AnnouncerURL, cfg.Lottery.AnnouncerAuthToken, log)
	}

	settlementService := settlement.New(generator, stores.Tickets, stores.WinRecords, stores.Pot, orchestrator, announcer, settlement.Config{
		Allocation: allocation.Config{
			WinnerShare:   cfg.Lottery.WinnerShare,
			TierFractions: allocation.DefaultTierFractions,
		},
		Eligibility:   time.Duration(cfg.Lottery.EligibilityDays) * 24 * time.Hour,
		ResiduePolicy: settlement.ResiduePolicy(cfg.Lottery.ResiduePolicy),
	}, log)

	scheduler := settlement.NewScheduler(settlementService, cfg.Lottery.DrawSchedule, log)
	for _, svc := range []system.Service{
		system.NoopService{ServiceName: "tickets"},
		scheduler,
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Tickets:    ticketService,
		Generator:  generator,
		Payouts:    orchestrator,
		Settlement: settlementService,
		Stores:     stores,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// ChainSender adapts the JSON-RPC chain client to the payout sender contract.
type ChainSender struct {
	Client *chain.Client
}

var _ payout.PaymentSender = ChainSender{}

func (s ChainSender) Balance(ctx context.Context, account string) (float64, error) {
	return s.Client.GetBalance(ctx, account)
}

func (s ChainSender) Transfer(ctx context.Context, from, to string, amount float64) (payout.TransferReceipt, error) {
	hash, err := s.Client.Send(ctx, from, to, amount)
	if err != nil {
		return payout.TransferReceipt{}, err
	}
	return payout.TransferReceipt{Reference: hash, SubmittedAt: time.Now().UTC()}, nil
}
