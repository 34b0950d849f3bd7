package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/system"
	"github.com/lampochka7181/Euromillions-back-end/pkg/logger"
)

// Scheduler triggers settlement runs on a cron schedule.
type Scheduler struct {
	service *Service
	spec    string
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Scheduler)(nil)

// NewScheduler builds a scheduler from a standard five-field cron spec.
func NewScheduler(service *Service, spec string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("settlement-scheduler")
	}
	return &Scheduler{service: service, spec: spec, log: log}
}

func (s *Scheduler) Name() string { return "settlement-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.trigger); err != nil {
		return fmt.Errorf("invalid draw schedule %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.log.WithField("schedule", s.spec).Info("settlement scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	// cron.Stop waits for in-flight jobs via the returned context.
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) trigger() {
	result, err := s.service.Run(context.Background())
	if err != nil {
		if errors.Is(err, ErrSettlementInFlight) {
			s.log.Warn("scheduled settlement skipped: previous run still in flight")
			return
		}
		s.log.WithError(err).Error("scheduled settlement failed")
		return
	}
	s.log.WithField("draw_id", result.Draw.ID).
		WithField("winners", result.WinnerCount).
		Info("scheduled settlement completed")
}
