package usecase

import (
	"context"
	"fmt"

	"memtex-backend/pkg/logger"

	"github.com/robfig/cron/v3"
)

// MaintenanceScheduler runs maintenance passes on a cron schedule.
type MaintenanceScheduler struct {
	cron     *cron.Cron
	job      func(ctx context.Context) error
	schedule string
	log      *logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewMaintenanceScheduler creates a scheduler for job. schedule accepts
// standard cron specs and descriptors such as "@every 6h".
func NewMaintenanceScheduler(schedule string, job func(ctx context.Context) error, log *logger.Logger) *MaintenanceScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &MaintenanceScheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		job:      job,
		schedule: schedule,
		log:      log.With("service", "MaintenanceScheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the job and begins the cron loop.
func (s *MaintenanceScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.runOnce)
	if err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info("maintenance scheduler started", "schedule", s.schedule)
	return nil
}

func (s *MaintenanceScheduler) runOnce() {
	if err := s.job(s.ctx); err != nil {
		s.log.Error("maintenance pass failed", "error", err)
	}
}

// Stop cancels a running pass and waits for it to return.
func (s *MaintenanceScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("maintenance scheduler stopped")
}
