// Package scheduler sweeps subscribers whose backoff retry has come due and
// hands them to the dunning orchestrator for settlement.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	dunningdomain "github.com/postloop/billing/internal/dunning/domain"
)

type Scheduler struct {
	cfg     Config
	log     *zap.Logger
	dunning dunningdomain.Service
}

func New(cfg Config, log *zap.Logger, dunning dunningdomain.Service) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		log:     log.Named("scheduler"),
		dunning: dunning,
	}
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) {
	examined, err := s.dunning.RunDueRetries(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("due-retry sweep failed", zap.Error(err))
		return
	}
	if examined > 0 {
		s.log.Info("due-retry sweep completed", zap.Int("examined", examined))
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.RunInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
