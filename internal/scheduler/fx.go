package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/postloop/billing/internal/config"
	dunningdomain "github.com/postloop/billing/internal/dunning/domain"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		func(cfg config.Config, log *zap.Logger, dunning dunningdomain.Service) *Scheduler {
			return New(Config{
				RunInterval: time.Duration(cfg.Scheduler.RunIntervalSeconds) * time.Second,
				BatchSize:   cfg.Scheduler.BatchSize,
			}, log, dunning)
		},
	),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
