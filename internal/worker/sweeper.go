package worker

import (
	"context"
	"fmt"
	"time"

	"techtrims/internal/metrics"
	"techtrims/internal/models"

	"github.com/rs/zerolog"
)

// Sweeper performs one expiry pass over the queue.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// SweepLoop drives a Sweeper on a fixed interval. Errors and panics inside a
// tick are logged and never stop the loop.
type SweepLoop struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zerolog.Logger
}

func NewSweepLoop(sweeper Sweeper, interval time.Duration, logger *zerolog.Logger) *SweepLoop {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SweepLoop{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is done. The first sweep runs immediately.
func (l *SweepLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Msg("expiry sweeper started")
	defer l.logger.Info().Msg("expiry sweeper stopped")

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *SweepLoop) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveSweep(time.Since(start))
		if r := recover(); r != nil {
			metrics.IncSweep("errors", 1)
			l.logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("sweep panicked")
		}
	}()

	if err := l.sweeper.Sweep(ctx); err != nil {
		l.logger.Error().Err(err).Msg("sweep failed")
	}
}
