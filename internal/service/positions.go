package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/events"
	"techtrims/internal/metrics"
	"techtrims/internal/models"
	"techtrims/internal/queue"
	"techtrims/internal/worker"

	"github.com/rs/zerolog"
)

// PositionCalculator is the only writer of queue positions. It serializes
// per barber and rewrites the whole ranking in one transaction.
type PositionCalculator struct {
	store       domain.BookingStore
	locker      domain.Locker
	eventBus    domain.EventPublisher
	lockTimeout time.Duration
	retries     int
	retry       worker.RetryPolicy
	logger      *zerolog.Logger
}

func NewPositionCalculator(store domain.BookingStore, locker domain.Locker, eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) *PositionCalculator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = models.DefaultLockTTL
	}
	if opts.StaleRetries <= 0 {
		opts.StaleRetries = models.DefaultStaleRetries
	}
	return &PositionCalculator{
		store:       store,
		locker:      locker,
		eventBus:    eventBus,
		lockTimeout: opts.LockTimeout,
		retries:     opts.StaleRetries,
		retry:       opts.Retry,
		logger:      logger,
	}
}

// Recompute ranks the barber's waiting bookings and persists positions 1..N.
// A ranking invalidated by a concurrent transition is retried with backoff.
func (p *PositionCalculator) Recompute(ctx context.Context, barberID int64) ([]domain.Position, error) {
	for attempt := 1; ; attempt++ {
		positions, err := p.recomputeOnce(ctx, barberID)
		if err == nil {
			return positions, nil
		}
		if !errors.Is(err, domain.ErrStaleTransition) || attempt > p.retries {
			return nil, err
		}
		metrics.IncStale()
		if err := p.retry.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (p *PositionCalculator) recomputeOnce(ctx context.Context, barberID int64) ([]domain.Position, error) {
	if p.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, p.lockTimeout)
		unlock, err := p.locker.Lock(lockCtx, fmt.Sprintf("barber:%d", barberID))
		cancel()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	active, err := p.store.ListActiveByBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	positions := queue.Rank(active)
	if err := p.store.BatchSetPositions(ctx, barberID, positions); err != nil {
		return nil, err
	}

	if p.eventBus != nil {
		payload := events.QueueReorderedPayload{BarberID: barberID, Waiting: len(positions)}
		if err := p.eventBus.PublishJSON(events.EventQueueReordered, payload); err != nil {
			p.logger.Error().Err(err).Int64("barber_id", barberID).Msg("failed to publish reorder")
		}
	}
	return positions, nil
}

// InSync reports whether stored positions already match the ranking.
func InSync(active []*models.Booking) bool {
	for _, p := range queue.Rank(active) {
		for _, b := range active {
			if b.ID == p.BookingID && (b.QueuePosition == nil || *b.QueuePosition != p.Position) {
				return false
			}
		}
	}
	for _, b := range active {
		if b.QueueStatus != models.QueueOrange && b.QueuePosition != nil {
			return false
		}
	}
	return true
}
