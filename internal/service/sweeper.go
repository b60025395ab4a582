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
)

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Expired       int
	AutoCompleted int
	Reconciled    int
	Errors        int
}

// Sweep runs one expiry pass. It satisfies worker.Sweeper.
func (s *QueueService) Sweep(ctx context.Context) error {
	report, err := s.RunSweep(ctx)
	metrics.IncSweep("expired", report.Expired)
	metrics.IncSweep("auto_completed", report.AutoCompleted)
	metrics.IncSweep("reconciled", report.Reconciled)
	metrics.IncSweep("errors", report.Errors)
	if report.Expired+report.AutoCompleted+report.Reconciled > 0 {
		s.logger.Info().
			Int("expired", report.Expired).
			Int("auto_completed", report.AutoCompleted).
			Int("reconciled", report.Reconciled).
			Msg("sweep finished")
	}
	return err
}

// RunSweep expires overdue arrivals, closes overrun services and repairs barber
// pointers and positions. Every step runs even if an earlier one failed.
func (s *QueueService) RunSweep(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	fail := func(err error) {
		report.Errors++
		errs = append(errs, err)
	}
	now := s.now()

	expired, err := s.store.SweepExpired(ctx, now, s.opts.GracePeriod)
	if err != nil {
		fail(fmt.Errorf("expire bookings: %w", err))
	}
	for _, b := range expired {
		report.Expired++
		s.publish(events.EventBookingExpired, b, models.QueueRed, "")
	}

	greens, err := s.store.ListByStatus(ctx, models.QueueGreen)
	if err != nil {
		fail(fmt.Errorf("list services: %w", err))
	}
	for _, b := range greens {
		if !queue.ServiceOverrun(b, now, s.opts.GracePeriod) {
			continue
		}
		err := s.complete(ctx, b, models.CompletionAutoTimeout)
		switch {
		case err == nil:
			report.AutoCompleted++
			if _, err := s.afterTransition(ctx, b.ID, events.EventServiceCompleted, models.QueueGreen); err != nil {
				fail(err)
			}
		case errors.Is(err, domain.ErrStaleTransition):
			// completed or extended concurrently
		default:
			fail(fmt.Errorf("auto-complete booking %d: %w", b.ID, err))
		}
	}

	reconciled, err := s.reconcileBarbers(ctx, now)
	report.Reconciled = reconciled
	if err != nil {
		fail(err)
	}

	return report, errors.Join(errs...)
}

// reconcileBarbers makes each barber's chair pointer match its GREEN booking
// and rewrites positions that drifted.
func (s *QueueService) reconcileBarbers(ctx context.Context, now time.Time) (int, error) {
	barbers, err := s.store.ListBarbers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list barbers: %w", err)
	}

	var (
		fixed int
		errs  []error
	)
	for _, barber := range barbers {
		changed, err := s.reconcileChair(ctx, barber, now)
		if err != nil {
			errs = append(errs, err)
		}
		if changed {
			fixed++
		}

		active, err := s.store.ListActiveByBarber(ctx, barber.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list queue of barber %d: %w", barber.ID, err))
			continue
		}
		if !InSync(active) {
			if _, err := s.positions.Recompute(ctx, barber.ID); err != nil {
				errs = append(errs, fmt.Errorf("recompute barber %d: %w", barber.ID, err))
				continue
			}
			fixed++
		}
	}
	return fixed, errors.Join(errs...)
}

// reconcileChair repairs the barber row in the store, never from the snapshot,
// so a start or completion racing the sweep keeps its pointer.
func (s *QueueService) reconcileChair(ctx context.Context, barber *models.Barber, now time.Time) (bool, error) {
	synced, err := s.store.SyncBarberChair(ctx, barber.ID)
	if err != nil {
		return false, fmt.Errorf("sync chair of barber %d: %w", barber.ID, err)
	}
	if synced {
		s.logger.Warn().Int64("barber_id", barber.ID).Msg("barber chair pointer was out of sync, repaired")
	}

	if barber.CurrentStatus != models.BarberAbsent || barber.AbsentUntil == nil || barber.AbsentUntil.After(now) {
		return synced, nil
	}
	returned, err := s.endAbsence(ctx, barber.ID, &now)
	if err != nil {
		return synced, fmt.Errorf("return barber %d: %w", barber.ID, err)
	}
	return synced || returned, nil
}
