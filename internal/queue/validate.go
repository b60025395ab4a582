package queue

import (
	"fmt"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"
)

// ValidateStart runs the start preconditions in order and returns the first failure.
// active must hold the barber's live bookings, including booking itself.
func ValidateStart(booking *models.Booking, active []*models.Booking, now time.Time, earlyWindow time.Duration) error {
	if err := CheckTransition(ActionStart, booking.QueueStatus); err != nil {
		return err
	}

	if holder := ChairHolder(active); holder != nil && holder.ID != booking.ID {
		return fmt.Errorf("%w: booking %s is in the chair", domain.ErrChairOccupied, holder.Code)
	}

	if head := Head(active); head != nil && head.ID != booking.ID {
		return &domain.OutOfOrderError{NextBookingID: head.ID, NextBookingCode: head.Code}
	}

	if booking.Type == models.BookingPreBook && booking.ScheduledAt != nil {
		earliest := booking.ScheduledAt.Add(-earlyWindow)
		if now.Before(earliest) {
			return domain.InvalidTransitionf("pre-booked service cannot start before %s", earliest.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// CheckArrival decides whether a RED booking may still check in at now.
func CheckArrival(booking *models.Booking, now time.Time) error {
	if booking.IsExpired {
		return domain.TerminalStateError(models.QueueExpired)
	}
	if err := CheckTransition(ActionArrive, booking.QueueStatus); err != nil {
		return err
	}
	if !now.Before(booking.ExpiresAt) {
		return fmt.Errorf("%w: hold ended at %s", domain.ErrExpiredBooking, booking.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if booking.BarberID == nil {
		return domain.InvalidTransitionf("booking %s has no barber assigned", booking.Code)
	}
	return nil
}

// ServiceOverrun reports whether a GREEN booking ran past its duration, extensions and grace.
func ServiceOverrun(booking *models.Booking, now time.Time, grace time.Duration) bool {
	if booking.QueueStatus != models.QueueGreen || booking.ServiceStartedAt == nil {
		return false
	}
	allowed := time.Duration(booking.ServiceMinutes()+booking.ExtensionMinutes) * time.Minute
	return now.Sub(*booking.ServiceStartedAt) > allowed+grace
}

// Overdue reports whether a RED booking passed its hold plus grace.
func Overdue(booking *models.Booking, now time.Time, grace time.Duration) bool {
	return booking.QueueStatus == models.QueueRed && now.After(booking.ExpiresAt.Add(grace))
}
