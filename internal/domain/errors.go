package domain

import (
	"errors"
	"fmt"

	"techtrims/internal/models"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrBarberNotFound    = errors.New("barber not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStaleTransition   = errors.New("stale transition")
	ErrChairOccupied     = errors.New("chair occupied")
	ErrOutOfOrder        = errors.New("out of order")
	ErrExpiredBooking    = errors.New("booking expired")
	ErrStoreTimeout      = errors.New("store timeout")
	ErrLockTimeout       = errors.New("queue lock timeout")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrBarberUnavailable is an invalid transition raised when the barber row
	// stopped accepting customers between the read and the write.
	ErrBarberUnavailable = fmt.Errorf("%w: barber is not accepting customers", ErrInvalidTransition)
)

// OutOfOrderError names the booking that has to be served first.
type OutOfOrderError struct {
	NextBookingID   int64
	NextBookingCode string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order: booking %s (id %d) must be served first", e.NextBookingCode, e.NextBookingID)
}

func (e *OutOfOrderError) Unwrap() error { return ErrOutOfOrder }

// InvalidTransitionf builds an ErrInvalidTransition carrying a caller-facing reason.
func InvalidTransitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// TerminalStateError is returned for any transition attempted from a terminal state.
// It always matches ErrStaleTransition; EXPIRED and COMPLETED also match
// ErrExpiredBooking, CANCELLED also matches ErrInvalidTransition.
func TerminalStateError(status models.QueueStatus) error {
	switch status {
	case models.QueueExpired, models.QueueCompleted:
		return fmt.Errorf("%w: %w: booking is %s", ErrStaleTransition, ErrExpiredBooking, status)
	default:
		return fmt.Errorf("%w: %w: booking is %s", ErrStaleTransition, ErrInvalidTransition, status)
	}
}

// ErrDuplicateCode is returned by the store when a booking code is already taken in a salon.
var ErrDuplicateCode = errors.New("booking code already exists")
