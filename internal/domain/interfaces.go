package domain

import (
	"context"
	"time"

	"techtrims/internal/models"
)

// BookingUpdate describes the fields written by a conditional transition.
// Nil pointers leave the column untouched.
type BookingUpdate struct {
	Status models.QueueStatus

	// ExpectedVersion adds "AND version = ?" when non-zero.
	ExpectedVersion int64
	// RequireChairFree adds a NOT EXISTS guard against another GREEN booking
	// of the same barber in the same statement.
	RequireChairFree bool

	ArrivedAt              *time.Time
	ServiceStartedAt       *time.Time
	ExpectedCompletionTime *time.Time
	ServiceEndedAt         *time.Time
	SelectedDuration       *int
	ExtensionMinutes       *int
	ActualDuration         *int
	CompletionReason       *string
	MarkExpired            bool
	ClearPosition          bool

	// Barber, when set, is applied in the same transaction as the booking write.
	Barber *BarberSync
}

// BarberSync keeps the barber's chair pointer consistent with a booking transition.
type BarberSync struct {
	BarberID              int64
	Status                models.BarberStatus
	CurrentBookingID      *int64
	CurrentServiceEndTime *time.Time
	// OnlyIfCurrent restricts the barber write to rows whose current_booking_id matches.
	OnlyIfCurrent *int64
	// RequireAccepting fails the whole transition with ErrBarberUnavailable
	// unless the barber is AVAILABLE or OCCUPIED at write time.
	RequireAccepting bool
}

type Position struct {
	BookingID int64
	Position  int
}

type BookingStore interface {
	InsertBooking(ctx context.Context, booking *models.Booking) error
	FindBooking(ctx context.Context, id int64) (*models.Booking, error)
	FindBookingByCode(ctx context.Context, code string, salonID int64) (*models.Booking, error)
	ListActiveByBarber(ctx context.Context, barberID int64) ([]*models.Booking, error)
	ListByStatus(ctx context.Context, status models.QueueStatus) ([]*models.Booking, error)
	ConditionalUpdate(ctx context.Context, id int64, expected models.QueueStatus, upd BookingUpdate) error
	BatchSetPositions(ctx context.Context, barberID int64, positions []Position) error
	SweepExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*models.Booking, error)
}

type BarberStore interface {
	GetBarber(ctx context.Context, id int64) (*models.Barber, error)
	// SyncBarberChair derives the chair pointer from the barber's GREEN booking
	// in one statement and reports whether the row drifted.
	SyncBarberChair(ctx context.Context, id int64) (bool, error)
	SetBarberAbsence(ctx context.Context, id int64, until *time.Time) error
	// EndBarberAbsence returns an ABSENT barber to AVAILABLE. With dueBy set the
	// absence must have ended by then. It reports whether the row changed.
	EndBarberAbsence(ctx context.Context, id int64, dueBy *time.Time) (bool, error)
	UpsertBarber(ctx context.Context, barber *models.Barber) error
	ListBarbers(ctx context.Context) ([]*models.Barber, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScheduledJob) error
	DueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	UpdateJobStatus(ctx context.Context, id int64, status, errMsg string, runAt *time.Time) error
}

// Store is everything the queue engine needs from persistence.
type Store interface {
	BookingStore
	BarberStore
	JobStore
	Ping(ctx context.Context) error
}

// Locker serializes work on a single key across goroutines and processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RateLimiter counts attempts per key inside a fixed window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// JobScheduler enqueues durable deferred work.
type JobScheduler interface {
	Schedule(ctx context.Context, jobType string, runAt time.Time, payload interface{}) error
}
