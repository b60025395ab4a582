package models

import "time"

const (
	// DefaultGracePeriod is added to every deadline before a sweep acts on it.
	DefaultGracePeriod = 5 * time.Minute
	// DefaultSweepInterval is how often the expiry sweeper polls.
	DefaultSweepInterval = 30 * time.Second
	// DefaultWalkInHold is how long a walk-in booking stays RED before it expires.
	DefaultWalkInHold = 45 * time.Minute
	// DefaultPreBookHold is how long after its scheduled time a pre-booking may still arrive.
	DefaultPreBookHold = 15 * time.Minute
	// DefaultPreBookEarlyWindow bounds how early a pre-booked service may start.
	DefaultPreBookEarlyWindow = 10 * time.Minute
	// DefaultStoreTimeout bounds every store round trip.
	DefaultStoreTimeout = 3 * time.Second
	// DefaultLockTTL is the lease of a per-barber queue lock.
	DefaultLockTTL = 5 * time.Second
	// DefaultServiceMinutes is used when neither the customer nor the barber gave a duration.
	DefaultServiceMinutes = 30
	// DefaultStaleRetries bounds internal retries after a lost compare-and-swap.
	DefaultStaleRetries = 3
	// DefaultJobPollInterval is how often the job runner looks for due jobs.
	DefaultJobPollInterval = 5 * time.Second

	// CheckInLimitAttempts and CheckInLimitWindow throttle code guessing.
	CheckInLimitAttempts = 10
	CheckInLimitWindow   = time.Minute

	BookingCodeDigits   = 4
	BookingCodeAttempts = 10
)
