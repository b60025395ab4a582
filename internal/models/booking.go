package models

import "time"

type BookingType string

const (
	BookingWalkIn  BookingType = "WALK_IN"
	BookingPreBook BookingType = "PRE_BOOK"
)

func (t BookingType) Valid() bool {
	return t == BookingWalkIn || t == BookingPreBook
}

// QueueStatus is the color-coded queue state of a booking.
type QueueStatus string

const (
	QueueRed       QueueStatus = "RED"    // booked, not arrived
	QueueOrange    QueueStatus = "ORANGE" // arrived, waiting
	QueueGreen     QueueStatus = "GREEN"  // in the chair
	QueueExpired   QueueStatus = "EXPIRED"
	QueueCompleted QueueStatus = "COMPLETED"
	QueueCancelled QueueStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave this status.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueExpired, QueueCompleted, QueueCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the status counts toward a barber's live queue.
func (s QueueStatus) Active() bool {
	return s == QueueRed || s == QueueOrange || s == QueueGreen
}

const (
	CompletionManual      = "MANUAL"
	CompletionAutoTimeout = "AUTO_TIMEOUT"
	CompletionCancelled   = "CANCELLED"
)

type Booking struct {
	ID           int64       `json:"id"`
	Code         string      `json:"code"`
	Type         BookingType `json:"booking_type"`
	SalonID      int64       `json:"salon_id"`
	BarberID     *int64      `json:"barber_id,omitempty"`
	BarberName   string      `json:"barber_name,omitempty"`
	CustomerName string      `json:"customer_name,omitempty"`

	QueueStatus   QueueStatus `json:"queue_status"`
	QueuePosition *int        `json:"queue_position,omitempty"`

	CreatedAt              time.Time  `json:"created_at"`
	ScheduledAt            *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt              time.Time  `json:"expires_at"`
	ArrivedAt              *time.Time `json:"arrived_at,omitempty"`
	ServiceStartedAt       *time.Time `json:"service_started_at,omitempty"`
	ExpectedCompletionTime *time.Time `json:"expected_completion_time,omitempty"`
	ServiceEndedAt         *time.Time `json:"service_ended_at,omitempty"`

	// Durations are in minutes.
	EstimatedDuration int `json:"estimated_duration"`
	SelectedDuration  int `json:"selected_duration"`
	ExtensionMinutes  int `json:"extension_minutes"`
	ActualDuration    int `json:"actual_duration"`

	IsExpired        bool      `json:"is_expired"`
	CompletionReason string    `json:"completion_reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// ServiceMinutes is the duration the chair is expected to be held,
// falling back to the estimate when the barber never stated one.
func (b *Booking) ServiceMinutes() int {
	if b.SelectedDuration > 0 {
		return b.SelectedDuration
	}
	return b.EstimatedDuration
}

func (b *Booking) AssignedTo(barberID int64) bool {
	return b.BarberID != nil && *b.BarberID == barberID
}
