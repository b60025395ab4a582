package models

import "time"

type BarberStatus string

const (
	BarberAvailable   BarberStatus = "AVAILABLE"
	BarberOccupied    BarberStatus = "OCCUPIED"
	BarberAbsent      BarberStatus = "ABSENT"
	BarberDeactivated BarberStatus = "DEACTIVATED"
)

func (s BarberStatus) Valid() bool {
	switch s {
	case BarberAvailable, BarberOccupied, BarberAbsent, BarberDeactivated:
		return true
	default:
		return false
	}
}

// Barber is a single-chair service resource.
type Barber struct {
	ID                    int64        `json:"id" yaml:"id"`
	SalonID               int64        `json:"salon_id" yaml:"salon_id"`
	Name                  string       `json:"name" yaml:"name"`
	CurrentStatus         BarberStatus `json:"current_status" yaml:"status"`
	CurrentBookingID      *int64       `json:"current_booking_id,omitempty" yaml:"-"`
	CurrentServiceEndTime *time.Time   `json:"current_service_end_time,omitempty" yaml:"-"`
	AbsentUntil           *time.Time   `json:"absent_until,omitempty" yaml:"-"`
	UpdatedAt             time.Time    `json:"updated_at" yaml:"-"`
}

// AcceptsWalkIns reports whether a customer may be seated right away.
func (b *Barber) AcceptsWalkIns() bool {
	return b.CurrentStatus == BarberAvailable || b.CurrentStatus == BarberOccupied
}
