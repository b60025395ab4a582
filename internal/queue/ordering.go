package queue

import (
	"sort"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"
)

// Less orders waiting bookings: pre-bookings first, then arrival, then creation.
// The booking ID breaks any remaining tie so the order is total.
func Less(a, b *models.Booking) bool {
	if (a.Type == models.BookingPreBook) != (b.Type == models.BookingPreBook) {
		return a.Type == models.BookingPreBook
	}
	at, bt := arrival(a), arrival(b)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func arrival(b *models.Booking) time.Time {
	if b.ArrivedAt != nil {
		return *b.ArrivedAt
	}
	return b.CreatedAt
}

// Waiting returns the ORANGE bookings of the slice in queue order.
// The input is not modified.
func Waiting(bookings []*models.Booking) []*models.Booking {
	waiting := make([]*models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.QueueStatus == models.QueueOrange && !b.IsExpired {
			waiting = append(waiting, b)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool { return Less(waiting[i], waiting[j]) })
	return waiting
}

// Rank assigns contiguous 1-based positions to the waiting bookings.
func Rank(bookings []*models.Booking) []domain.Position {
	waiting := Waiting(bookings)
	positions := make([]domain.Position, len(waiting))
	for i, b := range waiting {
		positions[i] = domain.Position{BookingID: b.ID, Position: i + 1}
	}
	return positions
}

// Head is the booking to be served next, or nil when nobody waits.
func Head(bookings []*models.Booking) *models.Booking {
	waiting := Waiting(bookings)
	if len(waiting) == 0 {
		return nil
	}
	return waiting[0]
}

// ChairHolder returns the GREEN booking among bookings, if any.
func ChairHolder(bookings []*models.Booking) *models.Booking {
	for _, b := range bookings {
		if b.QueueStatus == models.QueueGreen {
			return b
		}
	}
	return nil
}

// Estimate is the projected start of a waiting booking.
type Estimate struct {
	BookingID      int64     `json:"booking_id"`
	Position       int       `json:"position"`
	EstimatedStart time.Time `json:"estimated_start"`
	WaitMinutes    int       `json:"wait_minutes"`
}

// EstimateWaits projects start times by chaining service durations from chairFreeAt.
// Bookings without a duration count as defaultMinutes.
func EstimateWaits(bookings []*models.Booking, now, chairFreeAt time.Time, defaultMinutes int) []Estimate {
	if chairFreeAt.Before(now) {
		chairFreeAt = now
	}
	waiting := Waiting(bookings)
	estimates := make([]Estimate, len(waiting))
	start := chairFreeAt
	for i, b := range waiting {
		estimates[i] = Estimate{
			BookingID:      b.ID,
			Position:       i + 1,
			EstimatedStart: start,
			WaitMinutes:    int(start.Sub(now).Round(time.Minute) / time.Minute),
		}
		minutes := b.ServiceMinutes()
		if minutes <= 0 {
			minutes = defaultMinutes
		}
		start = start.Add(time.Duration(minutes) * time.Minute)
	}
	return estimates
}
