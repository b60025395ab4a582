package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingArrived   = "booking_arrived"
	EventServiceStarted   = "service_started"
	EventServiceExtended  = "service_extended"
	EventServiceCompleted = "service_completed"
	EventBookingExpired   = "booking_expired"
	EventBookingCancelled = "booking_cancelled"
	EventQueueReordered   = "queue_reordered"
	EventBarberAbsent     = "barber_absent"
	EventBarberReturned   = "barber_returned"
)

// QueueEventPayload is the booking snapshot delivered with every queue transition.
type QueueEventPayload struct {
	BookingID   int64     `json:"booking_id"`
	Code        string    `json:"code"`
	SalonID     int64     `json:"salon_id"`
	BarberID    int64     `json:"barber_id,omitempty"`
	BookingType string    `json:"booking_type"`
	From        string    `json:"from,omitempty"`
	Status      string    `json:"status"`
	Position    int       `json:"position,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// QueueReorderedPayload is published after a barber's waiting positions are rewritten.
type QueueReorderedPayload struct {
	BarberID int64 `json:"barber_id"`
	Waiting  int   `json:"waiting"`
}

// BarberEventPayload describes a barber availability change.
type BarberEventPayload struct {
	BarberID    int64      `json:"barber_id"`
	Status      string     `json:"status"`
	AbsentUntil *time.Time `json:"absent_until,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	}
}

// Publish notifies subscribers of the event type and returns the first handler error.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var firstErr error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

// AllQueueEvents lists every booking transition event.
func AllQueueEvents() []string {
	return []string{
		EventBookingCreated,
		EventBookingArrived,
		EventServiceStarted,
		EventServiceExtended,
		EventServiceCompleted,
		EventBookingExpired,
		EventBookingCancelled,
	}
}
