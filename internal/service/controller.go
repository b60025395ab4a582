package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"techtrims/internal/domain"
	"techtrims/internal/events"
	"techtrims/internal/models"
	"techtrims/internal/queue"
	"techtrims/internal/worker"

	"github.com/rs/zerolog"
)

const JobBarberResume = "barber_resume"

// Options carries the timing rules of the queue engine.
type Options struct {
	GracePeriod        time.Duration
	WalkInHold         time.Duration
	PreBookHold        time.Duration
	PreBookEarlyWindow time.Duration
	DefaultDuration    int
	LockTimeout        time.Duration
	StaleRetries       int
	Retry              worker.RetryPolicy
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		GracePeriod:        models.DefaultGracePeriod,
		WalkInHold:         models.DefaultWalkInHold,
		PreBookHold:        models.DefaultPreBookHold,
		PreBookEarlyWindow: models.DefaultPreBookEarlyWindow,
		DefaultDuration:    models.DefaultServiceMinutes,
		LockTimeout:        models.DefaultLockTTL,
		StaleRetries:       models.DefaultStaleRetries,
		Retry: worker.RetryPolicy{
			MaxRetries:    models.DefaultStaleRetries,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      200 * time.Millisecond,
			BackoffFactor: 2,
		},
	}
}

// QueueService drives every booking transition of the walk-in queue.
type QueueService struct {
	store     domain.Store
	positions *PositionCalculator
	eventBus  domain.EventPublisher
	jobs      domain.JobScheduler
	opts      Options
	logger    *zerolog.Logger
	now       func() time.Time
	intn      func(n int) int
}

func NewQueueService(store domain.Store, locker domain.Locker, eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) *QueueService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = models.DefaultServiceMinutes
	}
	s := &QueueService{
		store:    store,
		eventBus: eventBus,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		intn:     rand.IntN,
	}
	s.positions = NewPositionCalculator(store, locker, eventBus, opts, logger)
	return s
}

// SetClock replaces the wall clock, used by tests and replays.
func (s *QueueService) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// SetJobScheduler enables durable deferred work such as barber returns.
func (s *QueueService) SetJobScheduler(jobs domain.JobScheduler) {
	s.jobs = jobs
}

func (s *QueueService) Positions() *PositionCalculator {
	return s.positions
}

// CreateBookingRequest describes a new walk-in or pre-booking.
type CreateBookingRequest struct {
	Type              models.BookingType `json:"booking_type"`
	SalonID           int64              `json:"salon_id"`
	SalonName         string             `json:"salon_name"`
	BarberID          *int64             `json:"barber_id,omitempty"`
	CustomerName      string             `json:"customer_name"`
	ScheduledAt       *time.Time         `json:"scheduled_at,omitempty"`
	EstimatedDuration int                `json:"estimated_duration"`
}

func (s *QueueService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: booking type %q", domain.ErrInvalidInput, req.Type)
	}
	if req.SalonID <= 0 {
		return nil, fmt.Errorf("%w: salon_id is required", domain.ErrInvalidInput)
	}
	if req.EstimatedDuration < 0 {
		return nil, fmt.Errorf("%w: estimated_duration must not be negative", domain.ErrInvalidInput)
	}

	now := s.now()
	booking := &models.Booking{
		Type:              req.Type,
		SalonID:           req.SalonID,
		CustomerName:      req.CustomerName,
		QueueStatus:       models.QueueRed,
		CreatedAt:         now,
		EstimatedDuration: req.EstimatedDuration,
	}

	switch req.Type {
	case models.BookingPreBook:
		if req.ScheduledAt == nil {
			return nil, fmt.Errorf("%w: scheduled_at is required for pre-bookings", domain.ErrInvalidInput)
		}
		scheduled := req.ScheduledAt.UTC()
		booking.ScheduledAt = &scheduled
		booking.ExpiresAt = scheduled.Add(s.opts.PreBookHold)
	default:
		booking.ExpiresAt = now.Add(s.opts.WalkInHold)
	}
	if !booking.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: booking would already be expired", domain.ErrInvalidInput)
	}

	if req.BarberID != nil {
		barber, err := s.store.GetBarber(ctx, *req.BarberID)
		if err != nil {
			return nil, err
		}
		if barber.SalonID != req.SalonID {
			return nil, fmt.Errorf("%w: barber %d does not work at salon %d", domain.ErrInvalidInput, barber.ID, req.SalonID)
		}
		if barber.CurrentStatus == models.BarberDeactivated {
			return nil, fmt.Errorf("%w: barber %d is deactivated", domain.ErrInvalidInput, barber.ID)
		}
		id := barber.ID
		booking.BarberID = &id
		booking.BarberName = barber.Name
	}

	prefix := codePrefix(req.SalonName)
	for attempt := 1; ; attempt++ {
		booking.Code = fmt.Sprintf("%s-%0*d", prefix, models.BookingCodeDigits, s.intn(pow10(models.BookingCodeDigits)))
		err := s.store.InsertBooking(ctx, booking)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrDuplicateCode) || attempt >= models.BookingCodeAttempts {
			return nil, err
		}
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("code", booking.Code).
		Str("type", string(booking.Type)).
		Msg("booking created")
	s.publish(events.EventBookingCreated, booking, "", "")
	return booking, nil
}

func (s *QueueService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.FindBooking(ctx, id)
}

// CheckIn records the customer's arrival. With a free chair and nobody waiting
// the customer is seated immediately, otherwise they join the waiting queue.
func (s *QueueService) CheckIn(ctx context.Context, code string, salonID int64) (*models.Booking, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	booking, err := s.store.FindBookingByCode(ctx, code, salonID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := queue.CheckArrival(booking, now); err != nil {
		return nil, err
	}
	barberID := *booking.BarberID

	barber, err := s.store.GetBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ListActiveByBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}

	if barber.AcceptsWalkIns() && queue.ChairHolder(active) == nil && queue.Head(active) == nil {
		err := s.seat(ctx, booking, now)
		if err == nil {
			return s.afterTransition(ctx, booking.ID, events.EventServiceStarted, models.QueueRed)
		}
		if !errors.Is(err, domain.ErrChairOccupied) && !errors.Is(err, domain.ErrBarberUnavailable) {
			return nil, err
		}
		s.logger.Debug().Err(err).Int64("booking_id", booking.ID).Msg("chair taken during check-in, queueing")
	}

	err = s.store.ConditionalUpdate(ctx, booking.ID, models.QueueRed, domain.BookingUpdate{
		Status:    models.QueueOrange,
		ArrivedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	s.recompute(ctx, barberID)
	return s.afterTransition(ctx, booking.ID, events.EventBookingArrived, models.QueueRed)
}

func (s *QueueService) seat(ctx context.Context, booking *models.Booking, now time.Time) error {
	minutes := s.serviceMinutes(booking, 0)
	expected := now.Add(time.Duration(minutes) * time.Minute)
	bookingID := booking.ID
	return s.store.ConditionalUpdate(ctx, booking.ID, models.QueueRed, domain.BookingUpdate{
		Status:                 models.QueueGreen,
		RequireChairFree:       true,
		ArrivedAt:              &now,
		ServiceStartedAt:       &now,
		ExpectedCompletionTime: &expected,
		SelectedDuration:       &minutes,
		ClearPosition:          true,
		Barber: &domain.BarberSync{
			BarberID:              *booking.BarberID,
			Status:                models.BarberOccupied,
			CurrentBookingID:      &bookingID,
			CurrentServiceEndTime: &expected,
			RequireAccepting:      true,
		},
	})
}

// ValidateStart reports the first reason the booking cannot start now, or nil.
func (s *QueueService) ValidateStart(ctx context.Context, bookingID int64) error {
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	return s.validateStart(ctx, booking, s.now())
}

func (s *QueueService) validateStart(ctx context.Context, booking *models.Booking, now time.Time) error {
	if err := queue.CheckTransition(queue.ActionStart, booking.QueueStatus); err != nil {
		return err
	}
	if booking.BarberID == nil {
		return domain.InvalidTransitionf("booking %s has no barber assigned", booking.Code)
	}
	active, err := s.store.ListActiveByBarber(ctx, *booking.BarberID)
	if err != nil {
		return err
	}
	return queue.ValidateStart(booking, active, now, s.opts.PreBookEarlyWindow)
}

// StartService seats the head of the barber's waiting queue.
// durationMinutes of zero falls back to the booking's estimate.
func (s *QueueService) StartService(ctx context.Context, bookingID, barberID int64, durationMinutes int) (*models.Booking, error) {
	if durationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", domain.ErrInvalidInput)
	}
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.QueueStatus == models.QueueGreen {
		// lost a race against another start of the same booking
		return nil, fmt.Errorf("%w: booking %s was already started", domain.ErrStaleTransition, booking.Code)
	}

	now := s.now()
	if err := s.validateStart(ctx, booking, now); err != nil {
		return nil, err
	}
	if !booking.AssignedTo(barberID) {
		return nil, domain.InvalidTransitionf("booking %s is not assigned to barber %d", booking.Code, barberID)
	}

	barber, err := s.store.GetBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	if !barber.AcceptsWalkIns() {
		return nil, domain.InvalidTransitionf("barber %d is %s", barberID, barber.CurrentStatus)
	}

	minutes := s.serviceMinutes(booking, durationMinutes)
	expected := now.Add(time.Duration(minutes) * time.Minute)
	err = s.store.ConditionalUpdate(ctx, booking.ID, models.QueueOrange, domain.BookingUpdate{
		Status:                 models.QueueGreen,
		ExpectedVersion:        booking.Version,
		RequireChairFree:       true,
		ServiceStartedAt:       &now,
		ExpectedCompletionTime: &expected,
		SelectedDuration:       &minutes,
		ClearPosition:          true,
		Barber: &domain.BarberSync{
			BarberID:              barberID,
			Status:                models.BarberOccupied,
			CurrentBookingID:      &booking.ID,
			CurrentServiceEndTime: &expected,
			RequireAccepting:      true,
		},
	})
	if err != nil {
		return nil, err
	}

	s.recompute(ctx, barberID)
	return s.afterTransition(ctx, booking.ID, events.EventServiceStarted, models.QueueOrange)
}

// ExtendService pushes the expected completion back and tells the barber record.
func (s *QueueService) ExtendService(ctx context.Context, bookingID int64, additionalMinutes int) (*models.Booking, error) {
	if additionalMinutes <= 0 {
		return nil, fmt.Errorf("%w: additional minutes must be positive", domain.ErrInvalidInput)
	}
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := queue.CheckTransition(queue.ActionExtend, booking.QueueStatus); err != nil {
		return nil, err
	}

	started := booking.CreatedAt
	if booking.ServiceStartedAt != nil {
		started = *booking.ServiceStartedAt
	}
	extension := booking.ExtensionMinutes + additionalMinutes
	expected := started.Add(time.Duration(booking.ServiceMinutes()+extension) * time.Minute)

	upd := domain.BookingUpdate{
		Status:                 models.QueueGreen,
		ExpectedVersion:        booking.Version,
		ExtensionMinutes:       &extension,
		ExpectedCompletionTime: &expected,
	}
	if booking.BarberID != nil {
		upd.Barber = &domain.BarberSync{
			BarberID:              *booking.BarberID,
			Status:                models.BarberOccupied,
			CurrentBookingID:      &booking.ID,
			CurrentServiceEndTime: &expected,
			OnlyIfCurrent:         &booking.ID,
		}
	}
	if err := s.store.ConditionalUpdate(ctx, booking.ID, models.QueueGreen, upd); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, booking.ID, events.EventServiceExtended, models.QueueGreen)
}

// CompleteService frees the chair. The next customer is never started automatically.
func (s *QueueService) CompleteService(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := queue.CheckTransition(queue.ActionComplete, booking.QueueStatus); err != nil {
		return nil, err
	}
	if err := s.complete(ctx, booking, models.CompletionManual); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, booking.ID, events.EventServiceCompleted, models.QueueGreen)
}

func (s *QueueService) complete(ctx context.Context, booking *models.Booking, reason string) error {
	now := s.now()
	actual := 0
	if booking.ServiceStartedAt != nil && now.After(*booking.ServiceStartedAt) {
		actual = int(now.Sub(*booking.ServiceStartedAt).Round(time.Minute) / time.Minute)
	}

	upd := domain.BookingUpdate{
		Status:           models.QueueCompleted,
		ExpectedVersion:  booking.Version,
		ServiceEndedAt:   &now,
		ActualDuration:   &actual,
		CompletionReason: &reason,
		ClearPosition:    true,
	}
	if booking.BarberID != nil {
		upd.Barber = releaseChair(*booking.BarberID, booking.ID)
	}
	if err := s.store.ConditionalUpdate(ctx, booking.ID, models.QueueGreen, upd); err != nil {
		return err
	}
	if booking.BarberID != nil {
		s.recompute(ctx, *booking.BarberID)
	}
	return nil
}

// CancelBooking ends any live booking on an external request.
func (s *QueueService) CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	from := booking.QueueStatus
	if err := queue.CheckTransition(queue.ActionCancel, from); err != nil {
		return nil, err
	}

	reason := models.CompletionCancelled
	upd := domain.BookingUpdate{
		Status:           models.QueueCancelled,
		ExpectedVersion:  booking.Version,
		CompletionReason: &reason,
		ClearPosition:    true,
	}
	if from == models.QueueGreen && booking.BarberID != nil {
		now := s.now()
		upd.ServiceEndedAt = &now
		upd.Barber = releaseChair(*booking.BarberID, booking.ID)
	}
	if err := s.store.ConditionalUpdate(ctx, booking.ID, from, upd); err != nil {
		return nil, err
	}
	if from != models.QueueRed && booking.BarberID != nil {
		s.recompute(ctx, *booking.BarberID)
	}
	return s.afterTransition(ctx, booking.ID, events.EventBookingCancelled, from)
}

func releaseChair(barberID, bookingID int64) *domain.BarberSync {
	return &domain.BarberSync{
		BarberID:      barberID,
		Status:        models.BarberAvailable,
		OnlyIfCurrent: &bookingID,
	}
}

// WaitingEntry is a waiting booking with its projected start.
type WaitingEntry struct {
	Booking  *models.Booking `json:"booking"`
	Estimate queue.Estimate  `json:"estimate"`
}

// QueueView is a barber's live queue as shown to staff and customers.
type QueueView struct {
	Barber  *models.Barber    `json:"barber"`
	Current *models.Booking   `json:"current,omitempty"`
	Waiting []WaitingEntry    `json:"waiting"`
	Booked  []*models.Booking `json:"booked"`
}

func (s *QueueService) GetQueue(ctx context.Context, barberID int64) (*QueueView, error) {
	barber, err := s.store.GetBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ListActiveByBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	view := &QueueView{
		Barber:  barber,
		Current: queue.ChairHolder(active),
		Waiting: []WaitingEntry{},
		Booked:  []*models.Booking{},
	}

	chairFreeAt := now
	switch {
	case barber.CurrentServiceEndTime != nil:
		chairFreeAt = *barber.CurrentServiceEndTime
	case view.Current != nil && view.Current.ExpectedCompletionTime != nil:
		chairFreeAt = *view.Current.ExpectedCompletionTime
	}

	waiting := queue.Waiting(active)
	for i, est := range queue.EstimateWaits(waiting, now, chairFreeAt, s.opts.DefaultDuration) {
		view.Waiting = append(view.Waiting, WaitingEntry{Booking: waiting[i], Estimate: est})
	}
	for _, b := range active {
		if b.QueueStatus == models.QueueRed {
			view.Booked = append(view.Booked, b)
		}
	}
	return view, nil
}

// MarkBarberAbsent stops immediate seating for the barber. With until set,
// a durable job brings the barber back.
func (s *QueueService) MarkBarberAbsent(ctx context.Context, barberID int64, until *time.Time) (*models.Barber, error) {
	barber, err := s.store.GetBarber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	switch {
	case barber.CurrentStatus == models.BarberDeactivated:
		return nil, domain.InvalidTransitionf("barber %d is deactivated", barberID)
	case barber.CurrentStatus == models.BarberOccupied || barber.CurrentBookingID != nil:
		return nil, domain.InvalidTransitionf("barber %d is serving a customer", barberID)
	}
	if until != nil && !until.After(s.now()) {
		return nil, fmt.Errorf("%w: absence must end in the future", domain.ErrInvalidInput)
	}

	if err := s.store.SetBarberAbsence(ctx, barberID, until); err != nil {
		return nil, err
	}
	if until != nil && s.jobs != nil {
		if err := s.jobs.Schedule(ctx, JobBarberResume, *until, resumePayload{BarberID: barberID}); err != nil {
			s.logger.Error().Err(err).Int64("barber_id", barberID).Msg("failed to schedule barber return")
		}
	}

	s.publishBarber(events.EventBarberAbsent, barberID, models.BarberAbsent, until)
	return s.store.GetBarber(ctx, barberID)
}

// ReturnBarber makes an absent barber available again. Other states are left untouched.
func (s *QueueService) ReturnBarber(ctx context.Context, barberID int64) (*models.Barber, error) {
	if _, err := s.endAbsence(ctx, barberID, nil); err != nil {
		return nil, err
	}
	return s.store.GetBarber(ctx, barberID)
}

func (s *QueueService) endAbsence(ctx context.Context, barberID int64, dueBy *time.Time) (bool, error) {
	returned, err := s.store.EndBarberAbsence(ctx, barberID, dueBy)
	if err != nil || !returned {
		return false, err
	}
	s.publishBarber(events.EventBarberReturned, barberID, models.BarberAvailable, nil)
	return true, nil
}

type resumePayload struct {
	BarberID int64 `json:"barber_id"`
}

// HandleResumeJob runs a scheduled barber return. A newer, longer absence wins.
func (s *QueueService) HandleResumeJob(ctx context.Context, payload []byte) error {
	var p resumePayload
	if err := worker.DecodePayload(payload, &p); err != nil {
		return err
	}
	now := s.now()
	returned, err := s.endAbsence(ctx, p.BarberID, &now)
	if err != nil {
		return err
	}
	if !returned {
		s.logger.Info().Int64("barber_id", p.BarberID).Msg("barber is not due back, skipping return")
	}
	return nil
}

func (s *QueueService) serviceMinutes(booking *models.Booking, requested int) int {
	switch {
	case requested > 0:
		return requested
	case booking.ServiceMinutes() > 0:
		return booking.ServiceMinutes()
	default:
		return s.opts.DefaultDuration
	}
}

// recompute refreshes positions after a committed transition. Failures are logged;
// the next sweep repairs positions.
func (s *QueueService) recompute(ctx context.Context, barberID int64) {
	if _, err := s.positions.Recompute(ctx, barberID); err != nil {
		s.logger.Warn().Err(err).Int64("barber_id", barberID).Msg("position recompute failed")
	}
}

func (s *QueueService) afterTransition(ctx context.Context, bookingID int64, eventType string, from models.QueueStatus) (*models.Booking, error) {
	booking, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("from", string(from)).
		Str("to", string(booking.QueueStatus)).
		Msg("booking transitioned")
	s.publish(eventType, booking, from, booking.CompletionReason)
	return booking, nil
}

func (s *QueueService) publish(eventType string, b *models.Booking, from models.QueueStatus, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := events.QueueEventPayload{
		BookingID:   b.ID,
		Code:        b.Code,
		SalonID:     b.SalonID,
		BookingType: string(b.Type),
		From:        string(from),
		Status:      string(b.QueueStatus),
		Reason:      reason,
		At:          s.now(),
	}
	if b.BarberID != nil {
		payload.BarberID = *b.BarberID
	}
	if b.QueuePosition != nil {
		payload.Position = *b.QueuePosition
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (s *QueueService) publishBarber(eventType string, barberID int64, status models.BarberStatus, until *time.Time) {
	if s.eventBus == nil {
		return
	}
	payload := events.BarberEventPayload{BarberID: barberID, Status: string(status), AbsentUntil: until}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

// codePrefix is the first two letters of the salon name, upper-cased: "Studio Trim" -> "ST".
func codePrefix(salonName string) string {
	letters := make([]rune, 0, 2)
	for _, r := range salonName {
		if unicode.IsLetter(r) {
			letters = append(letters, unicode.ToUpper(r))
			if len(letters) == 2 {
				return string(letters)
			}
		}
	}
	return "TT"
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
