package database

import (
	"context"
	"os"
	"testing"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout).Level(zerolog.WarnLevel)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBarber(t *testing.T, db *DB, id int64) {
	require.NoError(t, db.UpsertBarber(context.Background(), &models.Barber{ID: id, SalonID: 1, Name: "Barber"}))
}

func newWalkIn(barberID int64, code string, now time.Time) *models.Booking {
	id := barberID
	return &models.Booking{
		Code:              code,
		Type:              models.BookingWalkIn,
		SalonID:           1,
		BarberID:          &id,
		CustomerName:      "Customer",
		QueueStatus:       models.QueueRed,
		CreatedAt:         now,
		ExpiresAt:         now.Add(models.DefaultWalkInHold),
		EstimatedDuration: 30,
	}
}

func insertWithStatus(t *testing.T, db *DB, barberID int64, code string, status models.QueueStatus) *models.Booking {
	ctx := context.Background()
	b := newWalkIn(barberID, code, time.Now())
	require.NoError(t, db.InsertBooking(ctx, b))
	if status == models.QueueRed {
		return b
	}
	arrived := time.Now()
	require.NoError(t, db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{
		Status:    models.QueueOrange,
		ArrivedAt: &arrived,
	}))
	if status == models.QueueGreen {
		require.NoError(t, db.ConditionalUpdate(ctx, b.ID, models.QueueOrange, domain.BookingUpdate{
			Status:           models.QueueGreen,
			RequireChairFree: true,
		}))
	}
	found, err := db.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	return found
}

func TestInsertAndFindBooking(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 7)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newWalkIn(7, "ST-0001", now)
	require.NoError(t, db.InsertBooking(ctx, b))
	assert.NotZero(t, b.ID)
	assert.Equal(t, int64(1), b.Version)

	found, err := db.FindBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "ST-0001", found.Code)
	assert.Equal(t, models.QueueRed, found.QueueStatus)
	require.NotNil(t, found.BarberID)
	assert.Equal(t, int64(7), *found.BarberID)
	assert.True(t, found.CreatedAt.Equal(now))
	assert.True(t, found.ExpiresAt.Equal(now.Add(models.DefaultWalkInHold)))
	assert.Nil(t, found.QueuePosition)
	assert.Nil(t, found.ArrivedAt)

	byCode, err := db.FindBookingByCode(ctx, "ST-0001", 1)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byCode.ID)

	_, err = db.FindBookingByCode(ctx, "ST-0001", 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.FindBooking(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertBooking_DuplicateCode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertBooking(ctx, newWalkIn(1, "ST-1111", time.Now())))
	err := db.InsertBooking(ctx, newWalkIn(1, "ST-1111", time.Now()))
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	other := newWalkIn(1, "ST-1111", time.Now())
	other.SalonID = 2
	assert.NoError(t, db.InsertBooking(ctx, other))
}

func TestConditionalUpdate(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 1)
	ctx := context.Background()

	t.Run("applies fields and bumps version", func(t *testing.T) {
		b := insertWithStatus(t, db, 1, "ST-2001", models.QueueRed)
		arrived := time.Now().UTC()
		err := db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{
			Status:    models.QueueOrange,
			ArrivedAt: &arrived,
		})
		require.NoError(t, err)

		found, err := db.FindBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.QueueOrange, found.QueueStatus)
		assert.Equal(t, int64(2), found.Version)
		require.NotNil(t, found.ArrivedAt)
		assert.WithinDuration(t, arrived, *found.ArrivedAt, time.Millisecond)
	})

	t.Run("stale when status moved", func(t *testing.T) {
		b := insertWithStatus(t, db, 1, "ST-2002", models.QueueOrange)
		err := db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{Status: models.QueueOrange})
		assert.ErrorIs(t, err, domain.ErrStaleTransition)
	})

	t.Run("stale on version mismatch", func(t *testing.T) {
		b := insertWithStatus(t, db, 1, "ST-2003", models.QueueOrange)
		err := db.ConditionalUpdate(ctx, b.ID, models.QueueOrange, domain.BookingUpdate{
			Status:          models.QueueOrange,
			ExpectedVersion: b.Version + 5,
		})
		assert.ErrorIs(t, err, domain.ErrStaleTransition)
	})

	t.Run("terminal state", func(t *testing.T) {
		b := insertWithStatus(t, db, 1, "ST-2004", models.QueueRed)
		reason := models.CompletionCancelled
		require.NoError(t, db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{
			Status:           models.QueueCancelled,
			CompletionReason: &reason,
		}))

		err := db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{Status: models.QueueOrange})
		assert.ErrorIs(t, err, domain.ErrStaleTransition)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("not found", func(t *testing.T) {
		err := db.ConditionalUpdate(ctx, 424242, models.QueueRed, domain.BookingUpdate{Status: models.QueueOrange})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestConditionalUpdate_ChairExclusivity(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 3)
	ctx := context.Background()

	first := insertWithStatus(t, db, 3, "ST-3001", models.QueueOrange)
	second := insertWithStatus(t, db, 3, "ST-3002", models.QueueOrange)

	bookingID := first.ID
	require.NoError(t, db.ConditionalUpdate(ctx, first.ID, models.QueueOrange, domain.BookingUpdate{
		Status:           models.QueueGreen,
		RequireChairFree: true,
		Barber: &domain.BarberSync{
			BarberID:         3,
			Status:           models.BarberOccupied,
			CurrentBookingID: &bookingID,
		},
	}))

	barber, err := db.GetBarber(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, models.BarberOccupied, barber.CurrentStatus)
	require.NotNil(t, barber.CurrentBookingID)
	assert.Equal(t, first.ID, *barber.CurrentBookingID)

	err = db.ConditionalUpdate(ctx, second.ID, models.QueueOrange, domain.BookingUpdate{
		Status:           models.QueueGreen,
		RequireChairFree: true,
	})
	assert.ErrorIs(t, err, domain.ErrChairOccupied)

	// the unique index holds even without the guard
	err = db.ConditionalUpdate(ctx, second.ID, models.QueueOrange, domain.BookingUpdate{Status: models.QueueGreen})
	assert.ErrorIs(t, err, domain.ErrChairOccupied)

	found, err := db.FindBooking(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueOrange, found.QueueStatus)
}

func TestConditionalUpdate_ReleaseOnlyIfCurrent(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 4)
	ctx := context.Background()

	green := insertWithStatus(t, db, 4, "ST-4001", models.QueueGreen)
	other := int64(999)
	forceBarber(t, db, 4, models.BarberOccupied, &other)

	require.NoError(t, db.ConditionalUpdate(ctx, green.ID, models.QueueGreen, domain.BookingUpdate{
		Status:        models.QueueCompleted,
		ClearPosition: true,
		Barber: &domain.BarberSync{
			BarberID:      4,
			Status:        models.BarberAvailable,
			OnlyIfCurrent: &green.ID,
		},
	}))

	barber, err := db.GetBarber(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, models.BarberOccupied, barber.CurrentStatus)
	require.NotNil(t, barber.CurrentBookingID)
	assert.Equal(t, other, *barber.CurrentBookingID)
}

func TestBatchSetPositions(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 5)
	ctx := context.Background()

	a := insertWithStatus(t, db, 5, "ST-5001", models.QueueOrange)
	b := insertWithStatus(t, db, 5, "ST-5002", models.QueueOrange)

	require.NoError(t, db.BatchSetPositions(ctx, 5, []domain.Position{
		{BookingID: b.ID, Position: 1},
		{BookingID: a.ID, Position: 2},
	}))

	active, err := db.ListActiveByBarber(ctx, 5)
	require.NoError(t, err)
	require.Len(t, active, 2)
	positions := map[int64]int{}
	for _, bk := range active {
		require.NotNil(t, bk.QueuePosition)
		positions[bk.ID] = *bk.QueuePosition
	}
	assert.Equal(t, map[int64]int{a.ID: 2, b.ID: 1}, positions)

	t.Run("partial ranking is stale", func(t *testing.T) {
		err := db.BatchSetPositions(ctx, 5, []domain.Position{{BookingID: a.ID, Position: 1}})
		assert.ErrorIs(t, err, domain.ErrStaleTransition)
	})

	t.Run("positions cleared for bookings that left the wait", func(t *testing.T) {
		require.NoError(t, db.ConditionalUpdate(ctx, b.ID, models.QueueOrange, domain.BookingUpdate{
			Status:           models.QueueGreen,
			RequireChairFree: true,
		}))
		require.NoError(t, db.BatchSetPositions(ctx, 5, []domain.Position{{BookingID: a.ID, Position: 1}}))

		green, err := db.FindBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Nil(t, green.QueuePosition)
	})
}

func TestSweepExpired(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 6)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 5 * time.Minute

	due := newWalkIn(6, "ST-6001", now.Add(-time.Hour))
	due.ExpiresAt = now.Add(-grace - time.Second)
	require.NoError(t, db.InsertBooking(ctx, due))

	inGrace := newWalkIn(6, "ST-6002", now.Add(-time.Hour))
	inGrace.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, db.InsertBooking(ctx, inGrace))

	boundary := newWalkIn(6, "ST-6003", now.Add(-time.Hour))
	boundary.ExpiresAt = now.Add(-grace)
	require.NoError(t, db.InsertBooking(ctx, boundary))

	expired, err := db.SweepExpired(ctx, now, grace)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, due.ID, expired[0].ID)
	assert.Equal(t, models.QueueExpired, expired[0].QueueStatus)

	found, err := db.FindBooking(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, found.IsExpired)
	assert.Equal(t, models.QueueExpired, found.QueueStatus)

	again, err := db.SweepExpired(ctx, now, grace)
	require.NoError(t, err)
	assert.Empty(t, again)

	for _, id := range []int64{inGrace.ID, boundary.ID} {
		b, err := db.FindBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.QueueRed, b.QueueStatus)
		assert.False(t, b.IsExpired)
	}
}

func TestExpiredLatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	b := newWalkIn(1, "ST-7001", now.Add(-2*time.Hour))
	b.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, db.InsertBooking(ctx, b))

	_, err := db.SweepExpired(ctx, now, 0)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE bookings SET is_expired = 0 WHERE id = ?`, b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_expired cannot be cleared")

	err = db.ConditionalUpdate(ctx, b.ID, models.QueueRed, domain.BookingUpdate{Status: models.QueueOrange})
	assert.ErrorIs(t, err, domain.ErrExpiredBooking)
}

func TestStoreTimeout(t *testing.T) {
	db := setupTestDB(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := db.FindBooking(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrStoreTimeout)
}
