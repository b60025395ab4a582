package database

import (
	"context"
	"testing"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forceBarber writes the barber row directly to set up drift.
func forceBarber(t *testing.T, db *DB, id int64, status models.BarberStatus, current *int64) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`UPDATE barbers SET current_status = ?, current_booking_id = ? WHERE id = ?`,
		status, nullInt64(current), id)
	require.NoError(t, err)
}

func TestBarbers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertBarber(ctx, &models.Barber{ID: 1, SalonID: 1, Name: "Ana"}))
	require.NoError(t, db.UpsertBarber(ctx, &models.Barber{ID: 2, SalonID: 1, Name: "Ben", CurrentStatus: models.BarberDeactivated}))

	t.Run("defaults to available", func(t *testing.T) {
		b, err := db.GetBarber(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.BarberAvailable, b.CurrentStatus)
		assert.Nil(t, b.CurrentBookingID)
	})

	t.Run("reseed keeps live status", func(t *testing.T) {
		current := int64(10)
		forceBarber(t, db, 1, models.BarberOccupied, &current)
		require.NoError(t, db.UpsertBarber(ctx, &models.Barber{ID: 1, SalonID: 1, Name: "Ana Maria"}))

		b, err := db.GetBarber(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Ana Maria", b.Name)
		assert.Equal(t, models.BarberOccupied, b.CurrentStatus)
		require.NotNil(t, b.CurrentBookingID)
		assert.Equal(t, current, *b.CurrentBookingID)
		forceBarber(t, db, 1, models.BarberAvailable, nil)
	})

	t.Run("reseed reactivates", func(t *testing.T) {
		require.NoError(t, db.UpsertBarber(ctx, &models.Barber{ID: 2, SalonID: 1, Name: "Ben"}))
		b, err := db.GetBarber(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, models.BarberAvailable, b.CurrentStatus)
	})

	t.Run("unknown barber", func(t *testing.T) {
		_, err := db.GetBarber(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrBarberNotFound)
		assert.ErrorIs(t, db.SetBarberAbsence(ctx, 99, nil), domain.ErrBarberNotFound)
		_, err = db.EndBarberAbsence(ctx, 99, nil)
		assert.ErrorIs(t, err, domain.ErrBarberNotFound)
	})

	t.Run("invalid status", func(t *testing.T) {
		err := db.UpsertBarber(ctx, &models.Barber{ID: 3, Name: "X", CurrentStatus: "SLEEPING"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	barbers, err := db.ListBarbers(ctx)
	require.NoError(t, err)
	assert.Len(t, barbers, 2)
}

func TestBarberAbsence(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 1)
	ctx := context.Background()
	until := time.Now().Add(time.Hour).UTC()

	require.NoError(t, db.SetBarberAbsence(ctx, 1, &until))
	b, err := db.GetBarber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BarberAbsent, b.CurrentStatus)
	require.NotNil(t, b.AbsentUntil)

	// a second call moves the end of the absence
	later := until.Add(time.Hour)
	require.NoError(t, db.SetBarberAbsence(ctx, 1, &later))

	early := until
	returned, err := db.EndBarberAbsence(ctx, 1, &early)
	require.NoError(t, err)
	assert.False(t, returned, "absence ends after dueBy")

	returned, err = db.EndBarberAbsence(ctx, 1, &later)
	require.NoError(t, err)
	assert.True(t, returned)

	b, err = db.GetBarber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BarberAvailable, b.CurrentStatus)
	assert.Nil(t, b.AbsentUntil)

	returned, err = db.EndBarberAbsence(ctx, 1, nil)
	require.NoError(t, err)
	assert.False(t, returned, "barber is not absent")
}

func TestBarberAbsence_IndefiniteNotDue(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 1)
	ctx := context.Background()

	require.NoError(t, db.SetBarberAbsence(ctx, 1, nil))
	now := time.Now().UTC()
	returned, err := db.EndBarberAbsence(ctx, 1, &now)
	require.NoError(t, err)
	assert.False(t, returned)

	returned, err = db.EndBarberAbsence(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, returned)
}

func TestBarberAbsence_RefusedWhileServing(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 1)
	seedBarber(t, db, 2)
	ctx := context.Background()

	// GREEN booking without a barber pointer: the booking table alone blocks the absence
	insertWithStatus(t, db, 1, "ST-0101", models.QueueGreen)
	err := db.SetBarberAbsence(ctx, 1, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	b, err := db.GetBarber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BarberAvailable, b.CurrentStatus)

	forceBarber(t, db, 2, models.BarberDeactivated, nil)
	assert.ErrorIs(t, db.SetBarberAbsence(ctx, 2, nil), domain.ErrInvalidTransition)
}

func TestSyncBarberChair(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches the GREEN booking", func(t *testing.T) {
		db := setupTestDB(t)
		seedBarber(t, db, 1)
		green := insertWithStatus(t, db, 1, "ST-0201", models.QueueGreen)

		synced, err := db.SyncBarberChair(ctx, 1)
		require.NoError(t, err)
		assert.True(t, synced)

		b, err := db.GetBarber(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.BarberOccupied, b.CurrentStatus)
		require.NotNil(t, b.CurrentBookingID)
		assert.Equal(t, green.ID, *b.CurrentBookingID)

		synced, err = db.SyncBarberChair(ctx, 1)
		require.NoError(t, err)
		assert.False(t, synced, "already in sync")
	})

	t.Run("releases a dangling pointer", func(t *testing.T) {
		db := setupTestDB(t)
		seedBarber(t, db, 1)
		gone := int64(77)
		forceBarber(t, db, 1, models.BarberOccupied, &gone)

		synced, err := db.SyncBarberChair(ctx, 1)
		require.NoError(t, err)
		assert.True(t, synced)

		b, err := db.GetBarber(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.BarberAvailable, b.CurrentStatus)
		assert.Nil(t, b.CurrentBookingID)
		assert.Nil(t, b.CurrentServiceEndTime)
	})

	t.Run("keeps an absent barber absent", func(t *testing.T) {
		db := setupTestDB(t)
		seedBarber(t, db, 1)
		gone := int64(77)
		forceBarber(t, db, 1, models.BarberAbsent, &gone)

		synced, err := db.SyncBarberChair(ctx, 1)
		require.NoError(t, err)
		assert.True(t, synced)

		b, err := db.GetBarber(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.BarberAbsent, b.CurrentStatus)
		assert.Nil(t, b.CurrentBookingID)
	})

	t.Run("leaves a deactivated barber alone", func(t *testing.T) {
		db := setupTestDB(t)
		seedBarber(t, db, 1)
		insertWithStatus(t, db, 1, "ST-0301", models.QueueGreen)
		forceBarber(t, db, 1, models.BarberDeactivated, nil)

		synced, err := db.SyncBarberChair(ctx, 1)
		require.NoError(t, err)
		assert.False(t, synced)
	})

	t.Run("unknown barber", func(t *testing.T) {
		db := setupTestDB(t)
		synced, err := db.SyncBarberChair(ctx, 42)
		require.NoError(t, err)
		assert.False(t, synced)
	})
}

func TestConditionalUpdate_RequireAccepting(t *testing.T) {
	db := setupTestDB(t)
	seedBarber(t, db, 1)
	ctx := context.Background()

	waiting := insertWithStatus(t, db, 1, "ST-0401", models.QueueOrange)
	require.NoError(t, db.SetBarberAbsence(ctx, 1, nil))

	err := db.ConditionalUpdate(ctx, waiting.ID, models.QueueOrange, domain.BookingUpdate{
		Status:           models.QueueGreen,
		RequireChairFree: true,
		Barber: &domain.BarberSync{
			BarberID:         1,
			Status:           models.BarberOccupied,
			CurrentBookingID: &waiting.ID,
			RequireAccepting: true,
		},
	})
	assert.ErrorIs(t, err, domain.ErrBarberUnavailable)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	found, err := db.FindBooking(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueOrange, found.QueueStatus, "booking write rolled back")

	b, err := db.GetBarber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BarberAbsent, b.CurrentStatus)
}
