package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"
)

const barberColumns = `id, salon_id, name, current_status, current_booking_id, current_service_end_time, absent_until, updated_at`

func scanBarber(row rowScanner) (*models.Barber, error) {
	var (
		b          models.Barber
		bookingID  sql.NullInt64
		serviceEnd sql.NullTime
		absent     sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.SalonID, &b.Name, &b.CurrentStatus, &bookingID, &serviceEnd, &absent, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.CurrentBookingID = int64Ptr(bookingID)
	b.CurrentServiceEndTime = timePtr(serviceEnd)
	b.AbsentUntil = timePtr(absent)
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (db *DB) GetBarber(ctx context.Context, id int64) (*models.Barber, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	b, err := scanBarber(db.QueryRowContext(ctx, `SELECT `+barberColumns+` FROM barbers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBarberNotFound
		}
		return nil, mapErr(err)
	}
	return b, nil
}

func (db *DB) ListBarbers(ctx context.Context) ([]*models.Barber, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx, `SELECT `+barberColumns+` FROM barbers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list barbers: %w", mapErr(err))
	}
	defer rows.Close()

	var barbers []*models.Barber
	for rows.Next() {
		b, err := scanBarber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan barber: %w", err)
		}
		barbers = append(barbers, b)
	}
	return barbers, mapErr(rows.Err())
}

const greenOfBarber = `SELECT %s FROM bookings WHERE barber_id = barbers.id AND queue_status = 'GREEN'`

// SyncBarberChair points the barber at its GREEN booking, or releases the chair
// when there is none. The decision and the write are one statement, so a
// transition committed in between is never overwritten. A DEACTIVATED barber
// keeps its status and a GREEN booking is never attached to it.
func (db *DB) SyncBarberChair(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	green := fmt.Sprintf(greenOfBarber, "id")
	query := `UPDATE barbers SET
                  current_booking_id = (` + green + `),
                  current_service_end_time = (` + fmt.Sprintf(greenOfBarber, "expected_completion_time") + `),
                  current_status = CASE
                      WHEN EXISTS (` + green + `) THEN 'OCCUPIED'
                      WHEN current_status = 'OCCUPIED' THEN 'AVAILABLE'
                      ELSE current_status END,
                  absent_until = CASE WHEN EXISTS (` + green + `) THEN NULL ELSE absent_until END,
                  updated_at = ?
              WHERE id = ?
                AND NOT (current_status = 'DEACTIVATED' AND EXISTS (` + green + `))
                AND (current_booking_id IS NOT (` + green + `)
                     OR (EXISTS (` + green + `) AND current_status <> 'OCCUPIED')
                     OR (NOT EXISTS (` + green + `) AND current_status = 'OCCUPIED'))`
	result, err := db.ExecContext(ctx, query, db.now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to sync barber %d: %w", id, mapErr(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// SetBarberAbsence marks the barber ABSENT until the given time, or indefinitely when until is nil.
// A barber who is serving or deactivated at write time is refused with ErrInvalidTransition.
func (db *DB) SetBarberAbsence(ctx context.Context, id int64, until *time.Time) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := `UPDATE barbers SET current_status = ?, absent_until = ?, updated_at = ?
              WHERE id = ? AND current_status IN ('AVAILABLE', 'ABSENT') AND current_booking_id IS NULL
                AND NOT EXISTS (` + fmt.Sprintf(greenOfBarber, "1") + `)`
	result, err := db.ExecContext(ctx, query, models.BarberAbsent, nullTime(until), db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to set barber absence: %w", mapErr(err))
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	barber, err := scanBarber(db.QueryRowContext(ctx, `SELECT `+barberColumns+` FROM barbers WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrBarberNotFound
	case err != nil:
		return mapErr(err)
	case barber.CurrentStatus == models.BarberDeactivated:
		return domain.InvalidTransitionf("barber %d is deactivated", id)
	default:
		return domain.InvalidTransitionf("barber %d is serving a customer", id)
	}
}

// EndBarberAbsence makes an ABSENT barber AVAILABLE. With dueBy set, an
// indefinite absence or one ending after dueBy is left alone.
func (db *DB) EndBarberAbsence(ctx context.Context, id int64, dueBy *time.Time) (bool, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	barber, err := scanBarber(tx.QueryRowContext(ctx, `SELECT `+barberColumns+` FROM barbers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrBarberNotFound
		}
		return false, mapErr(err)
	}
	if barber.CurrentStatus != models.BarberAbsent {
		return false, nil
	}
	if dueBy != nil && (barber.AbsentUntil == nil || barber.AbsentUntil.After(*dueBy)) {
		return false, nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE barbers SET current_status = ?, absent_until = NULL, updated_at = ? WHERE id = ? AND current_status = ?`,
		models.BarberAvailable, db.now(), id, models.BarberAbsent)
	if err != nil {
		return false, fmt.Errorf("failed to end barber absence: %w", mapErr(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit barber %d: %w", id, mapErr(err))
	}
	return n > 0, nil
}

// UpsertBarber inserts a seeded barber or refreshes its name and salon.
// Live status is only written for new rows.
func (db *DB) UpsertBarber(ctx context.Context, barber *models.Barber) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	status := barber.CurrentStatus
	if status == "" {
		status = models.BarberAvailable
	}
	if !status.Valid() {
		return fmt.Errorf("%w: barber status %q", domain.ErrInvalidInput, status)
	}

	now := db.now()
	query := `INSERT INTO barbers (id, salon_id, name, current_status, updated_at) VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET salon_id = excluded.salon_id, name = excluded.name,
                  current_status = CASE WHEN excluded.current_status = 'DEACTIVATED' THEN 'DEACTIVATED'
                      WHEN barbers.current_status = 'DEACTIVATED' THEN excluded.current_status
                      ELSE barbers.current_status END,
                  updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, barber.ID, barber.SalonID, barber.Name, status, now); err != nil {
		return fmt.Errorf("failed to upsert barber %d: %w", barber.ID, mapErr(err))
	}
	barber.UpdatedAt = now
	return nil
}
