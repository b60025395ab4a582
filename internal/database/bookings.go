package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"
)

const bookingColumns = `id, code, booking_type, salon_id, barber_id, barber_name, customer_name,
	queue_status, queue_position, created_at, scheduled_at, expires_at, arrived_at,
	service_started_at, expected_completion_time, service_ended_at, estimated_duration,
	selected_duration, extension_minutes, actual_duration, is_expired, completion_reason,
	updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                           models.Booking
		barberID, position                          sql.NullInt64
		scheduled, arrived, started, expected, ended sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.Type, &b.SalonID, &barberID, &b.BarberName, &b.CustomerName,
		&b.QueueStatus, &position, &b.CreatedAt, &scheduled, &b.ExpiresAt, &arrived,
		&started, &expected, &ended, &b.EstimatedDuration,
		&b.SelectedDuration, &b.ExtensionMinutes, &b.ActualDuration, &b.IsExpired, &b.CompletionReason,
		&b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.BarberID = int64Ptr(barberID)
	b.QueuePosition = intPtr(position)
	b.ScheduledAt = timePtr(scheduled)
	b.ArrivedAt = timePtr(arrived)
	b.ServiceStartedAt = timePtr(started)
	b.ExpectedCompletionTime = timePtr(expected)
	b.ServiceEndedAt = timePtr(ended)
	b.CreatedAt = b.CreatedAt.UTC()
	b.ExpiresAt = b.ExpiresAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (db *DB) InsertBooking(ctx context.Context, booking *models.Booking) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	now := db.now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}

	query := `INSERT INTO bookings (
				code, booking_type, salon_id, barber_id, barber_name, customer_name,
				queue_status, created_at, scheduled_at, expires_at, estimated_duration,
				selected_duration, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := db.ExecContext(ctx, query,
		booking.Code,
		booking.Type,
		booking.SalonID,
		nullInt64(booking.BarberID),
		booking.BarberName,
		booking.CustomerName,
		booking.QueueStatus,
		utc(booking.CreatedAt),
		nullTime(booking.ScheduledAt),
		utc(booking.ExpiresAt),
		booking.EstimatedDuration,
		booking.SelectedDuration,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("failed to insert booking: %w", mapErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) FindBooking(ctx context.Context, id int64) (*models.Booking, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (db *DB) FindBookingByCode(ctx context.Context, code string, salonID int64) (*models.Booking, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE code = ? AND salon_id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, code, salonID))
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

// ListActiveByBarber returns the barber's RED, ORANGE and GREEN bookings that are not expired.
func (db *DB) ListActiveByBarber(ctx context.Context, barberID int64) ([]*models.Booking, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE barber_id = ? AND queue_status IN (?, ?, ?) AND is_expired = 0
              ORDER BY id ASC`
	return db.queryBookings(ctx, query, barberID, models.QueueRed, models.QueueOrange, models.QueueGreen)
}

func (db *DB) ListByStatus(ctx context.Context, status models.QueueStatus) ([]*models.Booking, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE queue_status = ? ORDER BY id ASC`
	return db.queryBookings(ctx, query, status)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	return queryBookingsOn(ctx, db.DB, query, args...)
}

func queryBookingsOn(ctx context.Context, q queryer, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", mapErr(err))
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return bookings, nil
}

// ConditionalUpdate applies upd only while the booking is still in the expected status.
// A lost race surfaces as ErrStaleTransition, a held chair as ErrChairOccupied.
func (db *DB) ConditionalUpdate(ctx context.Context, id int64, expected models.QueueStatus, upd domain.BookingUpdate) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := db.now()
	sets := []string{"queue_status = ?", "version = version + 1", "updated_at = ?"}
	args := []interface{}{upd.Status, now}

	setTime := func(col string, t *time.Time) {
		if t != nil {
			sets = append(sets, col+" = ?")
			args = append(args, utc(*t))
		}
	}
	setInt := func(col string, v *int) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}

	setTime("arrived_at", upd.ArrivedAt)
	setTime("service_started_at", upd.ServiceStartedAt)
	setTime("expected_completion_time", upd.ExpectedCompletionTime)
	setTime("service_ended_at", upd.ServiceEndedAt)
	setInt("selected_duration", upd.SelectedDuration)
	setInt("extension_minutes", upd.ExtensionMinutes)
	setInt("actual_duration", upd.ActualDuration)
	if upd.CompletionReason != nil {
		sets = append(sets, "completion_reason = ?")
		args = append(args, *upd.CompletionReason)
	}
	if upd.MarkExpired {
		sets = append(sets, "is_expired = 1")
	}
	if upd.ClearPosition {
		sets = append(sets, "queue_position = NULL")
	}

	where := []string{"id = ?", "queue_status = ?"}
	args = append(args, id, expected)
	if expected.Active() {
		where = append(where, "is_expired = 0")
	}
	if upd.ExpectedVersion > 0 {
		where = append(where, "version = ?")
		args = append(args, upd.ExpectedVersion)
	}
	if upd.RequireChairFree {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM bookings g
			WHERE g.barber_id = bookings.barber_id AND g.queue_status = 'GREEN' AND g.id <> bookings.id)`)
	}

	query := "UPDATE bookings SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ")
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrChairOccupied
		}
		return fmt.Errorf("failed to update booking %d: %w", id, mapErr(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return classifyMiss(ctx, tx, id, expected, upd)
	}

	if upd.Barber != nil {
		if err := syncBarber(ctx, tx, upd.Barber, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking %d: %w", id, mapErr(err))
	}
	return nil
}

// classifyMiss explains why a conditional update matched no row.
func classifyMiss(ctx context.Context, tx *sql.Tx, id int64, expected models.QueueStatus, upd domain.BookingUpdate) error {
	var (
		status   models.QueueStatus
		expired  bool
		version  int64
		barberID sql.NullInt64
	)
	err := tx.QueryRowContext(ctx, `SELECT queue_status, is_expired, version, barber_id FROM bookings WHERE id = ?`, id).
		Scan(&status, &expired, &version, &barberID)
	if err != nil {
		return mapErr(err)
	}

	if status.Terminal() {
		return domain.TerminalStateError(status)
	}
	if expired {
		return fmt.Errorf("%w: %w", domain.ErrStaleTransition, domain.ErrExpiredBooking)
	}
	if status != expected {
		return fmt.Errorf("%w: booking is %s, expected %s", domain.ErrStaleTransition, status, expected)
	}
	if upd.ExpectedVersion > 0 && version != upd.ExpectedVersion {
		return fmt.Errorf("%w: booking was modified concurrently", domain.ErrStaleTransition)
	}
	if upd.RequireChairFree && barberID.Valid {
		var holder int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM bookings WHERE barber_id = ? AND queue_status = 'GREEN' AND id <> ? LIMIT 1`,
			barberID.Int64, id).Scan(&holder)
		if err == nil {
			return fmt.Errorf("%w: booking %d is in the chair", domain.ErrChairOccupied, holder)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return mapErr(err)
		}
	}
	return domain.ErrStaleTransition
}

func syncBarber(ctx context.Context, tx *sql.Tx, sync *domain.BarberSync, now time.Time) error {
	query := `UPDATE barbers SET current_status = ?, current_booking_id = ?, current_service_end_time = ?, updated_at = ?
              WHERE id = ?`
	args := []interface{}{sync.Status, nullInt64(sync.CurrentBookingID), nullTime(sync.CurrentServiceEndTime), now, sync.BarberID}
	if sync.OnlyIfCurrent != nil {
		query += ` AND current_booking_id = ?`
		args = append(args, *sync.OnlyIfCurrent)
	}
	if sync.RequireAccepting {
		query += ` AND current_status IN (?, ?)`
		args = append(args, models.BarberAvailable, models.BarberOccupied)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to sync barber %d: %w", sync.BarberID, mapErr(err))
	}
	if sync.RequireAccepting {
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: barber %d", domain.ErrBarberUnavailable, sync.BarberID)
		}
	}
	return nil
}

// BatchSetPositions writes a full ranking of the barber's ORANGE bookings.
// The ranking must cover exactly the current ORANGE set; anything else is stale.
func (db *DB) BatchSetPositions(ctx context.Context, barberID int64, positions []domain.Position) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var orangeCount int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE barber_id = ? AND queue_status = ? AND is_expired = 0`,
		barberID, models.QueueOrange).Scan(&orangeCount)
	if err != nil {
		return fmt.Errorf("failed to count waiting bookings: %w", mapErr(err))
	}
	if orangeCount != len(positions) {
		return fmt.Errorf("%w: %d waiting bookings, ranking covers %d", domain.ErrStaleTransition, orangeCount, len(positions))
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET queue_position = NULL
         WHERE barber_id = ? AND queue_status <> ? AND queue_position IS NOT NULL`,
		barberID, models.QueueOrange)
	if err != nil {
		return fmt.Errorf("failed to clear positions: %w", mapErr(err))
	}

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE bookings SET queue_position = ? WHERE id = ? AND barber_id = ? AND queue_status = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare position update: %w", mapErr(err))
	}
	defer stmt.Close()

	for _, p := range positions {
		result, err := stmt.ExecContext(ctx, p.Position, p.BookingID, barberID, models.QueueOrange)
		if err != nil {
			return fmt.Errorf("failed to set position of booking %d: %w", p.BookingID, mapErr(err))
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: booking %d left the waiting queue", domain.ErrStaleTransition, p.BookingID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit positions: %w", mapErr(err))
	}
	return nil
}

// SweepExpired moves every RED booking past expires_at+grace to EXPIRED and returns them.
func (db *DB) SweepExpired(ctx context.Context, now time.Time, grace time.Duration) ([]*models.Booking, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapErr(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	candidates, err := queryBookingsOn(ctx, tx,
		`SELECT `+bookingColumns+` FROM bookings WHERE queue_status = ? AND is_expired = 0 ORDER BY id ASC`,
		models.QueueRed)
	if err != nil {
		return nil, err
	}

	stamp := db.now()
	var expired []*models.Booking
	for _, b := range candidates {
		if !now.After(b.ExpiresAt.Add(grace)) {
			continue
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE bookings SET queue_status = ?, is_expired = 1, queue_position = NULL,
                 version = version + 1, updated_at = ?
             WHERE id = ? AND queue_status = ? AND is_expired = 0`,
			models.QueueExpired, stamp, b.ID, models.QueueRed)
		if err != nil {
			return nil, fmt.Errorf("failed to expire booking %d: %w", b.ID, mapErr(err))
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		b.QueueStatus = models.QueueExpired
		b.IsExpired = true
		b.QueuePosition = nil
		b.Version++
		b.UpdatedAt = stamp
		expired = append(expired, b)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sweep: %w", mapErr(err))
	}
	return expired, nil
}
