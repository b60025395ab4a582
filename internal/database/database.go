package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"techtrims/internal/domain"
	"techtrims/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite-backed booking, barber and job store.
type DB struct {
	*sql.DB
	logger  *zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{
		DB:      sqlDB,
		logger:  logger,
		timeout: models.DefaultStoreTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            code TEXT NOT NULL,
            booking_type TEXT NOT NULL,
            salon_id INTEGER NOT NULL,
            barber_id INTEGER,
            barber_name TEXT NOT NULL DEFAULT '',
            customer_name TEXT NOT NULL DEFAULT '',
            queue_status TEXT NOT NULL,
            queue_position INTEGER,
            created_at DATETIME NOT NULL,
            scheduled_at DATETIME,
            expires_at DATETIME NOT NULL,
            arrived_at DATETIME,
            service_started_at DATETIME,
            expected_completion_time DATETIME,
            service_ended_at DATETIME,
            estimated_duration INTEGER NOT NULL DEFAULT 0,
            selected_duration INTEGER NOT NULL DEFAULT 0,
            extension_minutes INTEGER NOT NULL DEFAULT 0,
            actual_duration INTEGER NOT NULL DEFAULT 0,
            is_expired BOOLEAN NOT NULL DEFAULT 0,
            completion_reason TEXT NOT NULL DEFAULT '',
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS barbers (
            id INTEGER PRIMARY KEY,
            salon_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            current_status TEXT NOT NULL DEFAULT 'AVAILABLE',
            current_booking_id INTEGER,
            current_service_end_time DATETIME,
            absent_until DATETIME,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_type TEXT NOT NULL,
            payload TEXT NOT NULL,
            run_at DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_salon_code ON bookings(salon_id, code)`,
		// chair exclusivity: at most one GREEN booking per barber
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_barber_green ON bookings(barber_id) WHERE queue_status = 'GREEN'`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_barber_status ON bookings(barber_id, queue_status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(queue_status)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due ON scheduled_jobs(status, run_at)`,

		`CREATE TRIGGER IF NOT EXISTS trg_bookings_expired_latch
            BEFORE UPDATE OF is_expired ON bookings
            WHEN OLD.is_expired = 1 AND NEW.is_expired = 0
            BEGIN
                SELECT RAISE(ABORT, 'is_expired cannot be cleared');
            END`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", firstLine(query), err)
		}
	}
	return nil
}

// SetTimeout bounds every store call. Non-positive values keep the current timeout.
func (db *DB) SetTimeout(d time.Duration) {
	if d > 0 {
		db.timeout = d
	}
}

// SetClock overrides the clock used for updated_at columns.
func (db *DB) SetClock(now func() time.Time) {
	if now != nil {
		db.now = func() time.Time { return now().UTC() }
	}
}

func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()
	return mapErr(db.PingContext(ctx))
}

// Backup writes a consistent online copy of the database to dest.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	escaped := strings.ReplaceAll(dest, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}

// mapErr hides driver details behind the domain taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrStoreTimeout, err)
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func utc(t time.Time) time.Time { return t.UTC() }

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
