/*
Package postgres provides the PostgreSQL-backed attendance store.

PURPOSE:
  Implements tracker.Store using PostgreSQL through the pgx stdlib driver.
  This is the atomic-conflict variant of the backend adapter: each record
  costs ONE round trip, an INSERT ... ON CONFLICT ... DO UPDATE keyed on
  the full uniqueness key. The engine resolves the conflict itself, so
  concurrent batches for the same identity are safe here, unlike on the
  compare-then-write sqlite adapter.

ROW COUNTS:
  The driver's affected-row count on an upsert is advisory only (it can be
  1 for an insert and 1 or 2 depending on server semantics for an update).
  The merge engine reports the submitted record count, never this number.

SCHEMA:
  Same two shapes as the sqlite adapter: narrow base schema, and
  EnsurePeriodColumn widening it with time_period plus the widened unique
  index. The capability probe reads information_schema.columns.

SEE ALSO:
  - tracker/store.go: Interface definitions
  - store/sqlite/sqlite.go: Compare-then-write variant
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/indigital/worktracker/tracker"
)

// Store implements tracker.Store using PostgreSQL.
type Store struct {
	db   *sql.DB
	caps tracker.CapabilityCache
}

// New connects to PostgreSQL with pooling defaults and ensures the base
// (narrow) schema.
func New(connString string) (*Store, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id BIGSERIAL PRIMARY KEY,
		user_key TEXT NOT NULL,
		user_name TEXT NOT NULL,
		date TEXT NOT NULL,
		location TEXT NOT NULL,
		client TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
	CREATE INDEX IF NOT EXISTS idx_entries_user_key ON entries(user_key);

	CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		week_start TEXT NOT NULL,
		week_end TEXT NOT NULL,
		recipients INTEGER NOT NULL,
		users_reported INTEGER NOT NULL,
		total_entries INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	wide, err := s.probePeriodColumn(ctx)
	if err != nil {
		return err
	}
	if wide {
		_, err = s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_userkey_date_period
			ON entries(user_key, date, time_period)`)
	} else {
		_, err = s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_userkey_date
			ON entries(user_key, date)`)
	}
	return err
}

// EnsurePeriodColumn applies the sub-day period migration. Idempotent;
// run from the migrate command.
func (s *Store) EnsurePeriodColumn(ctx context.Context) error {
	wide, err := s.probePeriodColumn(ctx)
	if err != nil {
		return err
	}
	if !wide {
		if _, err := s.db.ExecContext(ctx,
			`ALTER TABLE entries ADD COLUMN time_period TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add time_period column: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DROP INDEX IF EXISTS uniq_entries_userkey_date`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_userkey_date_period
		ON entries(user_key, date, time_period)`); err != nil {
		return err
	}

	s.caps.Invalidate()
	return nil
}

// =============================================================================
// SCHEMA CAPABILITY
// =============================================================================

// Capability reports the live schema shape, memoized after the first
// successful probe.
func (s *Store) Capability(ctx context.Context) tracker.SchemaCapability {
	return s.caps.Get(ctx, s.probePeriodColumn)
}

// InvalidateCapability forces the next Capability call to re-probe.
func (s *Store) InvalidateCapability() {
	s.caps.Invalidate()
}

func (s *Store) probePeriodColumn(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.columns
		WHERE table_name = 'entries' AND column_name = 'time_period'`,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// =============================================================================
// SESSIONS (atomic conflict write)
// =============================================================================

// WithSession runs fn inside one transaction.
func (s *Store) WithSession(ctx context.Context, fn func(tracker.Session) error) error {
	capability := s.caps.Get(ctx, s.probePeriodColumn)

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	sess := &session{tx: sqlTx, capability: capability}
	if err := fn(sess); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("failed to commit batch", err)
	}
	return nil
}

type session struct {
	tx         *sql.Tx
	capability tracker.SchemaCapability
}

// UpsertEntry writes one record in a single round trip. The conflict
// target matches the live uniqueness key; created_at is deliberately
// absent from the update set.
func (ss *session) UpsertEntry(ctx context.Context, e tracker.Entry) error {
	var err error
	if ss.capability == tracker.SchemaWide {
		_, err = ss.tx.ExecContext(ctx, `
			INSERT INTO entries (user_key, user_name, date, time_period, location, client, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_key, date, time_period) DO UPDATE SET
				user_name = EXCLUDED.user_name,
				location = EXCLUDED.location,
				client = EXCLUDED.client,
				notes = EXCLUDED.notes,
				updated_at = EXCLUDED.updated_at`,
			e.UserKey, e.DisplayName, e.Date, e.Period, e.Location,
			nullString(e.Client), nullString(e.Notes),
			e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		)
	} else {
		_, err = ss.tx.ExecContext(ctx, `
			INSERT INTO entries (user_key, user_name, date, location, client, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_key, date) DO UPDATE SET
				user_name = EXCLUDED.user_name,
				location = EXCLUDED.location,
				client = EXCLUDED.client,
				notes = EXCLUDED.notes,
				updated_at = EXCLUDED.updated_at`,
			e.UserKey, e.DisplayName, e.Date, e.Location,
			nullString(e.Client), nullString(e.Notes),
			e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		)
	}
	if err != nil {
		return storageErr("failed to upsert entry", err)
	}
	return nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListEntries returns entries matching the filter, ordered by date then
// display name.
func (s *Store) ListEntries(ctx context.Context, f tracker.Filter) ([]tracker.Entry, error) {
	projector := tracker.ProjectorFor(s.caps.Get(ctx, s.probePeriodColumn))

	query := "SELECT " + projector.Columns() + " FROM entries"
	var clauses []string
	var args []any
	if f.DateFrom != "" {
		args = append(args, f.DateFrom)
		clauses = append(clauses, fmt.Sprintf("date >= $%d", len(args)))
	}
	if f.DateTo != "" {
		args = append(args, f.DateTo)
		clauses = append(clauses, fmt.Sprintf("date <= $%d", len(args)))
	}
	if f.UserKey != "" {
		args = append(args, f.UserKey)
		clauses = append(clauses, fmt.Sprintf("user_key = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date ASC, user_name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query entries", err)
	}
	defer rows.Close()

	var entries []tracker.Entry
	for rows.Next() {
		e, err := projector.ScanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntry returns one entry by id.
func (s *Store) GetEntry(ctx context.Context, id int64) (*tracker.Entry, error) {
	projector := tracker.ProjectorFor(s.caps.Get(ctx, s.probePeriodColumn))

	row := s.db.QueryRowContext(ctx,
		"SELECT "+projector.Columns()+" FROM entries WHERE id = $1", id)
	e, err := projector.ScanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracker.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEntry removes one entry by id.
func (s *Store) DeleteEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = $1", id)
	if err != nil {
		return storageErr("failed to delete entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracker.ErrEntryNotFound
	}
	return nil
}

// RewriteLocation renames a stored location category in place.
func (s *Store) RewriteLocation(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET location = $1 WHERE location = $2", to, from)
	if err != nil {
		return 0, storageErr("failed to rewrite location", err)
	}
	return res.RowsAffected()
}

// RetireLocation deletes all rows carrying a removed category.
func (s *Store) RetireLocation(ctx context.Context, location string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE location = $1", location)
	if err != nil {
		return 0, storageErr("failed to retire location", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// REPORT RUNS
// =============================================================================

// SaveReportRun records a weekly report dispatch.
func (s *Store) SaveReportRun(ctx context.Context, run tracker.ReportRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_runs (id, week_start, week_end, recipients, users_reported, total_entries, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			users_reported = EXCLUDED.users_reported,
			total_entries = EXCLUDED.total_entries`,
		run.ID, run.WeekStart, run.WeekEnd, run.Recipients,
		run.UsersReported, run.TotalEntries, run.Status,
		nullString(run.Error), run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return storageErr("failed to save report run", err)
	}
	return nil
}

// ListReportRuns returns report runs, newest first.
func (s *Store) ListReportRuns(ctx context.Context) ([]tracker.ReportRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, week_start, week_end, recipients, users_reported, total_entries, status, error, created_at
		FROM report_runs
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("failed to query report runs", err)
	}
	defer rows.Close()

	var runs []tracker.ReportRun
	for rows.Next() {
		var (
			run       tracker.ReportRun
			runError  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&run.ID, &run.WeekStart, &run.WeekEnd, &run.Recipients,
			&run.UsersReported, &run.TotalEntries, &run.Status, &runError, &createdAt); err != nil {
			return nil, err
		}
		run.Error = runError.String
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func storageErr(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, errors.Join(tracker.ErrStorageUnavailable, err))
}
