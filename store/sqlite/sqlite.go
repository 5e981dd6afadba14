/*
Package sqlite provides the SQLite-backed attendance store.

PURPOSE:
  Implements tracker.Store using SQLite. This is the compare-then-write
  variant of the backend adapter: it has NO native conflict-resolving
  write, so each record costs a point lookup by the full key followed by
  an update-by-id or an insert.

RACE EXPOSURE:
  Between the lookup and the write, a concurrent writer for the same
  (user_key, date, period) key can insert first. The unique index then
  fails this adapter's insert, which surfaces as tracker.ConflictError and
  aborts the whole batch. Callers on this backend should serialize
  submissions per identity; the postgres adapter does not have this
  window. The process-wide mutex below removes the race within one
  process; cross-process writers (a second server on the same file) remain
  exposed.

SCHEMA:
  A fresh database gets the narrow shape: entries without time_period,
  unique on (user_key, date). EnsurePeriodColumn applies the sub-day
  migration (add time_period, swap the unique index); it runs from the
  `worktracker migrate` command, never implicitly from serving paths. The
  capability probe (pragma_table_info) tells the two shapes apart at call
  time.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./worktracker.db")
  if err != nil {
      return err
  }
  defer store.Close()

SEE ALSO:
  - tracker/store.go: Interface definitions
  - store/postgres/postgres.go: Atomic-conflict variant
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/indigital/worktracker/tracker"
)

// Store implements tracker.Store using SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	caps tracker.CapabilityCache
}

// New creates a SQLite store at the given path and ensures the base
// (narrow) schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: the compare-then-write path assumes one writer,
	// and :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the base schema. The uniqueness index depends on the
// live shape: a database already carrying time_period keeps the widened
// key, a fresh one gets the narrow key.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	wide, err := s.probePeriodColumn(context.Background())
	if err != nil {
		return err
	}
	if wide {
		_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_userkey_date_period
			ON entries(user_key, date, time_period)`)
	} else {
		_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_entries_userkey_date
			ON entries(user_key, date)`)
	}
	return err
}

// EnsurePeriodColumn applies the sub-day period migration: adds the
// time_period column and widens the uniqueness key. Idempotent. Run from
// the migrate command; the serving process only probes.
func (s *Store) EnsurePeriodColumn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('entries') WHERE name = 'time_period'`,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// =============================================================================
// SESSIONS (compare-then-write)
// =============================================================================

// WithSession runs fn inside one transaction. The store-wide mutex keeps
// the lookup+write sequence race-free within this process; SQLite's single
// writer covers the rest.
func (s *Store) WithSession(ctx context.Context, fn func(tracker.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

// UpsertEntry reconciles one record against the stored row for its key:
// point lookup, then update-by-id or insert. Two round-trips per record.
func (ss *session) UpsertEntry(ctx context.Context, e tracker.Entry) error {
	var (
		id  int64
		err error
	)
	if ss.capability == tracker.SchemaWide {
		err = ss.tx.QueryRowContext(ctx,
			`SELECT id FROM entries WHERE user_key = ? AND date = ? AND COALESCE(time_period, '') = ?`,
			e.UserKey, e.Date, e.Period,
		).Scan(&id)
	} else {
		err = ss.tx.QueryRowContext(ctx,
			`SELECT id FROM entries WHERE user_key = ? AND date = ?`,
			e.UserKey, e.Date,
		).Scan(&id)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ss.insert(ctx, e)
	case err != nil:
		return storageErr("failed to look up entry", err)
	default:
		return ss.update(ctx, id, e)
	}
}

func (ss *session) insert(ctx context.Context, e tracker.Entry) error {
	var err error
	if ss.capability == tracker.SchemaWide {
		_, err = ss.tx.ExecContext(ctx, `
			INSERT INTO entries (user_key, user_name, date, time_period, location, client, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.UserKey, e.DisplayName, e.Date, e.Period, e.Location,
			nullString(e.Client), nullString(e.Notes),
			e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		)
	} else {
		_, err = ss.tx.ExecContext(ctx, `
			INSERT INTO entries (user_key, user_name, date, location, client, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.UserKey, e.DisplayName, e.Date, e.Location,
			nullString(e.Client), nullString(e.Notes),
			e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
		)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			// A concurrent writer inserted this key between our lookup
			// and this insert. The batch aborts; retrying it is safe.
			return &tracker.ConflictError{Key: e.Key()}
		}
		return storageErr("failed to insert entry", err)
	}
	return nil
}

// update overwrites the mutable fields in place. created_at and id are
// untouched: this is the non-destructive half of the merge contract.
func (ss *session) update(ctx context.Context, id int64, e tracker.Entry) error {
	_, err := ss.tx.ExecContext(ctx, `
		UPDATE entries
		SET user_name = ?, location = ?, client = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		e.DisplayName, e.Location, nullString(e.Client), nullString(e.Notes),
		e.UpdatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return storageErr("failed to update entry", err)
	}
	return nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListEntries returns entries matching the filter, ordered by date then
// display name. The projector for the live schema shape decides the
// column list and normalizes the period sentinel.
func (s *Store) ListEntries(ctx context.Context, f tracker.Filter) ([]tracker.Entry, error) {
	projector := tracker.ProjectorFor(s.caps.Get(ctx, s.probePeriodColumn))

	query := "SELECT " + projector.Columns() + " FROM entries"
	var clauses []string
	var args []any
	if f.DateFrom != "" {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "date <= ?")
		args = append(args, f.DateTo)
	}
	if f.UserKey != "" {
		clauses = append(clauses, "user_key = ?")
		args = append(args, f.UserKey)
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
		"SELECT "+projector.Columns()+" FROM entries WHERE id = ?", id)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE entries SET location = ? WHERE location = ?", to, from)
	if err != nil {
		return 0, storageErr("failed to rewrite location", err)
	}
	return res.RowsAffected()
}

// RetireLocation deletes all rows carrying a removed category.
func (s *Store) RetireLocation(ctx context.Context, location string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM entries WHERE location = ?", location)
	if err != nil {
		return 0, storageErr("failed to retire location", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// REPORT RUNS
// =============================================================================

// SaveReportRun records a weekly report dispatch. Re-saving the same run
// id updates its status and counters.
func (s *Store) SaveReportRun(ctx context.Context, run tracker.ReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_runs (id, week_start, week_end, recipients, users_reported, total_entries, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			users_reported = excluded.users_reported,
			total_entries = excluded.total_entries`,
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

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storageErr(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, errors.Join(tracker.ErrStorageUnavailable, err))
}
