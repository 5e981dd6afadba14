/*
projector.go - Read-side row projection for the two schema shapes

PURPOSE:
  Reconstructs Entry values from stored rows without scattering
  column-presence branching through the adapters. The capability is
  resolved once per query and dispatched through a small interface with
  two implementations:

  narrowProjector: pre-migration shape, no time_period column. Every
                   projected entry reports the period as absent.
  wideProjector:   selects time_period, normalizing NULL (rows migrated
                   out-of-band) and the empty string to the single absent
                   sentinel.

  Both engines store the same column set with the same types, so one
  projector pair serves both adapters; only placeholder syntax differs and
  that stays in the adapters.
*/
package tracker

import (
	"database/sql"
	"fmt"
	"time"
)

// RowScanner is the subset of *sql.Rows / *sql.Row the projectors need.
type RowScanner interface {
	Scan(dest ...any) error
}

// Projector maps stored rows to Entry values for one schema shape.
type Projector interface {
	// Columns is the SELECT column list for this shape.
	Columns() string
	// ScanEntry reads one row.
	ScanEntry(row RowScanner) (Entry, error)
}

// ProjectorFor returns the projector matching the live schema shape.
func ProjectorFor(c SchemaCapability) Projector {
	if c == SchemaWide {
		return wideProjector{}
	}
	return narrowProjector{}
}

type narrowProjector struct{}

func (narrowProjector) Columns() string {
	return "id, user_key, user_name, date, location, client, notes, created_at, updated_at"
}

func (narrowProjector) ScanEntry(row RowScanner) (Entry, error) {
	var (
		e                    Entry
		client, notes        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.UserKey, &e.DisplayName, &e.Date,
		&e.Location, &client, &notes, &createdAt, &updatedAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Period = PeriodAbsent
	e.Client = client.String
	e.Notes = notes.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}

type wideProjector struct{}

func (wideProjector) Columns() string {
	return "id, user_key, user_name, date, COALESCE(time_period, ''), location, client, notes, created_at, updated_at"
}

func (wideProjector) ScanEntry(row RowScanner) (Entry, error) {
	var (
		e                    Entry
		client, notes        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.UserKey, &e.DisplayName, &e.Date, &e.Period,
		&e.Location, &client, &notes, &createdAt, &updatedAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Client = client.String
	e.Notes = notes.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}
