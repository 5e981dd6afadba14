/*
sqlite_test.go - Storage adapter tests

Covers the compare-then-write upsert path, the schema capability probe
and the period migration against real in-memory databases.
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigital/worktracker/tracker"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func upsertOne(t *testing.T, store *Store, e tracker.Entry) {
	t.Helper()
	err := store.WithSession(context.Background(), func(sess tracker.Session) error {
		return sess.UpsertEntry(context.Background(), e)
	})
	require.NoError(t, err)
}

func testEntry(date, period string) tracker.Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return tracker.Entry{
		UserKey:     "alice smith",
		DisplayName: "Alice Smith",
		Date:        date,
		Period:      period,
		Location:    "Neal Street",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCapabilityStartsNarrow(t *testing.T) {
	store := newStore(t)
	assert.Equal(t, tracker.SchemaNarrow, store.Capability(context.Background()))
}

func TestEnsurePeriodColumn(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsurePeriodColumn(ctx))
	assert.Equal(t, tracker.SchemaWide, store.Capability(ctx))

	// Idempotent
	require.NoError(t, store.EnsurePeriodColumn(ctx))
	assert.Equal(t, tracker.SchemaWide, store.Capability(ctx))
}

func TestMigrationPreservesExistingRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	upsertOne(t, store, testEntry("2025-01-06", ""))
	require.NoError(t, store.EnsurePeriodColumn(ctx))

	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// Pre-migration rows read back as whole-day entries.
	assert.Equal(t, tracker.PeriodAbsent, entries[0].Period)
	assert.Equal(t, "Neal Street", entries[0].Location)
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := testEntry("2025-01-06", "")
	upsertOne(t, store, first)

	second := first
	second.Location = "WFH"
	second.Notes = "corrected"
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	upsertOne(t, store, second)

	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "WFH", entries[0].Location)
	assert.Equal(t, "corrected", entries[0].Notes)
	// created_at survives the update untouched.
	assert.Equal(t, first.CreatedAt, entries[0].CreatedAt)
	assert.Equal(t, second.UpdatedAt, entries[0].UpdatedAt)
}

func TestUpsertDistinguishesPeriodsOnWideSchema(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsurePeriodColumn(ctx))

	upsertOne(t, store, testEntry("2025-01-06", "Morning"))
	upsertOne(t, store, testEntry("2025-01-06", "Afternoon"))
	upsertOne(t, store, testEntry("2025-01-06", ""))

	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestListEntriesFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	upsertOne(t, store, testEntry("2025-01-06", ""))
	upsertOne(t, store, testEntry("2025-01-08", ""))
	bob := testEntry("2025-01-06", "")
	bob.UserKey = "bob jones"
	bob.DisplayName = "Bob Jones"
	upsertOne(t, store, bob)

	entries, err := store.ListEntries(ctx, tracker.Filter{DateFrom: "2025-01-07"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = store.ListEntries(ctx, tracker.Filter{UserKey: "bob jones"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Bob Jones", entries[0].DisplayName)

	entries, err = store.ListEntries(ctx, tracker.Filter{DateFrom: "2025-01-06", DateTo: "2025-01-06"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGetAndDeleteEntry(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	upsertOne(t, store, testEntry("2025-01-06", ""))
	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := store.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, entries[0], *got)

	_, err = store.GetEntry(ctx, 9999)
	assert.ErrorIs(t, err, tracker.ErrEntryNotFound)

	require.NoError(t, store.DeleteEntry(ctx, entries[0].ID))
	assert.ErrorIs(t, store.DeleteEntry(ctx, entries[0].ID), tracker.ErrEntryNotFound)
}

func TestRewriteAndRetireLocation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	legacy := testEntry("2025-01-06", "")
	legacy.Location = "Office"
	upsertOne(t, store, legacy)
	pto := testEntry("2025-01-07", "")
	pto.Location = "PTO"
	upsertOne(t, store, pto)

	n, err := store.RewriteLocation(ctx, "Office", "Neal Street")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.RetireLocation(ctx, "PTO")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Neal Street", entries[0].Location)
}

func TestInsertLostRaceMapsToConflictError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsurePeriodColumn(ctx))

	existing := testEntry("2025-01-06", "")
	upsertOne(t, store, existing)

	// Replay a lost race: another writer stored this key between the
	// point lookup and the insert, so the insert hits the unique index.
	tx, err := store.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	sess := &session{tx: tx, capability: tracker.SchemaWide}
	err = sess.insert(ctx, existing)

	var conflict *tracker.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing.Key(), conflict.Key)
	assert.ErrorIs(t, err, tracker.ErrConflict)
	assert.True(t, tracker.IsRetryable(err))
}

func TestSessionRollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithSession(ctx, func(sess tracker.Session) error {
		if err := sess.UpsertEntry(ctx, testEntry("2025-01-06", "")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	entries, err := store.ListEntries(ctx, tracker.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed session must leave no rows behind")
}

func TestReportRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	run := tracker.ReportRun{
		ID:            "run-1",
		WeekStart:     "2025-01-06",
		WeekEnd:       "2025-01-10",
		Recipients:    2,
		UsersReported: 3,
		TotalEntries:  12,
		Status:        "completed",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveReportRun(ctx, run))

	// Saving again with the same id updates in place.
	run.Status = "failed"
	run.Error = "smtp timeout"
	require.NoError(t, store.SaveReportRun(ctx, run))

	runs, err := store.ListReportRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Equal(t, "smtp timeout", runs[0].Error)
}
