/*
service.go - Entry merge engine and read-side queries

PURPOSE:
  The reconciliation core. UpsertBatch takes one identity display name plus
  a list of day records, derives the canonical identity key, validates and
  normalizes every record, and applies the batch through the storage
  adapter inside a single transaction.

MERGE PROTOCOL:
  For each record the adapter reconciles against the existing row for
  (user_key, date, period): update in place when found (display name,
  location, client, notes, updated_at overwritten; created_at and id
  untouched), insert otherwise. The engine NEVER deletes rows outside the
  submitted keys. An earlier revision of this system deleted the whole
  submitted date range before re-inserting, which erased sibling days on
  partial-week submissions; that path must not come back.

ATOMICITY:
  One batch, one transaction. Any validation or storage failure aborts the
  whole batch; there is no partial commit. The returned count is the number
  of records processed (the batch size), not the number of rows physically
  touched - upsert drivers report ambiguous affected-row counts.

CONCURRENCY:
  Records within a batch are applied sequentially in submission order.
  Batches for different identities are not ordered relative to each other.
  Two concurrent batches for the SAME identity and overlapping dates are
  serialized by the storage engine on the atomic-conflict backend; on the
  compare-then-write backend they can collide, surfacing ConflictError
  (retry the whole batch) - callers using that backend should serialize
  submissions per identity.

SEE ALSO:
  - store.go: Session/Store contracts the engine drives
  - identity.go: Identity key derivation
  - errors.go: Error taxonomy
*/
package tracker

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service is the transport-independent core of the tracker.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service on top of a storage adapter.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests use this to pin updated_at.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store exposes the underlying adapter for wiring (report runs, admin).
func (s *Service) Store() Store {
	return s.store
}

// =============================================================================
// UPSERT BATCH
// =============================================================================

// UpsertBatch reconciles a batch of day records for one identity and
// returns the number of records processed. Idempotent in effect: the same
// batch twice yields the same stored state and the same count.
func (s *Service) UpsertBatch(ctx context.Context, displayName string, records []DayRecord) (int, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return 0, &ValidationError{Index: -1, Field: "user_name", Message: "display name is required"}
	}
	if len(records) == 0 {
		return 0, ErrEmptyBatch
	}

	userKey := NormalizeIdentity(name)
	capability := s.store.Capability(ctx)
	now := s.now()

	entries := make([]Entry, 0, len(records))
	for i, r := range records {
		entry, err := buildEntry(i, r, capability)
		if err != nil {
			return 0, err
		}
		entry.UserKey = userKey
		entry.DisplayName = name
		entry.CreatedAt = now
		entry.UpdatedAt = now
		entries = append(entries, entry)
	}

	err := s.store.WithSession(ctx, func(sess Session) error {
		for _, e := range entries {
			if err := sess.UpsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("bulk upsert failed",
			zap.String("user_key", userKey),
			zap.Int("records", len(records)),
			zap.Error(err))
		return 0, err
	}

	s.logger.Info("bulk upsert applied",
		zap.String("user_key", userKey),
		zap.Int("records", len(records)),
		zap.String("schema", capability.String()))
	return len(entries), nil
}

// buildEntry validates one submitted record and normalizes it into its
// storage shape. Index i is only used for error reporting.
func buildEntry(i int, r DayRecord, capability SchemaCapability) (Entry, error) {
	if !ValidDate(r.Date) {
		return Entry{}, &ValidationError{Index: i, Field: "date", Message: "invalid date format, use YYYY-MM-DD"}
	}

	location, ok := NormalizeLocation(r.Location)
	if !ok {
		return Entry{}, &ValidationError{Index: i, Field: "location", Message: "unknown location category"}
	}

	client := strings.TrimSpace(r.Client)
	if location == LocationClientOffice && client == "" {
		return Entry{}, &ValidationError{Index: i, Field: "client", Message: "client name is required for Client Office"}
	}
	if location == LocationOther && client == "" {
		return Entry{}, &ValidationError{Index: i, Field: "client", Message: "location description is required for Other"}
	}

	if !ValidPeriod(r.Period) {
		return Entry{}, &ValidationError{Index: i, Field: "period", Message: "period must be Morning or Afternoon"}
	}
	if r.Period != PeriodAbsent && capability == SchemaNarrow {
		// Collapsing a sub-day record into the whole-day key could
		// overwrite an unrelated entry, so the narrow schema rejects it.
		return Entry{}, &ValidationError{Index: i, Field: "period", Message: "sub-day periods are not supported by the current schema"}
	}

	return Entry{
		Date:     r.Date,
		Period:   r.Period,
		Location: location,
		Client:   client,
		Notes:    strings.TrimSpace(r.Notes),
	}, nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// ListEntries returns entries within the optional date bounds, sorted by
// date then display name.
func (s *Service) ListEntries(ctx context.Context, dateFrom, dateTo string) ([]Entry, error) {
	if dateFrom != "" && !ValidDate(dateFrom) {
		return nil, &ValidationError{Index: -1, Field: "date_from", Message: "invalid date format, use YYYY-MM-DD"}
	}
	if dateTo != "" && !ValidDate(dateTo) {
		return nil, &ValidationError{Index: -1, Field: "date_to", Message: "invalid date format, use YYYY-MM-DD"}
	}
	return s.store.ListEntries(ctx, Filter{DateFrom: dateFrom, DateTo: dateTo})
}

// WeekSummary returns all entries for the Monday-Friday week starting at
// weekStart, sorted by date then display name.
func (s *Service) WeekSummary(ctx context.Context, weekStart string) ([]Entry, error) {
	weekEnd, err := WeekEnd(weekStart)
	if err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, Filter{DateFrom: weekStart, DateTo: weekEnd})
}

// IdentityWeek is the result of CheckIdentityWeek.
type IdentityWeek struct {
	Exists      bool
	Count       int
	DisplayName string
	Entries     []Entry
}

// CheckIdentityWeek reports whether an identity already has entries in the
// week starting at weekStart. Matching is case-insensitive via the
// identity key; DisplayName carries the casing of the most recently
// updated row (best-effort under concurrent writes).
func (s *Service) CheckIdentityWeek(ctx context.Context, displayName, weekStart string) (IdentityWeek, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return IdentityWeek{}, &ValidationError{Index: -1, Field: "user_name", Message: "display name is required"}
	}
	weekEnd, err := WeekEnd(weekStart)
	if err != nil {
		return IdentityWeek{}, err
	}

	entries, err := s.store.ListEntries(ctx, Filter{
		DateFrom: weekStart,
		DateTo:   weekEnd,
		UserKey:  NormalizeIdentity(name),
	})
	if err != nil {
		return IdentityWeek{}, err
	}

	result := IdentityWeek{
		Exists:      len(entries) > 0,
		Count:       len(entries),
		DisplayName: name,
		Entries:     entries,
	}
	if latest := latestDisplayName(entries); latest != "" {
		result.DisplayName = latest
	}
	return result, nil
}

// UsersForWeek returns the identities with entries in the given week,
// sorted by display name.
func (s *Service) UsersForWeek(ctx context.Context, weekStart string) ([]IdentitySummary, error) {
	weekEnd, err := WeekEnd(weekStart)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, Filter{DateFrom: weekStart, DateTo: weekEnd})
	if err != nil {
		return nil, err
	}
	return foldIdentities(entries), nil
}

// AllUsers returns every identity that has ever submitted, sorted by
// display name.
func (s *Service) AllUsers(ctx context.Context) ([]IdentitySummary, error) {
	entries, err := s.store.ListEntries(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return foldIdentities(entries), nil
}

// foldIdentities groups entries case-insensitively by identity key. The
// display casing of an identity is taken from its most recently updated
// row, so "Shaz Ahmed" then "shaz ahmed" yields one identity, latest
// casing shown.
func foldIdentities(entries []Entry) []IdentitySummary {
	type candidate struct {
		name      string
		updatedAt time.Time
	}
	byKey := make(map[string]candidate)
	for _, e := range entries {
		// Ties (second-granularity timestamps) go to the later row.
		if cur, ok := byKey[e.UserKey]; !ok || !e.UpdatedAt.Before(cur.updatedAt) {
			byKey[e.UserKey] = candidate{name: e.DisplayName, updatedAt: e.UpdatedAt}
		}
	}

	users := make([]IdentitySummary, 0, len(byKey))
	for key, c := range byKey {
		users = append(users, IdentitySummary{UserKey: key, DisplayName: c.name})
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].DisplayName) < strings.ToLower(users[j].DisplayName)
	})
	return users
}

func latestDisplayName(entries []Entry) string {
	var name string
	var latest time.Time
	for _, e := range entries {
		if name == "" || !e.UpdatedAt.Before(latest) {
			name = e.DisplayName
			latest = e.UpdatedAt
		}
	}
	return name
}

// =============================================================================
// OPERATOR OPERATIONS
// =============================================================================

// DeleteEntry removes one entry by id. This is the only caller-initiated
// delete in the system; batch submissions never delete.
func (s *Service) DeleteEntry(ctx context.Context, id int64) error {
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.logger.Info("entry deleted", zap.Int64("id", id))
	return nil
}

// LocationMigration reports what an admin location migration changed.
type LocationMigration struct {
	Updated    int64
	DeletedPTO int64
}

// MigrateLocations rewrites legacy location names persisted before
// write-time normalization existed, and removes stored PTO rows (the
// category was retired without a replacement entry type).
func (s *Service) MigrateLocations(ctx context.Context) (LocationMigration, error) {
	var result LocationMigration

	renames := map[string]string{
		"Office": LocationNealStreet,
		"Client": LocationClientOffice,
		"Off":    LocationHoliday,
	}
	for from, to := range renames {
		n, err := s.store.RewriteLocation(ctx, from, to)
		if err != nil {
			return result, err
		}
		result.Updated += n
	}

	deleted, err := s.store.RetireLocation(ctx, "PTO")
	if err != nil {
		return result, err
	}
	result.DeletedPTO = deleted

	s.logger.Info("location migration complete",
		zap.Int64("updated", result.Updated),
		zap.Int64("deleted_pto", result.DeletedPTO))
	return result, nil
}

// RefreshSchemaCapability discards the memoized schema probe so the next
// request observes a live migration without a process restart.
func (s *Service) RefreshSchemaCapability(ctx context.Context) SchemaCapability {
	s.store.InvalidateCapability()
	capability := s.store.Capability(ctx)
	s.logger.Info("schema capability refreshed", zap.String("schema", capability.String()))
	return capability
}
