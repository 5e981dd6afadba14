/*
store.go - Persistence contracts for attendance entries

PURPOSE:
  Defines the interface between the merge engine and the storage engines.
  Two adapters implement it: store/postgres (native atomic upsert) and
  store/sqlite (compare-then-write). The adapter is selected once at
  startup from configuration, never by inspecting connection strings in
  request paths.

SESSION MODEL:
  WithSession runs a function inside one storage transaction. Every record
  of a batch is applied through the same Session; either the whole batch
  commits or the whole batch rolls back. The Session carries the single
  write primitive, UpsertEntry, whose shape is the adapter's concern:
  - postgres: one round trip, INSERT ... ON CONFLICT ... DO UPDATE
  - sqlite:   point lookup by key, then update-by-id or insert

  The compare-then-write variant has a documented race window between the
  lookup and the write; a duplicate-key failure there surfaces as
  ConflictError and aborts the batch.

SCHEMA CAPABILITY:
  The entries table may or may not carry the optional time_period column
  (added by a later migration). Capability() reports which shape is live,
  memoized per store after the first successful probe. A failed probe
  degrades to SchemaNarrow without caching, so a recovering backend is
  probed again. InvalidateCapability() forces a re-probe after an
  out-of-band live migration.

SEE ALSO:
  - projector.go: Row scanning for the two schema shapes
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Implementations
*/
package tracker

import (
	"context"
	"sync"
)

// =============================================================================
// SCHEMA CAPABILITY
// =============================================================================

// SchemaCapability identifies which shape of the entries table is live.
type SchemaCapability int

const (
	// SchemaNarrow is the original shape without the time_period column.
	SchemaNarrow SchemaCapability = iota
	// SchemaWide includes the time_period column and the widened
	// uniqueness key.
	SchemaWide
)

func (c SchemaCapability) String() string {
	if c == SchemaWide {
		return "wide"
	}
	return "narrow"
}

// CapabilityCache memoizes a schema probe. The mutex is held across the
// probe so concurrent first callers collapse into a single flight instead
// of racing a check-then-set.
type CapabilityCache struct {
	mu     sync.Mutex
	probed bool
	cached SchemaCapability
}

// Get returns the cached capability, probing on first use. Probe errors
// degrade to SchemaNarrow and are NOT cached: read/write paths fall back to
// the older schema shape instead of failing, and a later call probes again.
func (c *CapabilityCache) Get(ctx context.Context, probe func(context.Context) (bool, error)) SchemaCapability {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.probed {
		return c.cached
	}

	wide, err := probe(ctx)
	if err != nil {
		return SchemaNarrow
	}

	c.probed = true
	if wide {
		c.cached = SchemaWide
	} else {
		c.cached = SchemaNarrow
	}
	return c.cached
}

// Invalidate discards the cached result so the next Get probes the live
// schema again. Called after an operator-triggered live migration.
func (c *CapabilityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probed = false
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Filter narrows entry queries. Zero values mean "no bound".
type Filter struct {
	DateFrom string
	DateTo   string
	UserKey  string
}

// Session is a transactional write scope. All writes of one batch go
// through one Session and commit or roll back together.
type Session interface {
	// UpsertEntry writes e under its (user_key, date, period) key: update
	// in place when the key exists (created_at untouched), insert
	// otherwise. Returns ConflictError when a concurrent writer won the
	// race on a backend without a native atomic upsert.
	UpsertEntry(ctx context.Context, e Entry) error
}

// Store is the storage engine contract consumed by the Service.
type Store interface {
	// Capability reports the live schema shape, memoized after the first
	// successful probe.
	Capability(ctx context.Context) SchemaCapability

	// InvalidateCapability forces the next Capability call to re-probe.
	InvalidateCapability()

	// WithSession runs fn inside one transaction. fn returning an error
	// rolls everything back.
	WithSession(ctx context.Context, fn func(Session) error) error

	// ListEntries returns entries matching the filter, ordered by date
	// then display name.
	ListEntries(ctx context.Context, f Filter) ([]Entry, error)

	// GetEntry returns the entry with the given id, or ErrEntryNotFound.
	GetEntry(ctx context.Context, id int64) (*Entry, error)

	// DeleteEntry removes a single entry by id. The only delete path in
	// the system besides the PTO cleanup in RetireLocation.
	DeleteEntry(ctx context.Context, id int64) error

	// RewriteLocation renames a stored location category in place and
	// returns the number of rows touched.
	RewriteLocation(ctx context.Context, from, to string) (int64, error)

	// RetireLocation deletes all rows carrying a removed category and
	// returns the number of rows deleted.
	RetireLocation(ctx context.Context, location string) (int64, error)

	// SaveReportRun records a weekly report dispatch.
	SaveReportRun(ctx context.Context, run ReportRun) error

	// ListReportRuns returns report runs, newest first.
	ListReportRuns(ctx context.Context) ([]ReportRun, error)

	Close() error
}
