/*
types.go - Core data types for attendance entries

PURPOSE:
  Defines the Entry record, the DayRecord submission shape, the closed set
  of location categories, and the optional sub-day period dimension.

ENTRY IDENTITY:
  An entry is uniquely identified by (user_key, date, period). The user_key
  is derived from the submitted display name (see identity.go); it is never
  set by callers directly.

PERIOD SENTINEL:
  The period column stores the empty string for whole-day entries. Every
  read boundary presents the empty string as "absent" (JSON omits the
  field). Callers never observe two representations of the same concept.

LOCATION CATALOG:
  Locations are a closed enumeration. Legacy names that predate the current
  catalog are accepted on write and silently rewritten (Office, Client, Off,
  PTO). Validation and rewriting happen before anything reaches storage.

SEE ALSO:
  - identity.go: Display name normalization
  - service.go: Batch upsert using these types
  - store.go: Persistence contracts
*/
package tracker

import "time"

// =============================================================================
// LOCATIONS
// =============================================================================

// Current location categories.
const (
	LocationNealStreet   = "Neal Street"
	LocationWFH          = "WFH"
	LocationClientOffice = "Client Office"
	LocationHoliday      = "Holiday"
	LocationAbroad       = "Working From Abroad"
	LocationOther        = "Other"
)

// legacyLocations maps retired category names to their current equivalents.
// Accepted on write, rewritten before storage.
var legacyLocations = map[string]string{
	"Office": LocationNealStreet,
	"Client": LocationClientOffice,
	"Off":    LocationHoliday,
	"PTO":    LocationHoliday,
}

var validLocations = map[string]bool{
	LocationNealStreet:   true,
	LocationWFH:          true,
	LocationClientOffice: true,
	LocationHoliday:      true,
	LocationAbroad:       true,
	LocationOther:        true,
}

// NormalizeLocation rewrites legacy category names to current ones.
// Returns the normalized name and whether it belongs to the catalog.
func NormalizeLocation(location string) (string, bool) {
	if current, ok := legacyLocations[location]; ok {
		location = current
	}
	return location, validLocations[location]
}

// OfficeLocation reports whether a location counts as an office/client-site
// day for the weekly attendance report (not WFH, not Holiday).
func OfficeLocation(location string) bool {
	return location == LocationNealStreet || location == LocationClientOffice
}

// =============================================================================
// PERIODS
// =============================================================================

// Sub-day periods. PeriodAbsent marks a whole-day entry; it is the storage
// representation (empty string) and the canonical absent sentinel.
const (
	PeriodAbsent    = ""
	PeriodMorning   = "Morning"
	PeriodAfternoon = "Afternoon"
)

// ValidPeriod reports whether p is the absent sentinel or a known sub-day
// period.
func ValidPeriod(p string) bool {
	return p == PeriodAbsent || p == PeriodMorning || p == PeriodAfternoon
}

// =============================================================================
// RECORDS
// =============================================================================

// DayRecord is one submitted day in a bulk upsert. Fields arrive already
// deserialized from the transport layer; validation happens in the service.
type DayRecord struct {
	Date     string `json:"date"`
	Period   string `json:"period,omitempty"`
	Location string `json:"location"`
	Client   string `json:"client,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Key identifies the entry a record resolves to within one identity.
type Key struct {
	UserKey string
	Date    string
	Period  string
}

// Entry is one stored attendance record.
type Entry struct {
	ID          int64
	UserKey     string
	DisplayName string
	Date        string
	Period      string
	Location    string
	Client      string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Key returns the uniqueness key of the entry.
func (e Entry) Key() Key {
	return Key{UserKey: e.UserKey, Date: e.Date, Period: e.Period}
}

// IdentitySummary is one known identity with its latest display casing.
type IdentitySummary struct {
	UserKey     string
	DisplayName string
}

// ReportRun records one weekly report dispatch.
type ReportRun struct {
	ID            string
	WeekStart     string
	WeekEnd       string
	Recipients    int
	UsersReported int
	TotalEntries  int
	Status        string // completed, failed
	Error         string
	CreatedAt     time.Time
}

// ValidDate reports whether the date is a well-formed YYYY-MM-DD day.
// Dates are stored and compared as opaque sortable strings; this is the one
// place that parses them.
func ValidDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil && len(date) == 10
}
