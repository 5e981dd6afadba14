/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

PERIOD FIELD:
  period is omitted from EntryDTO when the entry covers the whole day.
  Clients never see the empty-string storage sentinel.

VALIDATION:
  Validation is done in the domain layer, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - tracker/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/indigital/worktracker/tracker"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BulkUpsertRequest is one batch of day records for a single person.
type BulkUpsertRequest struct {
	UserName string              `json:"user_name"`
	Entries  []tracker.DayRecord `json:"entries"`
}

// BulkUpsertResponse reports the merge outcome.
type BulkUpsertResponse struct {
	Status       string `json:"status"`
	EntriesCount int    `json:"entries_count"`
}

// EntryDTO represents one stored entry in API responses.
type EntryDTO struct {
	ID        int64  `json:"id"`
	UserName  string `json:"user_name"`
	Date      string `json:"date"`
	Period    string `json:"period,omitempty"`
	Location  string `json:"location"`
	Client    string `json:"client,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CheckWeekResponse answers "does this person already have entries this
// week".
type CheckWeekResponse struct {
	Exists       bool       `json:"exists"`
	EntriesCount int        `json:"entries_count"`
	UserName     string     `json:"user_name,omitempty"`
	Entries      []EntryDTO `json:"entries"`
}

// UserDTO is one distinct identity.
type UserDTO struct {
	UserName string `json:"user_name"`
}

// MigrateLocationsResponse reports what the legacy-location migration
// changed.
type MigrateLocationsResponse struct {
	Status     string `json:"status"`
	Updated    int64  `json:"updated"`
	DeletedPTO int64  `json:"deleted_pto"`
}

// SchemaRefreshResponse reports the schema shape after a forced
// re-probe.
type SchemaRefreshResponse struct {
	Status string `json:"status"`
	Schema string `json:"schema"`
}

// ReportRunDTO is one recorded weekly report dispatch.
type ReportRunDTO struct {
	ID            string `json:"id"`
	WeekStart     string `json:"week_start"`
	WeekEnd       string `json:"week_end"`
	Recipients    int    `json:"recipients"`
	UsersReported int    `json:"users_reported"`
	TotalEntries  int    `json:"total_entries"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// SendReportRequest optionally pins the report to a specific week or
// overrides the configured recipients.
type SendReportRequest struct {
	WeekStart  string   `json:"week_start,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// DebugResponse is the admin debug snapshot.
type DebugResponse struct {
	Schema       string `json:"schema"`
	TotalEntries int    `json:"total_entries"`
	TotalUsers   int    `json:"total_users"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e tracker.Entry) EntryDTO {
	return EntryDTO{
		ID:        e.ID,
		UserName:  e.DisplayName,
		Date:      e.Date,
		Period:    e.Period,
		Location:  e.Location,
		Client:    e.Client,
		Notes:     e.Notes,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []tracker.Entry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	return dtos
}

func toReportRunDTO(run tracker.ReportRun) ReportRunDTO {
	return ReportRunDTO{
		ID:            run.ID,
		WeekStart:     run.WeekStart,
		WeekEnd:       run.WeekEnd,
		Recipients:    run.Recipients,
		UsersReported: run.UsersReported,
		TotalEntries:  run.TotalEntries,
		Status:        run.Status,
		Error:         run.Error,
		CreatedAt:     run.CreatedAt.Format(time.RFC3339),
	}
}
