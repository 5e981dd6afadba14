/*
handlers.go - HTTP API handlers for the attendance tracker

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Entries:
    POST   /api/entries/bulk_upsert    Merge a batch of day records
    GET    /api/entries                List entries in a date range
    GET    /api/entries/check          Check a person's week
    DELETE /api/entries/{id}           Delete one entry

  Summaries:
    GET    /api/summary/week           One week of entries
    GET    /api/summary/users          Identities present in a week
    GET    /api/summary/all-users      All identities ever seen

  Admin:
    POST   /api/admin/migrate-locations   Rewrite legacy location names
    POST   /api/admin/send-weekly-report  Dispatch the weekly report now
    GET    /api/admin/report-runs         Past report dispatches
    POST   /api/admin/schema/refresh      Force a schema re-probe
    GET    /api/admin/debug               Capability and row counts

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain logic (tracker service, report service)
  3. Serialize response
  4. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, empty batches, malformed input
  - 404: Entry not found
  - 409: Uniqueness conflict lost to a concurrent writer
  - 503: Storage unavailable
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  The service is deployed behind the office VPN.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/indigital/worktracker/report"
	"github.com/indigital/worktracker/tracker"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Tracker    *tracker.Service
	Reports    *report.Service
	Recipients []string
	Logger     *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *tracker.Service, reports *report.Service, recipients []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Tracker:    svc,
		Reports:    reports,
		Recipients: recipients,
		Logger:     logger,
	}
}

// =============================================================================
// ENTRY ENDPOINTS
// =============================================================================

// BulkUpsert merges a batch of day records for one person.
// POST /api/entries/bulk_upsert
func (h *Handler) BulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req BulkUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	count, err := h.Tracker.UpsertBatch(r.Context(), req.UserName, req.Entries)
	if err != nil {
		h.writeDomainError(w, err, "bulk upsert failed")
		return
	}

	batchesTotal.Inc()
	recordsTotal.Add(float64(count))
	writeJSON(w, http.StatusOK, BulkUpsertResponse{Status: "success", EntriesCount: count})
}

// ListEntries returns entries, optionally bounded by date_from/date_to.
// GET /api/entries?date_from=YYYY-MM-DD&date_to=YYYY-MM-DD
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Tracker.ListEntries(r.Context(),
		r.URL.Query().Get("date_from"), r.URL.Query().Get("date_to"))
	if err != nil {
		h.writeDomainError(w, err, "failed to list entries")
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// CheckWeek reports whether a person already has entries in a week.
// GET /api/entries/check?user_name=...&week_start=YYYY-MM-DD
func (h *Handler) CheckWeek(w http.ResponseWriter, r *http.Request) {
	week, err := h.Tracker.CheckIdentityWeek(r.Context(),
		r.URL.Query().Get("user_name"), r.URL.Query().Get("week_start"))
	if err != nil {
		h.writeDomainError(w, err, "failed to check week")
		return
	}
	writeJSON(w, http.StatusOK, CheckWeekResponse{
		Exists:       week.Exists,
		EntriesCount: week.Count,
		UserName:     week.DisplayName,
		Entries:      toEntryDTOs(week.Entries),
	})
}

// DeleteEntry removes one entry by id.
// DELETE /api/entries/{id}
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id", err)
		return
	}

	if err := h.Tracker.DeleteEntry(r.Context(), id); err != nil {
		h.writeDomainError(w, err, "failed to delete entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// SUMMARY ENDPOINTS
// =============================================================================

// WeekSummary returns all entries in the week starting at week_start.
// GET /api/summary/week?week_start=YYYY-MM-DD
func (h *Handler) WeekSummary(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Tracker.WeekSummary(r.Context(), r.URL.Query().Get("week_start"))
	if err != nil {
		h.writeDomainError(w, err, "failed to build week summary")
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// WeekUsers returns the identities that have entries in a week.
// GET /api/summary/users?week_start=YYYY-MM-DD
func (h *Handler) WeekUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Tracker.UsersForWeek(r.Context(), r.URL.Query().Get("week_start"))
	if err != nil {
		h.writeDomainError(w, err, "failed to list week users")
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// AllUsers returns every identity ever seen.
// GET /api/summary/all-users
func (h *Handler) AllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Tracker.AllUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

func toUserDTOs(users []tracker.IdentitySummary) []UserDTO {
	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, UserDTO{UserName: u.DisplayName})
	}
	return dtos
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// MigrateLocations rewrites legacy location names in place.
// POST /api/admin/migrate-locations
func (h *Handler) MigrateLocations(w http.ResponseWriter, r *http.Request) {
	result, err := h.Tracker.MigrateLocations(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "location migration failed")
		return
	}
	writeJSON(w, http.StatusOK, MigrateLocationsResponse{
		Status:     "success",
		Updated:    result.Updated,
		DeletedPTO: result.DeletedPTO,
	})
}

// SendWeeklyReport dispatches the weekly report immediately.
// POST /api/admin/send-weekly-report
func (h *Handler) SendWeeklyReport(w http.ResponseWriter, r *http.Request) {
	var req SendReportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	recipients := h.Recipients
	if len(req.Recipients) > 0 {
		recipients = req.Recipients
	}

	run, err := h.Reports.Run(r.Context(), recipients, req.WeekStart)
	if err != nil {
		h.writeDomainError(w, err, "failed to send weekly report")
		return
	}
	writeJSON(w, http.StatusOK, toReportRunDTO(run))
}

// ListReportRuns returns past report dispatches, newest first.
// GET /api/admin/report-runs
func (h *Handler) ListReportRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Tracker.Store().ListReportRuns(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to list report runs")
		return
	}
	dtos := make([]ReportRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toReportRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RefreshSchema forces a fresh schema probe, for use right after an
// online migration.
// POST /api/admin/schema/refresh
func (h *Handler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	capability := h.Tracker.RefreshSchemaCapability(r.Context())
	writeJSON(w, http.StatusOK, SchemaRefreshResponse{
		Status: "success",
		Schema: capability.String(),
	})
}

// Debug returns the live capability and row counts.
// GET /api/admin/debug
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Tracker.ListEntries(r.Context(), "", "")
	if err != nil {
		h.writeDomainError(w, err, "failed to read entries")
		return
	}
	users, err := h.Tracker.AllUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to read users")
		return
	}
	writeJSON(w, http.StatusOK, DebugResponse{
		Schema:       h.Tracker.Store().Capability(r.Context()).String(),
		TotalEntries: len(entries),
		TotalUsers:   len(users),
	})
}

// Health is the liveness endpoint.
// GET /
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "worktracker"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case tracker.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, tracker.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, tracker.ErrConflict):
		conflictsTotal.Inc()
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, tracker.ErrStorageUnavailable):
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
