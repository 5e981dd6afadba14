/*
Package report builds and sends the weekly attendance report.

PURPOSE:
  Aggregates one working week (Monday through Friday) of entries into a
  per-person summary, renders it as HTML and dispatches it over SMTP.
  Each dispatch is recorded as a report run so operators can audit what
  went out and when.

COUNTING:
  Office days are counted with decimal arithmetic. A whole-day entry at
  the office location counts 1, a Morning or Afternoon entry counts 0.5.
  Float accumulation would drift on long rosters, decimals do not.

SEE ALSO:
  - report/mailer.go: SMTP delivery
  - tracker/week.go: Week boundary helpers
*/
package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/indigital/worktracker/tracker"
)

// Mailer delivers a rendered report. Satisfied by SMTPMailer and by test
// fakes.
type Mailer interface {
	Send(ctx context.Context, subject, htmlBody string, recipients []string) error
}

// Service aggregates entries and dispatches the weekly report.
type Service struct {
	store  tracker.Store
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a report service. A nil logger is replaced with a
// no-op logger.
func NewService(store tracker.Store, mailer Mailer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// DaySummary is one reported entry within a user's week.
type DaySummary struct {
	Date     string
	Day      string
	Period   string
	Location string
	Client   string
}

// UserSummary is one person's reported week.
type UserSummary struct {
	DisplayName string
	OfficeDays  decimal.Decimal
	Days        []DaySummary
}

// Summary is the aggregated content of one weekly report.
type Summary struct {
	WeekStart    string
	WeekEnd      string
	Users        []UserSummary
	TotalEntries int
}

// BuildSummary aggregates one week of entries. weekStart must be a
// Monday in YYYY-MM-DD form; empty selects the previous week.
func (s *Service) BuildSummary(ctx context.Context, weekStart string) (*Summary, error) {
	if weekStart == "" {
		weekStart = tracker.PreviousWeekStart(s.now())
	}
	weekEnd, err := tracker.WeekEnd(weekStart)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListEntries(ctx, tracker.Filter{DateFrom: weekStart, DateTo: weekEnd})
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*UserSummary)
	nameUpdated := make(map[string]time.Time)
	var order []string
	for _, e := range entries {
		us, ok := byUser[e.UserKey]
		if !ok {
			us = &UserSummary{DisplayName: e.DisplayName}
			byUser[e.UserKey] = us
			order = append(order, e.UserKey)
		}
		// Casing follows the most recently updated row, the same rule
		// the identity summaries use. Ties go to the later row.
		if ts, seen := nameUpdated[e.UserKey]; !seen || !e.UpdatedAt.Before(ts) {
			us.DisplayName = e.DisplayName
			nameUpdated[e.UserKey] = e.UpdatedAt
		}
		us.Days = append(us.Days, DaySummary{
			Date:     e.Date,
			Day:      tracker.FormatDay(e.Date),
			Period:   e.Period,
			Location: e.Location,
			Client:   e.Client,
		})
		if tracker.OfficeLocation(e.Location) {
			us.OfficeDays = us.OfficeDays.Add(dayWeight(e.Period))
		}
	}

	users := make([]UserSummary, 0, len(order))
	for _, key := range order {
		users = append(users, *byUser[key])
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})

	return &Summary{
		WeekStart:    weekStart,
		WeekEnd:      weekEnd,
		Users:        users,
		TotalEntries: len(entries),
	}, nil
}

// dayWeight is the office-day contribution of one entry.
func dayWeight(period string) decimal.Decimal {
	if period == tracker.PeriodAbsent {
		return decimal.NewFromInt(1)
	}
	return decimal.New(5, -1)
}

// Run builds the report for the given week, sends it to the recipients
// and records the run. weekStart empty selects the previous week. The
// run row is written for failures too, carrying the error.
func (s *Service) Run(ctx context.Context, recipients []string, weekStart string) (tracker.ReportRun, error) {
	summary, err := s.BuildSummary(ctx, weekStart)
	if err != nil {
		return tracker.ReportRun{}, err
	}

	run := tracker.ReportRun{
		ID:            uuid.NewString(),
		WeekStart:     summary.WeekStart,
		WeekEnd:       summary.WeekEnd,
		Recipients:    len(recipients),
		UsersReported: len(summary.Users),
		TotalEntries:  summary.TotalEntries,
		Status:        "completed",
		CreatedAt:     s.now().UTC(),
	}

	htmlBody, err := Render(summary)
	if err != nil {
		return tracker.ReportRun{}, err
	}

	subject := fmt.Sprintf("Office attendance %s to %s", summary.WeekStart, summary.WeekEnd)
	if err := s.mailer.Send(ctx, subject, htmlBody, recipients); err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		if saveErr := s.store.SaveReportRun(ctx, run); saveErr != nil {
			s.logger.Error("failed to record failed report run", zap.Error(saveErr))
		}
		return run, fmt.Errorf("failed to send weekly report: %w", err)
	}

	if err := s.store.SaveReportRun(ctx, run); err != nil {
		return run, err
	}

	s.logger.Info("weekly report sent",
		zap.String("week_start", summary.WeekStart),
		zap.Int("users", len(summary.Users)),
		zap.Int("recipients", len(recipients)),
	)
	return run, nil
}

// =============================================================================
// RENDERING
// =============================================================================

var reportTemplate = template.Must(template.New("weekly").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: Arial, sans-serif; color: #222;">
	<h2>Office attendance: {{.WeekStart}} to {{.WeekEnd}}</h2>
	{{if .Users}}
	{{range .Users}}
	<h3>{{.DisplayName}} &mdash; {{.OfficeDays}} office day(s)</h3>
	<table border="0" cellpadding="4" cellspacing="0">
		{{range .Days}}
		<tr>
			<td>{{.Day}}</td>
			<td>{{if .Period}}{{.Period}}{{else}}All day{{end}}</td>
			<td>{{.Location}}</td>
			<td>{{.Client}}</td>
		</tr>
		{{end}}
	</table>
	{{end}}
	<p>{{.TotalEntries}} entries across {{len .Users}} people.</p>
	{{else}}
	<p>No entries were recorded this week.</p>
	{{end}}
</body>
</html>`))

// Render produces the HTML body for a summary.
func Render(summary *Summary) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, summary); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
