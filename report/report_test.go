package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigital/worktracker/store/sqlite"
	"github.com/indigital/worktracker/tracker"
)

// fakeMailer records sends and optionally fails.
type fakeMailer struct {
	sent    int
	subject string
	body    string
	to      []string
	fail    error
}

func (f *fakeMailer) Send(ctx context.Context, subject, htmlBody string, recipients []string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent++
	f.subject = subject
	f.body = htmlBody
	f.to = recipients
	return nil
}

func fixedClock() time.Time {
	// A Wednesday; the previous week starts 2025-01-06.
	return time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
}

func seedWeek(t *testing.T, store *sqlite.Store) {
	t.Helper()
	svc := tracker.NewService(store, nil)
	ctx := context.Background()

	_, err := svc.UpsertBatch(ctx, "Alice Smith", []tracker.DayRecord{
		{Date: "2025-01-06", Location: "Neal Street"},
		{Date: "2025-01-07", Period: "Morning", Location: "Neal Street"},
		{Date: "2025-01-07", Period: "Afternoon", Location: "WFH"},
		{Date: "2025-01-08", Location: "Client Office", Client: "Acme"},
	})
	require.NoError(t, err)

	_, err = svc.UpsertBatch(ctx, "Bob Jones", []tracker.DayRecord{
		{Date: "2025-01-06", Location: "WFH"},
		{Date: "2025-01-07", Location: "Holiday"},
	})
	require.NoError(t, err)
}

func newReportService(t *testing.T, mailer Mailer) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsurePeriodColumn(context.Background()))

	svc := NewService(store, mailer, nil).WithClock(fixedClock)
	return svc, store
}

func TestBuildSummaryCountsOfficeDays(t *testing.T) {
	svc, store := newReportService(t, &fakeMailer{})
	seedWeek(t, store)

	summary, err := svc.BuildSummary(context.Background(), "2025-01-06")
	require.NoError(t, err)

	assert.Equal(t, "2025-01-06", summary.WeekStart)
	assert.Equal(t, "2025-01-10", summary.WeekEnd)
	assert.Equal(t, 6, summary.TotalEntries)
	require.Len(t, summary.Users, 2)

	alice := summary.Users[0]
	assert.Equal(t, "Alice Smith", alice.DisplayName)
	// Whole day at Neal Street + morning half + client office day = 2.5
	assert.True(t, alice.OfficeDays.Equal(decimal.New(25, -1)),
		"got %s office days", alice.OfficeDays)

	bob := summary.Users[1]
	assert.Equal(t, "Bob Jones", bob.DisplayName)
	assert.True(t, bob.OfficeDays.IsZero())
}

func TestBuildSummaryCasingFollowsMostRecentUpdate(t *testing.T) {
	svc, store := newReportService(t, &fakeMailer{})
	ctx := context.Background()

	base := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	write := func(date, name string, updated time.Time) {
		err := store.WithSession(ctx, func(sess tracker.Session) error {
			return sess.UpsertEntry(ctx, tracker.Entry{
				UserKey:     "alice smith",
				DisplayName: name,
				Date:        date,
				Location:    "WFH",
				CreatedAt:   updated,
				UpdatedAt:   updated,
			})
		})
		require.NoError(t, err)
	}
	// The earlier-dated row is the newer submission; its casing must win
	// even though date order visits it first.
	write("2025-01-06", "ALICE SMITH", base.Add(time.Hour))
	write("2025-01-07", "alice smith", base)

	summary, err := svc.BuildSummary(ctx, "2025-01-06")
	require.NoError(t, err)
	require.Len(t, summary.Users, 1)
	assert.Equal(t, "ALICE SMITH", summary.Users[0].DisplayName)
}

func TestBuildSummaryDefaultsToPreviousWeek(t *testing.T) {
	svc, store := newReportService(t, &fakeMailer{})
	seedWeek(t, store)

	summary, err := svc.BuildSummary(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", summary.WeekStart)
}

func TestRenderEmptyWeek(t *testing.T) {
	html, err := Render(&Summary{WeekStart: "2025-01-06", WeekEnd: "2025-01-10"})
	require.NoError(t, err)
	assert.Contains(t, html, "No entries were recorded")
}

func TestRunSendsAndRecords(t *testing.T) {
	mailer := &fakeMailer{}
	svc, store := newReportService(t, mailer)
	seedWeek(t, store)

	run, err := svc.Run(context.Background(), []string{"ops@indigital.example"}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, mailer.sent)
	assert.Contains(t, mailer.subject, "2025-01-06")
	assert.Contains(t, mailer.body, "Alice Smith")
	assert.Contains(t, mailer.body, "Acme")

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 2, run.UsersReported)
	assert.Equal(t, 6, run.TotalEntries)

	runs, err := store.ListReportRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestRunRecordsFailure(t *testing.T) {
	mailer := &fakeMailer{fail: errors.New("smtp timeout")}
	svc, store := newReportService(t, mailer)
	seedWeek(t, store)

	_, err := svc.Run(context.Background(), []string{"ops@indigital.example"}, "")
	require.Error(t, err)

	runs, err := store.ListReportRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Contains(t, runs[0].Error, "smtp timeout")
}

func TestSchedulerSkipsAlreadySentWeek(t *testing.T) {
	mailer := &fakeMailer{}
	svc, store := newReportService(t, mailer)
	seedWeek(t, store)

	// First dispatch records a completed run for the week.
	_, err := svc.Run(context.Background(), []string{"ops@indigital.example"}, "")
	require.NoError(t, err)
	require.Equal(t, 1, mailer.sent)

	sched := NewScheduler(svc, store, []string{"ops@indigital.example"}, nil)
	sched.now = func() time.Time {
		// The following Monday.
		return time.Date(2025, 1, 13, 9, 30, 0, 0, time.UTC)
	}
	sched.checkAndSend()
	assert.Equal(t, 1, mailer.sent, "scheduler must not resend a completed week")
}

func TestSchedulerOnlySendsOnSendDay(t *testing.T) {
	mailer := &fakeMailer{}
	svc, store := newReportService(t, mailer)
	seedWeek(t, store)

	sched := NewScheduler(svc, store, []string{"ops@indigital.example"}, nil)
	sched.now = fixedClock // a Wednesday
	sched.checkAndSend()
	assert.Zero(t, mailer.sent)

	sched.now = func() time.Time {
		return time.Date(2025, 1, 13, 9, 30, 0, 0, time.UTC)
	}
	sched.checkAndSend()
	assert.Equal(t, 1, mailer.sent)
	assert.True(t, strings.Contains(mailer.subject, "2025-01-06"))
}