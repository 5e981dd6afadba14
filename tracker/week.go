package tracker

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// WeekEnd returns the Friday of a working week given its Monday start
// (four days after the start; the system tracks Monday-Friday only).
func WeekEnd(weekStart string) (string, error) {
	start, err := time.Parse(dateLayout, weekStart)
	if err != nil {
		return "", &ValidationError{Index: -1, Field: "week_start", Message: "invalid date format, use YYYY-MM-DD"}
	}
	return start.AddDate(0, 0, 4).Format(dateLayout), nil
}

// PreviousWeekStart returns the Monday of the week before the one
// containing now. Used by the weekly report job, which runs on Mondays and
// reports on the completed week.
func PreviousWeekStart(now time.Time) string {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	currentMonday := now.AddDate(0, 0, -daysSinceMonday)
	return currentMonday.AddDate(0, 0, -7).Format(dateLayout)
}

// FormatDay renders a stored date for human-readable output, e.g. the
// report header. Falls back to the raw string on parse failure.
func FormatDay(date string) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s %d, %d", t.Month(), t.Day(), t.Year())
}
