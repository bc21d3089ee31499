package materialize

import (
	"time"

	"github.com/sells-group/feature-store/internal/model"
)

// Due reports whether a feature with the given cadence needs a run, given
// the time of its last successful run (nil if never run). A feature is due
// once per cadence boundary, not once per elapsed interval, so a missed
// window is caught up on the next check without double-running.
func Due(cadence model.Cadence, now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	switch cadence {
	case model.CadenceHourly:
		return lastRun.Before(now.Truncate(time.Hour))
	case model.CadenceDaily:
		return lastRun.Before(startOfDay(now))
	case model.CadenceWeekly:
		return lastRun.Before(startOfWeek(now))
	case model.CadenceMonthly:
		return lastRun.Before(startOfMonth(now))
	default:
		return false
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns midnight of the current ISO week's Monday.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return time.Date(t.Year(), t.Month(), t.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
