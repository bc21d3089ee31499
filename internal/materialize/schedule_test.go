package materialize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/feature-store/internal/model"
)

func tp(t time.Time) *time.Time { return &t }

func TestDue(t *testing.T) {
	// Wednesday, mid-month, mid-day.
	now := time.Date(2026, 3, 18, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cadence model.Cadence
		lastRun *time.Time
		want    bool
	}{
		{"never run", model.CadenceDaily, nil, true},

		{"hourly ran last hour", model.CadenceHourly, tp(time.Date(2026, 3, 18, 13, 45, 0, 0, time.UTC)), true},
		{"hourly ran this hour", model.CadenceHourly, tp(time.Date(2026, 3, 18, 14, 5, 0, 0, time.UTC)), false},

		{"daily ran yesterday", model.CadenceDaily, tp(time.Date(2026, 3, 17, 23, 0, 0, 0, time.UTC)), true},
		{"daily ran today", model.CadenceDaily, tp(time.Date(2026, 3, 18, 1, 0, 0, 0, time.UTC)), false},
		{"daily missed several days", model.CadenceDaily, tp(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)), true},

		{"weekly ran last week", model.CadenceWeekly, tp(time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)), true},
		{"weekly ran monday this week", model.CadenceWeekly, tp(time.Date(2026, 3, 16, 0, 30, 0, 0, time.UTC)), false},

		{"monthly ran last month", model.CadenceMonthly, tp(time.Date(2026, 2, 27, 9, 0, 0, 0, time.UTC)), true},
		{"monthly ran this month", model.CadenceMonthly, tp(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)), false},

		{"unknown cadence never due", model.Cadence("adhoc"), tp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.cadence, now, tt.lastRun))
		})
	}
}

func TestStartOfWeek(t *testing.T) {
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	// Any day of that week maps back to its Monday, Sunday included.
	for d := 0; d < 7; d++ {
		got := startOfWeek(monday.AddDate(0, 0, d).Add(11 * time.Hour))
		assert.Equal(t, monday, got, "day offset %d", d)
	}
}

func TestStartOfMonth(t *testing.T) {
	got := startOfMonth(time.Date(2026, 3, 18, 14, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
