package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duewatch/internal/domain"
)

func ptr(t time.Time) *time.Time { return &t }

func task(kind domain.ScheduleType, start time.Time) domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:           "frm_1",
		Status:       domain.StatusPublished,
		ScheduleType: kind,
		StartDate:    ptr(start),
		TimeOfDay:    "09:00:00",
	}
}

func TestIsDateActiveByScheduleType(t *testing.T) {
	e := NewEvaluator(time.UTC)
	// Monday 2024-01-01, 15:30 wall clock must not matter.
	start := time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)
	d := func(m time.Month, day int) time.Time { return time.Date(2024, m, day, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		kind domain.ScheduleType
		date time.Time
		want bool
	}{
		{"one_time on start", domain.ScheduleOneTime, d(1, 1), true},
		{"one_time after start", domain.ScheduleOneTime, d(1, 2), false},
		{"daily before start", domain.ScheduleDaily, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"daily later", domain.ScheduleDaily, d(3, 17), true},
		{"weekly same weekday", domain.ScheduleWeekly, d(1, 8), true},
		{"weekly other weekday", domain.ScheduleWeekly, d(1, 9), false},
		{"monthly same day", domain.ScheduleMonthly, d(2, 1), true},
		{"monthly other day", domain.ScheduleMonthly, d(2, 2), false},
		{"custom never active", domain.ScheduleCustom, d(1, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, e.IsDateActive(task(tt.kind, start), tt.date))
		})
	}
}

func TestIsDateActiveRespectsEndDate(t *testing.T) {
	e := NewEvaluator(time.UTC)
	tk := task(domain.ScheduleDaily, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk.EndDate = ptr(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	require.True(t, e.IsDateActive(tk, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))
	require.False(t, e.IsDateActive(tk, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)))
}

func TestIsDateActiveWithoutStartDate(t *testing.T) {
	e := NewEvaluator(time.UTC)
	tk := task(domain.ScheduleDaily, time.Now())
	tk.StartDate = nil
	require.False(t, e.IsDateActive(tk, time.Now()))
}

func TestScheduledInstantUsesTimeOfDay(t *testing.T) {
	e := NewEvaluator(time.UTC)
	tk := task(domain.ScheduleDaily, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk.TimeOfDay = "17:45"

	got := e.ScheduledInstant(tk, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2024, 1, 3, 17, 45, 0, 0, time.UTC), got)

	tk.TimeOfDay = ""
	got = e.ScheduledInstant(tk, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), got)
}

func TestHasTimePassedIsStrict(t *testing.T) {
	e := NewEvaluator(time.UTC)
	tk := task(domain.ScheduleDaily, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	date := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC)

	require.False(t, e.HasTimePassed(tk, date, due))
	require.True(t, e.HasTimePassed(tk, date, due.Add(time.Nanosecond)))
}

func TestTodayUsesEvaluationLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	e := NewEvaluator(ny)

	// 03:00 UTC on Jan 4 is still Jan 3 in New York.
	today := e.Today(time.Date(2024, 1, 4, 3, 0, 0, 0, time.UTC))
	require.Equal(t, "2024-01-03", today.Format(domain.DateLayout))
	require.Equal(t, ny, today.Location())

	// Stored calendar dates keep their day regardless of the evaluation zone.
	require.Equal(t, "2024-01-01", e.Date(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).Format(domain.DateLayout))
}
