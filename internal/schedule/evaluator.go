// Package schedule decides which calendar dates are occurrences of a task
// and when each occurrence falls due. It never looks at completions.
package schedule

import (
	"time"

	"duewatch/internal/domain"
)

// Evaluator places all dates in a single evaluation calendar.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator returns an evaluator for loc; nil means UTC.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

func (e *Evaluator) Location() *time.Location { return e.loc }

// Date returns midnight, in the evaluation calendar, of the wall-clock day t
// shows in its own location. Stored start and end dates are calendar days and
// must not shift when the evaluation timezone differs from the stored one.
func (e *Evaluator) Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc)
}

// Today is the calendar day of the instant now in the evaluation calendar.
func (e *Evaluator) Today(now time.Time) time.Time {
	return e.Date(now.In(e.loc))
}

// StartDay returns the task's start date, if it has one.
func (e *Evaluator) StartDay(t domain.ScheduledTask) (time.Time, bool) {
	if t.StartDate == nil || t.StartDate.IsZero() {
		return time.Time{}, false
	}
	return e.Date(*t.StartDate), true
}

// EndDay returns the task's end date, if it has one.
func (e *Evaluator) EndDay(t domain.ScheduledTask) (time.Time, bool) {
	if t.EndDate == nil || t.EndDate.IsZero() {
		return time.Time{}, false
	}
	return e.Date(*t.EndDate), true
}

// IsDateActive reports whether date lies within [start, end] and matches the
// recurrence pattern. Business-day filtering is left to the caller.
func (e *Evaluator) IsDateActive(t domain.ScheduledTask, date time.Time) bool {
	start, ok := e.StartDay(t)
	if !ok {
		return false
	}
	date = e.Date(date)
	if date.Before(start) {
		return false
	}
	if end, ok := e.EndDay(t); ok && date.After(end) {
		return false
	}

	switch t.ScheduleType {
	case domain.ScheduleOneTime:
		return date.Equal(start)
	case domain.ScheduleDaily:
		return true
	case domain.ScheduleWeekly:
		return date.Weekday() == start.Weekday()
	case domain.ScheduleMonthly:
		return date.Day() == start.Day()
	default:
		// custom frequencies are display text only
		return false
	}
}

// ScheduledInstant combines date with the task's due time of day.
func (e *Evaluator) ScheduledInstant(t domain.ScheduledTask, date time.Time) time.Time {
	return t.Clock().On(e.Date(date))
}

// HasTimePassed reports whether now is strictly after the due instant on date.
func (e *Evaluator) HasTimePassed(t domain.ScheduledTask, date, now time.Time) bool {
	return now.After(e.ScheduledInstant(t, date))
}

// Label is the human-facing name of a schedule type.
func Label(s domain.ScheduleType) string {
	switch s {
	case domain.ScheduleOneTime:
		return "One-time"
	case domain.ScheduleDaily:
		return "Daily"
	case domain.ScheduleWeekly:
		return "Weekly"
	case domain.ScheduleMonthly:
		return "Monthly"
	case domain.ScheduleCustom:
		return "Custom"
	default:
		return string(s)
	}
}
