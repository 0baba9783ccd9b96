// Package calendar answers business-day questions for a task's schedule.
package calendar

import (
	"time"

	"github.com/rs/zerolog/log"

	"duewatch/internal/domain"
)

// DefaultWeekdays is Monday through Friday.
var DefaultWeekdays = [7]bool{
	time.Monday:    true,
	time.Tuesday:   true,
	time.Wednesday: true,
	time.Thursday:  true,
	time.Friday:    true,
}

// Config is the normalized business-day configuration of one task.
type Config struct {
	BusinessDaysOnly bool
	Weekdays         [7]bool
	ExcludeHolidays  bool
	HolidayCalendar  string
}

// ConfigFor normalizes a task's business-day fields. An empty or out-of-range
// weekday set falls back to DefaultWeekdays.
func ConfigFor(t domain.ScheduledTask) Config {
	cfg := Config{
		BusinessDaysOnly: t.BusinessDaysOnly,
		ExcludeHolidays:  t.ExcludeHolidays,
		HolidayCalendar:  t.HolidayCalendar,
	}
	days, ok := weekdaySet(t.BusinessDays)
	if !ok {
		if t.BusinessDaysOnly && len(t.BusinessDays) > 0 {
			log.Warn().
				Err(domain.ErrMalformedSchedule).
				Str("task_id", t.ID).
				Ints("business_days", t.BusinessDays).
				Msg("invalid business days, using Mon-Fri")
		}
		days = DefaultWeekdays
	}
	cfg.Weekdays = days
	return cfg
}

func weekdaySet(in []int) ([7]bool, bool) {
	var out [7]bool
	if len(in) == 0 {
		return out, false
	}
	for _, d := range in {
		if d < 0 || d > 6 {
			return out, false
		}
		out[d] = true
	}
	return out, true
}

// HolidayLookup resolves named holiday calendars. Implementations may fail;
// the calendar treats a failure as "not a holiday".
type HolidayLookup interface {
	IsHoliday(calendar string, date time.Time) (bool, error)
}

type Calendar struct {
	holidays HolidayLookup
}

// New returns a calendar. holidays may be nil, in which case holiday
// exclusion is skipped.
func New(holidays HolidayLookup) *Calendar {
	return &Calendar{holidays: holidays}
}

func (c *Calendar) IsBusinessDay(date time.Time, cfg Config) bool {
	if !cfg.BusinessDaysOnly {
		return true
	}
	if !cfg.Weekdays[date.Weekday()] {
		return false
	}
	if !cfg.ExcludeHolidays || c == nil || c.holidays == nil {
		return true
	}
	holiday, err := c.holidays.IsHoliday(cfg.HolidayCalendar, date)
	if err != nil {
		log.Warn().Err(err).
			Str("calendar", cfg.HolidayCalendar).
			Str("date", date.Format(domain.DateLayout)).
			Msg("holiday lookup failed, treating as business day")
		return true
	}
	return !holiday
}

// BusinessDaysBetween counts days in (start, end] that are business days.
// It returns 0 when end is not after start.
func (c *Calendar) BusinessDaysBetween(start, end time.Time, cfg Config) int {
	n := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d, cfg) {
			n++
		}
	}
	return n
}
