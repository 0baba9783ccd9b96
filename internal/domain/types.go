package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used in instance keys and the store.
const DateLayout = "2006-01-02"

var (
	ErrMissingStartDate  = errors.New("domain: task has no start date")
	ErrMalformedSchedule = errors.New("domain: malformed schedule")
)

// DataFetchError wraps a collaborator I/O failure. It is never absorbed: callers
// must abort the computation that depended on the fetch.
type DataFetchError struct {
	Source string
	Err    error
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *DataFetchError) Unwrap() error { return e.Err }

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	default:
		return false
	}
}

type ScheduleType string

const (
	ScheduleOneTime ScheduleType = "one_time"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
	ScheduleCustom  ScheduleType = "custom"
)

func (s ScheduleType) IsValid() bool {
	switch s {
	case ScheduleOneTime, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleCustom:
		return true
	default:
		return false
	}
}

// IsRecurring reports whether the schedule produces more than one instance.
func (s ScheduleType) IsRecurring() bool {
	return s == ScheduleDaily || s == ScheduleWeekly || s == ScheduleMonthly
}

// ScheduledTask is one form's due-date configuration.
type ScheduledTask struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Status           Status       `json:"status"`
	ScheduleType     ScheduleType `json:"schedule_type"`
	Frequency        string       `json:"frequency,omitempty"` // custom schedules only, display text
	StartDate        *time.Time   `json:"start_date,omitempty"`
	EndDate          *time.Time   `json:"end_date,omitempty"`
	TimeOfDay        string       `json:"time_of_day,omitempty"`
	Timezone         string       `json:"timezone,omitempty"`
	BusinessDaysOnly bool         `json:"business_days_only"`
	BusinessDays     []int        `json:"business_days,omitempty"`
	ExcludeHolidays  bool         `json:"exclude_holidays"`
	HolidayCalendar  string       `json:"holiday_calendar,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Clock returns the due wall-clock time, falling back to 09:00:00 when the
// stored value is empty or unparsable.
func (t ScheduledTask) Clock() Clock {
	if t.TimeOfDay == "" {
		return DefaultClock
	}
	c, err := ParseClock(t.TimeOfDay)
	if err != nil {
		return DefaultClock
	}
	return c
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

var DefaultClock = Clock{Hour: 9}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if tm, err := time.Parse(layout, s); err == nil {
			return Clock{Hour: tm.Hour(), Minute: tm.Minute(), Second: tm.Second()}, nil
		}
	}
	return Clock{}, fmt.Errorf("%w: time of day %q", ErrMalformedSchedule, s)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// On places the clock on the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, date.Location())
}

// CompletionEvent is a recorded submission as seen by the schedule engine.
type CompletionEvent struct {
	TaskID      string    `json:"task_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submission is a stored form response together with its compliance flags.
type Submission struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	UserID      string          `json:"user_id,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	IntendedAt  *time.Time      `json:"intended_at,omitempty"`
	IsLate      bool            `json:"is_late"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// ClearedInstance is a user's acknowledgment of a missed instance.
type ClearedInstance struct {
	UserID       string    `json:"user_id"`
	TaskID       string    `json:"task_id"`
	InstanceDate time.Time `json:"instance_date"`
	ClearedAt    time.Time `json:"cleared_at"`
}

// Key returns the instance identity of the marker.
func (c ClearedInstance) Key() string {
	return InstanceKey(c.TaskID, c.InstanceDate)
}

// InstanceKey serializes the (task, date) identity of one occurrence.
func InstanceKey(taskID string, date time.Time) string {
	return taskID + "-" + date.Format(DateLayout)
}
