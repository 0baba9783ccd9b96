// Package overdue sorts every published task's instances into the
// Overdue-Today and Past-Due sets shown on dashboards.
package overdue

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"duewatch/internal/calendar"
	"duewatch/internal/domain"
	"duewatch/internal/instance"
	"duewatch/internal/schedule"
)

type OverdueEntry struct {
	TaskID string    `json:"task_id"`
	Title  string    `json:"title"`
	Key    string    `json:"key"`
	Date   time.Time `json:"date"`
	DueAt  time.Time `json:"due_at"`
	Reason string    `json:"reason"`
}

type PastDueEntry struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Key         string    `json:"key"`
	Date        time.Time `json:"date"`
	DaysOverdue int       `json:"days_overdue"`
	// ScheduleEnded marks the single entry reported for a weekly or monthly
	// schedule that ended without any completion.
	ScheduleEnded bool `json:"schedule_ended,omitempty"`
}

type Stats struct {
	OverdueToday int `json:"overdue_today"`
	PastDue      int `json:"past_due"`
	TotalOverdue int `json:"total_overdue"`
}

type Result struct {
	OverdueToday []OverdueEntry `json:"overdue_today"`
	PastDue      []PastDueEntry `json:"past_due"`
	Stats        Stats          `json:"stats"`
}

type Categorizer struct {
	resolver *instance.Resolver
}

func NewCategorizer(r *instance.Resolver) *Categorizer {
	return &Categorizer{resolver: r}
}

func (c *Categorizer) Resolver() *instance.Resolver { return c.resolver }

// Categorize evaluates all tasks against now. It performs no I/O; the ledger
// must already hold fresh completions and the viewer's cleared markers.
func (c *Categorizer) Categorize(tasks []domain.ScheduledTask, l *instance.Ledger, now time.Time) Result {
	eval := c.resolver.Evaluator()
	today := eval.Today(now)
	res := Result{
		OverdueToday: []OverdueEntry{},
		PastDue:      []PastDueEntry{},
	}

	for _, t := range tasks {
		if t.Status != domain.StatusPublished {
			continue
		}
		if _, ok := eval.StartDay(t); !ok {
			log.Debug().Err(domain.ErrMissingStartDate).Str("task_id", t.ID).Msg("skipping task")
			continue
		}
		cfg := calendar.ConfigFor(t)

		if c.resolver.ResolveWith(t, cfg, today, now, l) == instance.StateOverdueToday {
			res.OverdueToday = append(res.OverdueToday, OverdueEntry{
				TaskID: t.ID,
				Title:  t.Title,
				Key:    domain.InstanceKey(t.ID, today),
				Date:   today,
				DueAt:  eval.ScheduledInstant(t, today),
				Reason: reason(t, cfg),
			})
		}
		res.PastDue = append(res.PastDue, c.pastDue(t, cfg, l, today, now)...)
	}

	res.Stats = stats(res)
	return res
}

func (c *Categorizer) pastDue(t domain.ScheduledTask, cfg calendar.Config, l *instance.Ledger, today, now time.Time) []PastDueEntry {
	eval := c.resolver.Evaluator()
	start, _ := eval.StartDay(t)
	end, hasEnd := eval.EndDay(t)

	switch t.ScheduleType {
	case domain.ScheduleOneTime:
		if c.resolver.ResolveWith(t, cfg, start, now, l) == instance.StateMissed {
			return []PastDueEntry{c.entry(t, cfg, start, today)}
		}
		return nil
	case domain.ScheduleWeekly, domain.ScheduleMonthly:
		missed := c.walk(t, cfg, l, start, today, now)
		if len(missed) == 0 || !hasEnd || !end.Before(today) || l.CompletedBetween(t.ID, start, end) {
			return missed
		}
		last := c.lastOccurrence(t, start, end)
		if l.IsCleared(t.ID, last) {
			return nil
		}
		e := c.entry(t, cfg, last, today)
		e.ScheduleEnded = true
		return []PastDueEntry{e}
	case domain.ScheduleDaily:
		return c.walk(t, cfg, l, start, today, now)
	default:
		return nil
	}
}

// walk visits each day strictly between start and today once.
func (c *Categorizer) walk(t domain.ScheduledTask, cfg calendar.Config, l *instance.Ledger, start, today, now time.Time) []PastDueEntry {
	eval := c.resolver.Evaluator()
	end, hasEnd := eval.EndDay(t)

	var out []PastDueEntry
	for d := start.AddDate(0, 0, 1); d.Before(today); d = d.AddDate(0, 0, 1) {
		if hasEnd && d.After(end) {
			break
		}
		if !eval.IsDateActive(t, d) {
			continue
		}
		if c.resolver.ResolveWith(t, cfg, d, now, l) == instance.StateMissed {
			out = append(out, c.entry(t, cfg, d, today))
		}
	}
	return out
}

// lastOccurrence returns the latest active date in [start, end].
func (c *Categorizer) lastOccurrence(t domain.ScheduledTask, start, end time.Time) time.Time {
	eval := c.resolver.Evaluator()
	for d := end; d.After(start); d = d.AddDate(0, 0, -1) {
		if eval.IsDateActive(t, d) {
			return d
		}
	}
	return start
}

func (c *Categorizer) entry(t domain.ScheduledTask, cfg calendar.Config, date, today time.Time) PastDueEntry {
	return PastDueEntry{
		TaskID:      t.ID,
		Title:       t.Title,
		Key:         domain.InstanceKey(t.ID, date),
		Date:        date,
		DaysOverdue: c.resolver.Calendar().BusinessDaysBetween(date, today, cfg),
	}
}

func reason(t domain.ScheduledTask, cfg calendar.Config) string {
	clock := t.Clock()
	s := fmt.Sprintf("%s schedule due at %02d:%02d", schedule.Label(t.ScheduleType), clock.Hour, clock.Minute)
	if cfg.BusinessDaysOnly {
		s += " (business days only)"
	}
	return s
}

func stats(res Result) Stats {
	unique := make(map[string]struct{}, len(res.OverdueToday)+len(res.PastDue))
	for _, e := range res.OverdueToday {
		unique[e.TaskID] = struct{}{}
	}
	for _, e := range res.PastDue {
		unique[e.TaskID] = struct{}{}
	}
	return Stats{
		OverdueToday: len(res.OverdueToday),
		PastDue:      len(res.PastDue),
		TotalOverdue: len(unique),
	}
}
