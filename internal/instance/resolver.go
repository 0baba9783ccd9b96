// Package instance classifies a single (task, date) occurrence.
package instance

import (
	"time"

	"duewatch/internal/calendar"
	"duewatch/internal/domain"
	"duewatch/internal/schedule"
)

type State string

const (
	StateInactive     State = "inactive"
	StatePending      State = "pending"
	StateOverdueToday State = "overdue_today"
	StateMissed       State = "missed"
	StateCompleted    State = "completed"
	StateCleared      State = "cleared"
)

// Ledger indexes completion events and cleared markers by instance key.
// A nil *Ledger reports nothing completed and nothing cleared.
type Ledger struct {
	completed map[string]struct{}
	byTask    map[string][]time.Time
	cleared   map[string]struct{}
}

// NewLedger buckets completions into calendar days of the evaluator's
// location. Cleared markers are expected to belong to a single user.
func NewLedger(eval *schedule.Evaluator, completions []domain.CompletionEvent, cleared []domain.ClearedInstance) *Ledger {
	l := &Ledger{
		completed: make(map[string]struct{}, len(completions)),
		byTask:    make(map[string][]time.Time),
		cleared:   make(map[string]struct{}, len(cleared)),
	}
	for _, c := range completions {
		day := eval.Date(c.SubmittedAt.In(eval.Location()))
		l.completed[domain.InstanceKey(c.TaskID, day)] = struct{}{}
		l.byTask[c.TaskID] = append(l.byTask[c.TaskID], day)
	}
	for _, c := range cleared {
		l.cleared[domain.InstanceKey(c.TaskID, eval.Date(c.InstanceDate))] = struct{}{}
	}
	return l
}

func (l *Ledger) IsCompleted(taskID string, date time.Time) bool {
	if l == nil {
		return false
	}
	_, ok := l.completed[domain.InstanceKey(taskID, date)]
	return ok
}

func (l *Ledger) IsCleared(taskID string, date time.Time) bool {
	if l == nil {
		return false
	}
	_, ok := l.cleared[domain.InstanceKey(taskID, date)]
	return ok
}

// CompletedBetween reports whether the task has any completion on a day in
// [from, to].
func (l *Ledger) CompletedBetween(taskID string, from, to time.Time) bool {
	if l == nil {
		return false
	}
	for _, d := range l.byTask[taskID] {
		if !d.Before(from) && !d.After(to) {
			return true
		}
	}
	return false
}

type Resolver struct {
	eval *schedule.Evaluator
	cal  *calendar.Calendar
}

func NewResolver(eval *schedule.Evaluator, cal *calendar.Calendar) *Resolver {
	return &Resolver{eval: eval, cal: cal}
}

func (r *Resolver) Evaluator() *schedule.Evaluator { return r.eval }

func (r *Resolver) Calendar() *calendar.Calendar { return r.cal }

// Resolve classifies the occurrence of t on date as of now.
func (r *Resolver) Resolve(t domain.ScheduledTask, date, now time.Time, l *Ledger) State {
	return r.ResolveWith(t, calendar.ConfigFor(t), date, now, l)
}

// ResolveWith is Resolve with a precomputed business-day configuration.
// Completion takes precedence over clearing, and clearing over missed.
func (r *Resolver) ResolveWith(t domain.ScheduledTask, cfg calendar.Config, date, now time.Time, l *Ledger) State {
	if t.Status != domain.StatusPublished {
		return StateInactive
	}
	if _, ok := r.eval.StartDay(t); !ok {
		return StateInactive
	}
	date = r.eval.Date(date)
	if end, ok := r.eval.EndDay(t); ok && date.After(end) {
		return StateInactive
	}
	if cfg.BusinessDaysOnly && !r.cal.IsBusinessDay(date, cfg) {
		return StateInactive
	}
	if !r.eval.IsDateActive(t, date) {
		return StateInactive
	}

	if l.IsCompleted(t.ID, date) {
		return StateCompleted
	}
	if l.IsCleared(t.ID, date) {
		return StateCleared
	}
	today := r.eval.Today(now)
	if date.Before(today) {
		return StateMissed
	}
	if date.Equal(today) && r.eval.HasTimePassed(t, date, now) {
		return StateOverdueToday
	}
	return StatePending
}
