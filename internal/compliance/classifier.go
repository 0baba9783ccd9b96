// Package compliance flags late form submissions at submit time.
package compliance

import (
	"fmt"
	"time"

	"duewatch/internal/domain"
	"duewatch/internal/schedule"
)

const DefaultGracePeriod = 24 * time.Hour

type Result struct {
	IntendedAt    time.Time `json:"intended_at"`
	LateThreshold time.Time `json:"late_threshold"`
	IsLate        bool      `json:"is_late"`
}

type Classifier struct {
	eval  *schedule.Evaluator
	grace time.Duration
}

// NewClassifier uses DefaultGracePeriod when grace is not positive.
func NewClassifier(eval *schedule.Evaluator, grace time.Duration) *Classifier {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Classifier{eval: eval, grace: grace}
}

func (c *Classifier) GracePeriod() time.Duration { return c.grace }

// Classify computes the instant a submission made at now was meant for and
// whether it arrived after the grace period. Late submissions are never
// rejected here; the caller stores the flag.
func (c *Classifier) Classify(t domain.ScheduledTask, now time.Time) (Result, error) {
	start, ok := c.eval.StartDay(t)
	if !ok {
		return Result{}, fmt.Errorf("classify %s: %w", t.ID, domain.ErrMissingStartDate)
	}

	intended := c.eval.ScheduledInstant(t, start)
	if t.ScheduleType == domain.ScheduleDaily {
		if today := c.eval.Today(now); !today.Before(start) {
			intended = c.eval.ScheduledInstant(t, today)
		}
	}

	threshold := intended.Add(c.grace)
	return Result{
		IntendedAt:    intended,
		LateThreshold: threshold,
		IsLate:        now.After(threshold),
	}, nil
}
