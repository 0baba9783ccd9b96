package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"duewatch/internal/metrics"
	"duewatch/internal/notify"
	"duewatch/internal/overdue"
)

// Evaluator produces a fresh overdue result for one user.
type Evaluator interface {
	Evaluate(ctx context.Context, userID string, now time.Time) (overdue.Result, error)
}

// Service periodically re-evaluates overdue state and hands the result to a
// notifier. The schedule engine itself stays on-demand; this job is only one
// of its consumers.
type Service struct {
	eval     Evaluator
	notifier notify.Notifier
	cron     *cron.Cron
	spec     string
	userID   string
	timeout  time.Duration
	now      func() time.Time
}

func NewService(eval Evaluator, notifier notify.Notifier, spec, userID string, loc *time.Location) (*Service, error) {
	if err := ValidateCronExpression(spec); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		eval:     eval,
		notifier: notifier,
		cron:     cron.New(cron.WithLocation(loc)),
		spec:     spec,
		userID:   userID,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Start() {
	ev := log.Info().Str("cron", s.spec).Str("user_id", s.userID)
	if next, err := NextRunTime(s.spec, s.now().In(s.cron.Location())); err == nil {
		ev = ev.Time("next_run", next)
	}
	ev.Msg("digest service started")
	s.cron.Start()
}

func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("digest run failed")
	}
}

// RunOnce evaluates, publishes gauges, and notifies. A fetch failure leaves
// the gauges at their previous values rather than reporting zero.
func (s *Service) RunOnce(ctx context.Context) error {
	now := s.now()
	res, err := s.eval.Evaluate(ctx, s.userID, now)
	if err != nil {
		metrics.DigestRuns.WithLabelValues("fetch_error").Inc()
		return err
	}
	metrics.SetOverdue(res.Stats.OverdueToday, res.Stats.PastDue, res.Stats.TotalOverdue)

	if err := s.notifier.Notify(ctx, notify.Digest{UserID: s.userID, GeneratedAt: now, Result: res}); err != nil {
		metrics.DigestRuns.WithLabelValues("notify_error").Inc()
		return err
	}
	metrics.DigestRuns.WithLabelValues("ok").Inc()
	return nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
