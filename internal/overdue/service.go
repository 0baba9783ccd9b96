package overdue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"duewatch/internal/domain"
	"duewatch/internal/instance"
	"duewatch/internal/metrics"
)

var ErrUserRequired = errors.New("overdue: user id is required")

// Store is the persistence collaborator the service reads from and writes
// cleared markers to.
type Store interface {
	ListTasks(ctx context.Context, status domain.Status) ([]domain.ScheduledTask, error)
	ListCompletions(ctx context.Context, taskIDs []string) ([]domain.CompletionEvent, error)
	ListCleared(ctx context.Context, userID string) ([]domain.ClearedInstance, error)
	UpsertCleared(ctx context.Context, markers []domain.ClearedInstance) (int, error)
}

// Service fetches fresh collaborator data on every call; nothing is cached
// between evaluations.
type Service struct {
	store Store
	cat   *Categorizer
}

func NewService(store Store, cat *Categorizer) *Service {
	return &Service{store: store, cat: cat}
}

// Tasks returns the published tasks.
func (s *Service) Tasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	tasks, err := s.store.ListTasks(ctx, domain.StatusPublished)
	if err != nil {
		return nil, fetchFailed("tasks", err)
	}
	return tasks, nil
}

// Evaluate categorizes all published tasks for userID. A failed fetch aborts
// with a *domain.DataFetchError and no partial result.
func (s *Service) Evaluate(ctx context.Context, userID string, now time.Time) (Result, error) {
	started := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(started).Seconds()) }()

	tasks, err := s.Tasks(ctx)
	if err != nil {
		return Result{}, err
	}
	l, err := s.ledger(ctx, userID, tasks)
	if err != nil {
		return Result{}, err
	}
	return s.cat.Categorize(tasks, l, now), nil
}

// ClearPastDue acknowledges every currently missed instance of tasks for
// userID and returns how many markers were newly written. Re-running it is
// a no-op.
func (s *Service) ClearPastDue(ctx context.Context, userID string, tasks []domain.ScheduledTask, now time.Time) (int, error) {
	if userID == "" {
		return 0, ErrUserRequired
	}
	l, err := s.ledger(ctx, userID, tasks)
	if err != nil {
		return 0, err
	}
	res := s.cat.Categorize(tasks, l, now)

	seen := make(map[string]struct{}, len(res.PastDue))
	markers := make([]domain.ClearedInstance, 0, len(res.PastDue))
	for _, e := range res.PastDue {
		if l.IsCleared(e.TaskID, e.Date) {
			continue
		}
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		markers = append(markers, domain.ClearedInstance{
			UserID:       userID,
			TaskID:       e.TaskID,
			InstanceDate: e.Date,
			ClearedAt:    now,
		})
	}
	if len(markers) == 0 {
		return 0, nil
	}

	n, err := s.store.UpsertCleared(ctx, markers)
	if err != nil {
		return 0, fmt.Errorf("persist cleared instances: %w", err)
	}
	metrics.ClearedInstancesTotal.Add(float64(n))
	log.Info().Str("user_id", userID).Int("cleared", n).Int("candidates", len(markers)).Msg("cleared past-due instances")
	return n, nil
}

func (s *Service) ledger(ctx context.Context, userID string, tasks []domain.ScheduledTask) (*instance.Ledger, error) {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	completions, err := s.store.ListCompletions(ctx, ids)
	if err != nil {
		return nil, fetchFailed("completions", err)
	}
	var cleared []domain.ClearedInstance
	if userID != "" {
		cleared, err = s.store.ListCleared(ctx, userID)
		if err != nil {
			return nil, fetchFailed("cleared instances", err)
		}
	}
	return instance.NewLedger(s.cat.Resolver().Evaluator(), completions, cleared), nil
}

func fetchFailed(source string, err error) error {
	metrics.EvaluationFailures.WithLabelValues(source).Inc()
	return &domain.DataFetchError{Source: source, Err: err}
}
