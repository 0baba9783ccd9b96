package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"duewatch/internal/metrics"
	"duewatch/internal/notify"
	"duewatch/internal/overdue"
)

type stubEvaluator struct {
	res    overdue.Result
	err    error
	userID string
}

func (s *stubEvaluator) Evaluate(_ context.Context, userID string, _ time.Time) (overdue.Result, error) {
	s.userID = userID
	return s.res, s.err
}

type recordingNotifier struct {
	digests []notify.Digest
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, d notify.Digest) error {
	r.digests = append(r.digests, d)
	return r.err
}

func TestRunOnceNotifiesAndPublishesGauges(t *testing.T) {
	eval := &stubEvaluator{res: overdue.Result{Stats: overdue.Stats{OverdueToday: 3, PastDue: 5, TotalOverdue: 4}}}
	n := &recordingNotifier{}
	svc, err := NewService(eval, n, "*/5 * * * *", "u1", time.UTC)
	require.NoError(t, err)
	fixed := time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.RunOnce(context.Background()))
	require.Equal(t, "u1", eval.userID)
	require.Len(t, n.digests, 1)
	require.Equal(t, fixed, n.digests[0].GeneratedAt)
	require.Equal(t, float64(5), testutil.ToFloat64(metrics.PastDue))
	require.Equal(t, float64(4), testutil.ToFloat64(metrics.TotalOverdue))
}

func TestRunOnceSkipsNotifyOnFetchFailure(t *testing.T) {
	eval := &stubEvaluator{err: errors.New("backend unavailable")}
	n := &recordingNotifier{}
	svc, err := NewService(eval, n, "@hourly", "", nil)
	require.NoError(t, err)

	require.Error(t, svc.RunOnce(context.Background()))
	require.Empty(t, n.digests)
}

func TestNewServiceRejectsBadCron(t *testing.T) {
	_, err := NewService(&stubEvaluator{}, notify.Log{}, "every day", "", time.UTC)
	require.Error(t, err)
}

func TestNextRunTime(t *testing.T) {
	next, err := NextRunTime("0 9 * * *", time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), next)
}

func TestStartLogsNextRun(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	svc, err := NewService(&stubEvaluator{}, notify.Log{}, "0 9 * * *", "u1", time.UTC)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC) }

	svc.Start()
	svc.Stop()
	require.Contains(t, buf.String(), `"next_run":"2024-01-05T09:00:00Z"`)
}
