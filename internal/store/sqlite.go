package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"duewatch/internal/domain"
)

var ErrNotFound = errors.New("store: not found")

const timeLayout = time.RFC3339Nano

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS forms (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('draft','published','archived')) DEFAULT 'draft',
  schedule_type TEXT NOT NULL CHECK(schedule_type IN ('one_time','daily','weekly','monthly','custom')),
  frequency TEXT NOT NULL DEFAULT '',
  start_date TEXT,
  end_date TEXT,
  time_of_day TEXT NOT NULL DEFAULT '09:00:00',
  timezone TEXT NOT NULL DEFAULT '',
  business_days_only INTEGER NOT NULL DEFAULT 0,
  business_days TEXT NOT NULL DEFAULT '[1,2,3,4,5]',
  exclude_holidays INTEGER NOT NULL DEFAULT 0,
  holiday_calendar TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forms_status ON forms(status);
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  form_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  submitted_at TEXT NOT NULL,
  intended_at TEXT,
  is_late INTEGER NOT NULL DEFAULT 0,
  data BLOB,
  FOREIGN KEY(form_id) REFERENCES forms(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions(form_id, submitted_at);
CREATE TABLE IF NOT EXISTS cleared_instances (
  user_id TEXT NOT NULL,
  form_id TEXT NOT NULL,
  instance_date TEXT NOT NULL,
  cleared_at TEXT NOT NULL,
  UNIQUE(user_id, form_id, instance_date)
);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	CreateTask(ctx context.Context, t domain.ScheduledTask) (string, error)
	GetTask(ctx context.Context, id string) (domain.ScheduledTask, error)
	// ListTasks returns all tasks when status is empty.
	ListTasks(ctx context.Context, status domain.Status) ([]domain.ScheduledTask, error)
	UpdateTask(ctx context.Context, t domain.ScheduledTask) error
	DeleteTask(ctx context.Context, id string) error

	RecordSubmission(ctx context.Context, s domain.Submission) (string, error)
	ListSubmissions(ctx context.Context, taskID string, limit int) ([]domain.Submission, error)
	ListCompletions(ctx context.Context, taskIDs []string) ([]domain.CompletionEvent, error)

	ListCleared(ctx context.Context, userID string) ([]domain.ClearedInstance, error)
	// UpsertCleared writes markers in one transaction and returns how many
	// were new. Existing (user, task, date) rows are left untouched.
	UpsertCleared(ctx context.Context, markers []domain.ClearedInstance) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const taskColumns = `id,title,status,schedule_type,frequency,start_date,end_date,time_of_day,timezone,business_days_only,business_days,exclude_holidays,holiday_calendar,created_at,updated_at`

func (r *sqliteRepo) CreateTask(ctx context.Context, t domain.ScheduledTask) (string, error) {
	id := t.ID
	if id == "" {
		id = "frm_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusDraft
	}
	if t.TimeOfDay == "" {
		t.TimeOfDay = domain.DefaultClock.String()
	}
	days, err := encodeDays(t.BusinessDays)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
INSERT INTO forms (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, id, t.Title, t.Status, t.ScheduleType, t.Frequency, nullTime(t.StartDate), nullTime(t.EndDate),
		t.TimeOfDay, t.Timezone, t.BusinessDaysOnly, days, t.ExcludeHolidays, t.HolidayCalendar,
		formatTime(now), formatTime(now))
	return id, err
}

func (r *sqliteRepo) GetTask(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM forms WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledTask{}, ErrNotFound
	}
	return t, err
}

func (r *sqliteRepo) ListTasks(ctx context.Context, status domain.Status) ([]domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM forms`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.ScheduledTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepo) UpdateTask(ctx context.Context, t domain.ScheduledTask) error {
	days, err := encodeDays(t.BusinessDays)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE forms SET title=?,status=?,schedule_type=?,frequency=?,start_date=?,end_date=?,time_of_day=?,timezone=?,
  business_days_only=?,business_days=?,exclude_holidays=?,holiday_calendar=?,updated_at=?
WHERE id=?`, t.Title, t.Status, t.ScheduleType, t.Frequency, nullTime(t.StartDate), nullTime(t.EndDate),
		t.TimeOfDay, t.Timezone, t.BusinessDaysOnly, days, t.ExcludeHolidays, t.HolidayCalendar,
		formatTime(time.Now().UTC()), t.ID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *sqliteRepo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM forms WHERE id=?", id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *sqliteRepo) RecordSubmission(ctx context.Context, s domain.Submission) (string, error) {
	id := s.ID
	if id == "" {
		id = "sub_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO submissions (id,form_id,user_id,submitted_at,intended_at,is_late,data)
VALUES (?,?,?,?,?,?,?)
`, id, s.TaskID, s.UserID, formatTime(s.SubmittedAt), nullTime(s.IntendedAt), s.IsLate, []byte(s.Data))
	return id, err
}

func (r *sqliteRepo) ListSubmissions(ctx context.Context, taskID string, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,form_id,user_id,submitted_at,intended_at,is_late,data
FROM submissions WHERE form_id=? ORDER BY submitted_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []domain.Submission{}
	for rows.Next() {
		var s domain.Submission
		var submitted string
		var intended sql.NullString
		var data []byte
		if err := rows.Scan(&s.ID, &s.TaskID, &s.UserID, &submitted, &intended, &s.IsLate, &data); err != nil {
			return nil, err
		}
		if s.SubmittedAt, err = time.Parse(timeLayout, submitted); err != nil {
			return nil, err
		}
		if s.IntendedAt, err = parseNullableTime(intended); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			s.Data = json.RawMessage(data)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *sqliteRepo) ListCompletions(ctx context.Context, taskIDs []string) ([]domain.CompletionEvent, error) {
	if len(taskIDs) == 0 {
		return []domain.CompletionEvent{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, 0, len(taskIDs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT form_id, submitted_at FROM submissions
WHERE form_id IN (`+placeholders+`) ORDER BY submitted_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.CompletionEvent{}
	for rows.Next() {
		var e domain.CompletionEvent
		var submitted string
		if err := rows.Scan(&e.TaskID, &submitted); err != nil {
			return nil, err
		}
		if e.SubmittedAt, err = time.Parse(timeLayout, submitted); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqliteRepo) ListCleared(ctx context.Context, userID string) ([]domain.ClearedInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, form_id, instance_date, cleared_at FROM cleared_instances
WHERE user_id=? ORDER BY instance_date`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ClearedInstance{}
	for rows.Next() {
		var c domain.ClearedInstance
		var date, cleared string
		if err := rows.Scan(&c.UserID, &c.TaskID, &date, &cleared); err != nil {
			return nil, err
		}
		if c.InstanceDate, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, err
		}
		if c.ClearedAt, err = time.Parse(timeLayout, cleared); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) UpsertCleared(ctx context.Context, markers []domain.ClearedInstance) (n int, err error) {
	if len(markers) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO cleared_instances (user_id, form_id, instance_date, cleared_at)
VALUES (?,?,?,?)
ON CONFLICT(user_id, form_id, instance_date) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, m := range markers {
		res, execErr := stmt.ExecContext(ctx, m.UserID, m.TaskID, m.InstanceDate.Format(domain.DateLayout), formatTime(m.ClearedAt))
		if execErr != nil {
			err = execErr
			return 0, err
		}
		affected, _ := res.RowsAffected()
		n += int(affected)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var start, end sql.NullString
	var days, created, updated string
	if err := s.Scan(&t.ID, &t.Title, &t.Status, &t.ScheduleType, &t.Frequency, &start, &end,
		&t.TimeOfDay, &t.Timezone, &t.BusinessDaysOnly, &days, &t.ExcludeHolidays, &t.HolidayCalendar,
		&created, &updated); err != nil {
		return domain.ScheduledTask{}, err
	}
	var err error
	if t.StartDate, err = parseNullableTime(start); err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.EndDate, err = parseNullableTime(end); err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return domain.ScheduledTask{}, err
	}
	t.BusinessDays = decodeDays(t.ID, days)
	return t, nil
}

// decodeDays never fails: a value that is not an integer array is logged and
// dropped so the calendar falls back to its default weekdays.
func decodeDays(taskID, raw string) []int {
	if raw == "" {
		return nil
	}
	var days []int
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: business days %q: %v", domain.ErrMalformedSchedule, raw, err)).
			Str("task_id", taskID).
			Msg("ignoring stored business days")
		return nil
	}
	return days
}

func encodeDays(days []int) (string, error) {
	if days == nil {
		days = []int{1, 2, 3, 4, 5}
	}
	b, err := json.Marshal(days)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullTime keeps the wall clock and offset of calendar dates so a stored
// start date does not move to a different day.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(timeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
