package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"duewatch/internal/calendar"
	"duewatch/internal/compliance"
	"duewatch/internal/instance"
	"duewatch/internal/overdue"
	"duewatch/internal/schedule"
	"duewatch/internal/store"
)

type testServer struct {
	h    http.Handler
	repo store.Repository
	now  time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	repo := store.NewSQLiteRepo(db)
	eval := schedule.NewEvaluator(time.UTC)
	resolver := instance.NewResolver(eval, calendar.New(nil))
	ts := &testServer{repo: repo, now: time.Date(2024, 1, 4, 10, 0, 0, 0, time.UTC)}
	ts.h = NewServer(Deps{
		Repo:       repo,
		Overdue:    overdue.NewService(repo, overdue.NewCategorizer(resolver)),
		Resolver:   resolver,
		Classifier: compliance.NewClassifier(eval, compliance.DefaultGracePeriod),
		Now:        func() time.Time { return ts.now },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, user string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createDaily(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/forms", map[string]any{
		"title":         "Opening checklist",
		"status":        "published",
		"schedule_type": "daily",
		"start_date":    "2024-01-01",
		"time_of_day":   "09:00",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out createResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateFormValidation(t *testing.T) {
	ts := newTestServer(t)
	bad := []map[string]any{
		{"schedule_type": "daily"},
		{"title": "x", "schedule_type": "hourly"},
		{"title": "x", "schedule_type": "daily", "status": "live"},
		{"title": "x", "schedule_type": "daily", "time_of_day": "9am"},
		{"title": "x", "schedule_type": "weekly", "start_date": "2024-02-01", "end_date": "2024-01-01"},
	}
	for _, body := range bad {
		rec := ts.do(t, http.MethodPost, "/api/forms", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v", body)
	}
}

func TestFormLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createDaily(t)

	rec := ts.do(t, http.MethodGet, "/api/forms/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"time_of_day":"09:00:00"`)

	rec = ts.do(t, http.MethodPut, "/api/forms/"+id, map[string]any{
		"title":         "Closing checklist",
		"status":        "archived",
		"schedule_type": "daily",
		"start_date":    "2024-01-01",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"archived"`)

	rec = ts.do(t, http.MethodGet, "/api/forms?status=published", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/forms/"+id, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/forms/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWithoutStatusKeepsPublished(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createDaily(t)

	rec := ts.do(t, http.MethodPut, "/api/forms/"+id, map[string]any{
		"title":         "Opening checklist v2",
		"schedule_type": "daily",
		"start_date":    "2024-01-01",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"published"`)
	assert.Contains(t, rec.Body.String(), `"time_of_day":"09:00:00"`)

	rec = ts.do(t, http.MethodGet, "/api/overdue", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var res overdue.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Stats.TotalOverdue)
}

func TestOverdueAndClear(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createDaily(t)

	rec := ts.do(t, http.MethodGet, "/api/overdue", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res overdue.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, overdue.Stats{OverdueToday: 1, PastDue: 2, TotalOverdue: 1}, res.Stats)

	rec = ts.do(t, http.MethodPost, "/api/overdue/clear", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"cleared":2}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/overdue/clear", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":0}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/forms/"+id+"/instances/2024-01-02", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"cleared"`)

	// Another user still sees the missed instance.
	rec = ts.do(t, http.MethodGet, "/api/forms/"+id+"/instances/2024-01-02", nil, "u2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"missed"`)
}

func TestClearRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/overdue/clear", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmissionCompletesTodayAndIsOnTime(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createDaily(t)

	rec := ts.do(t, http.MethodPost, "/api/forms/"+id+"/submissions", map[string]any{"data": map[string]int{"temp": 4}}, "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out submitResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.IsLate)
	require.NotNil(t, out.IntendedAt)
	assert.Equal(t, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), out.IntendedAt.UTC())

	rec = ts.do(t, http.MethodGet, "/api/forms/"+id+"/instances/2024-01-04", nil, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)

	rec = ts.do(t, http.MethodGet, "/api/forms/"+id+"/submissions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)
}

func TestLateOneTimeSubmission(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/forms", map[string]any{
		"title":         "Annual audit",
		"status":        "published",
		"schedule_type": "one_time",
		"start_date":    "2024-01-01",
		"time_of_day":   "09:00",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/api/forms/"+created.ID+"/submissions", nil, "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out submitResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.IsLate)
}

func TestSubmissionWithoutStartDateIsAccepted(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/forms", map[string]any{
		"title":         "Ad hoc",
		"status":        "published",
		"schedule_type": "weekly",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/api/forms/"+created.ID+"/submissions", nil, "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"is_late":false`)
	assert.NotContains(t, rec.Body.String(), "intended_at")
}

func TestInstanceRejectsBadDate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createDaily(t)
	rec := ts.do(t, http.MethodGet, "/api/forms/"+id+"/instances/04-01-2024", nil, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitUnknownForm(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/forms/frm_missing/submissions", nil, "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
