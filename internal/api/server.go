package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"duewatch/internal/compliance"
	"duewatch/internal/domain"
	"duewatch/internal/instance"
	"duewatch/internal/metrics"
	"duewatch/internal/overdue"
	"duewatch/internal/store"
)

type Deps struct {
	Repo       store.Repository
	Overdue    *overdue.Service
	Resolver   *instance.Resolver
	Classifier *compliance.Classifier
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	r          *chi.Mux
	repo       store.Repository
	overdue    *overdue.Service
	resolver   *instance.Resolver
	classifier *compliance.Classifier
	now        func() time.Time
}

func NewServer(d Deps) http.Handler {
	return NewServerWithDebug(d, false)
}

func NewServerWithDebug(d Deps, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	now := d.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		r:          r,
		repo:       d.Repo,
		overdue:    d.Overdue,
		resolver:   d.Resolver,
		classifier: d.Classifier,
		now:        now,
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/forms", s.createForm)
	r.Get("/api/forms", s.listForms)
	r.Get("/api/forms/{id}", s.getForm)
	r.Put("/api/forms/{id}", s.updateForm)
	r.Delete("/api/forms/{id}", s.deleteForm)
	r.Post("/api/forms/{id}/submissions", s.submit)
	r.Get("/api/forms/{id}/submissions", s.listSubmissions)
	r.Get("/api/forms/{id}/instances/{date}", s.getInstance)

	r.Get("/api/overdue", s.getOverdue)
	r.Post("/api/overdue/clear", s.clearPastDue)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type formReq struct {
	Title            string `json:"title"`
	Status           string `json:"status"`
	ScheduleType     string `json:"schedule_type"`
	Frequency        string `json:"frequency"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	TimeOfDay        string `json:"time_of_day"`
	Timezone         string `json:"timezone"`
	BusinessDaysOnly bool   `json:"business_days_only"`
	BusinessDays     []int  `json:"business_days"`
	ExcludeHolidays  bool   `json:"exclude_holidays"`
	HolidayCalendar  string `json:"holiday_calendar"`
}

type createResp struct {
	ID string `json:"id"`
}

func (req formReq) toTask() (domain.ScheduledTask, error) {
	if req.Title == "" {
		return domain.ScheduledTask{}, errors.New("title is required")
	}
	t := domain.ScheduledTask{
		Title:            req.Title,
		Status:           domain.Status(req.Status),
		ScheduleType:     domain.ScheduleType(req.ScheduleType),
		Frequency:        req.Frequency,
		TimeOfDay:        req.TimeOfDay,
		Timezone:         req.Timezone,
		BusinessDaysOnly: req.BusinessDaysOnly,
		BusinessDays:     req.BusinessDays,
		ExcludeHolidays:  req.ExcludeHolidays,
		HolidayCalendar:  req.HolidayCalendar,
	}
	if t.Status == "" {
		t.Status = domain.StatusDraft
	}
	if !t.Status.IsValid() {
		return domain.ScheduledTask{}, errors.New("invalid status: " + req.Status)
	}
	if !t.ScheduleType.IsValid() {
		return domain.ScheduledTask{}, errors.New("invalid schedule_type: " + req.ScheduleType)
	}
	if t.TimeOfDay != "" {
		c, err := domain.ParseClock(t.TimeOfDay)
		if err != nil {
			return domain.ScheduledTask{}, err
		}
		t.TimeOfDay = c.String()
	}
	var err error
	if t.StartDate, err = parseDate(req.StartDate); err != nil {
		return domain.ScheduledTask{}, errors.New("invalid start_date: " + req.StartDate)
	}
	if t.EndDate, err = parseDate(req.EndDate); err != nil {
		return domain.ScheduledTask{}, errors.New("invalid end_date: " + req.EndDate)
	}
	if t.StartDate != nil && t.EndDate != nil && t.EndDate.Before(*t.StartDate) {
		return domain.ScheduledTask{}, errors.New("end_date is before start_date")
	}
	return t, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(domain.DateLayout, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	var req formReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	t, err := req.toTask()
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id, err := s.repo.CreateTask(r.Context(), t)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, createResp{ID: id})
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		http.Error(w, "invalid status", 400)
		return
	}
	tasks, err := s.repo.ListTasks(r.Context(), status)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, t)
}

func (s *Server) updateForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.repo.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req formReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	t, err := req.toTask()
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	t.ID = existing.ID
	t.CreatedAt = existing.CreatedAt
	if req.Status == "" {
		t.Status = existing.Status
	}
	if t.TimeOfDay == "" {
		t.TimeOfDay = existing.TimeOfDay
	}

	if err := s.repo.UpdateTask(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.repo.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, updated)
}

func (s *Server) deleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitReq struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

type submitResp struct {
	ID         string     `json:"id"`
	IntendedAt *time.Time `json:"intended_at,omitempty"`
	IsLate     bool       `json:"is_late"`
}

// submit records a response. Classification problems never block it: the
// submission is stored with is_late=false and a warning is logged.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req submitReq
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}

	now := s.now()
	sub := domain.Submission{TaskID: t.ID, UserID: req.UserID, SubmittedAt: now, Data: req.Data}
	if t.Status == domain.StatusPublished {
		res, err := s.classifier.Classify(t, now)
		if err != nil {
			log.Warn().Err(err).Str("task_id", t.ID).Msg("compliance classification failed, accepting as on time")
		} else {
			sub.IntendedAt = &res.IntendedAt
			sub.IsLate = res.IsLate
		}
	}

	id, err := s.repo.RecordSubmission(r.Context(), sub)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	metrics.SubmissionsTotal.WithLabelValues(strconv.FormatBool(sub.IsLate)).Inc()
	writeJSON(w, http.StatusCreated, submitResp{ID: id, IntendedAt: sub.IntendedAt, IsLate: sub.IsLate})
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	subs, err := s.repo.ListSubmissions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, subs)
}

type instanceResp struct {
	Key         string         `json:"key"`
	State       instance.State `json:"state"`
	ScheduledAt time.Time      `json:"scheduled_at"`
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	eval := s.resolver.Evaluator()
	date, err := time.ParseInLocation(domain.DateLayout, chi.URLParam(r, "date"), eval.Location())
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", 400)
		return
	}
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	completions, err := s.repo.ListCompletions(r.Context(), []string{t.ID})
	if err != nil {
		writeError(w, &domain.DataFetchError{Source: "completions", Err: err})
		return
	}
	var cleared []domain.ClearedInstance
	if user := userID(r); user != "" {
		if cleared, err = s.repo.ListCleared(r.Context(), user); err != nil {
			writeError(w, &domain.DataFetchError{Source: "cleared instances", Err: err})
			return
		}
	}

	l := instance.NewLedger(eval, completions, cleared)
	writeJSON(w, 200, instanceResp{
		Key:         domain.InstanceKey(t.ID, date),
		State:       s.resolver.Resolve(t, date, s.now(), l),
		ScheduledAt: eval.ScheduledInstant(t, date),
	})
}

func (s *Server) getOverdue(w http.ResponseWriter, r *http.Request) {
	res, err := s.overdue.Evaluate(r.Context(), userID(r), s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, res)
}

type clearReq struct {
	UserID string `json:"user_id"`
}

type clearResp struct {
	Cleared int `json:"cleared"`
}

func (s *Server) clearPastDue(w http.ResponseWriter, r *http.Request) {
	var req clearReq
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}
	if req.UserID == "" {
		http.Error(w, overdue.ErrUserRequired.Error(), 400)
		return
	}

	tasks, err := s.overdue.Tasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.overdue.ClearPastDue(r.Context(), req.UserID, tasks, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, clearResp{Cleared: n})
}

func userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-ID")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func writeError(w http.ResponseWriter, err error) {
	var fetchErr *domain.DataFetchError
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.As(err, &fetchErr):
		log.Error().Err(err).Str("source", fetchErr.Source).Msg("collaborator fetch failed")
		w.Header().Set("Retry-After", "5")
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), 500)
	}
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
