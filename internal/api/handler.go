package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/djlord-it/cronstore/internal/cron"
	"github.com/djlord-it/cronstore/internal/domain"
	"github.com/djlord-it/cronstore/internal/jobstore"
)

// DefaultGroup is used for jobs and triggers created without a group.
const DefaultGroup = "DEFAULT"

type Store interface {
	StoreJobAndTrigger(ctx context.Context, job domain.Job, trigger domain.Trigger) error
	RetrieveJob(ctx context.Context, key domain.JobKey) (domain.Job, error)
	RemoveJob(ctx context.Context, key domain.JobKey) (bool, error)
	RetrieveTrigger(ctx context.Context, key domain.TriggerKey) (domain.Trigger, error)
	TriggersForJob(ctx context.Context, key domain.JobKey) ([]domain.Trigger, error)
	NumberOfJobs(ctx context.Context) (int, error)
	NumberOfTriggers(ctx context.Context) (int, error)
}

// HealthChecker is one dependency reported by verbose /health responses.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// RunCounter reads the analytics counter of a job.
type RunCounter interface {
	Count(ctx context.Context, job domain.JobKey, config domain.AnalyticsConfig, at time.Time) (int64, error)
}

// JobClasses reports whether a job class can be run by this deployment.
type JobClasses interface {
	Known(class string) bool
}

type Handler struct {
	store      Store
	calculator *cron.Calculator
	checks     map[string]HealthChecker
	classes    JobClasses
	counter    RunCounter
	analytics  domain.AnalyticsConfig
	clock      func() time.Time
	log        zerolog.Logger
}

func NewHandler(store Store, calculator *cron.Calculator) *Handler {
	return &Handler{
		store:      store,
		calculator: calculator,
		checks:     make(map[string]HealthChecker),
		clock:      time.Now,
		log:        zerolog.Nop(),
	}
}

// WithHealthCheck adds a named component to verbose /health responses.
func (h *Handler) WithHealthCheck(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

// WithJobClasses rejects jobs whose class is not known.
func (h *Handler) WithJobClasses(c JobClasses) *Handler {
	h.classes = c
	return h
}

// WithRunCounter enables per-job run counts on /stats.
func (h *Handler) WithRunCounter(c RunCounter, config domain.AnalyticsConfig) *Handler {
	h.counter = c
	h.analytics = config
	return h
}

func (h *Handler) WithLogger(log zerolog.Logger) *Handler {
	h.log = log.With().Str("component", "api").Logger()
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/stats" && r.Method == http.MethodGet:
		h.stats(w, r)

	case path == "/jobs" && r.Method == http.MethodPost:
		h.createJob(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodGet:
		h.getJob(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodDelete:
		h.deleteJob(w, r)

	case strings.HasPrefix(path, "/triggers/") && r.Method == http.MethodGet:
		h.getTrigger(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.classes != nil && !h.classes.Known(req.JobClass) {
		writeError(w, http.StatusBadRequest, "unknown job_class "+req.JobClass)
		return
	}

	job, trigger := buildJobAndTrigger(req)
	if err := h.calculator.ComputeFirstFireTime(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if trigger.NextFireTime == nil {
		writeError(w, http.StatusBadRequest, "trigger will never fire")
		return
	}

	if err := h.store.StoreJobAndTrigger(r.Context(), job, trigger); err != nil {
		if errors.Is(err, jobstore.ErrObjectAlreadyExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Str("job", job.Key.String()).Msg("api: create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, jobResponse(job, []domain.Trigger{trigger}))
}

func buildJobAndTrigger(req CreateJobRequest) (domain.Job, domain.Trigger) {
	group := req.Group
	if group == "" {
		group = DefaultGroup
	}
	job := domain.Job{
		Key:      domain.JobKey{Name: req.Name, Group: group},
		JobClass: req.JobClass,
		Data:     req.Data,
	}

	tr := req.Trigger
	trigger := domain.Trigger{
		Key:       domain.TriggerKey{Name: tr.Name, Group: tr.Group},
		JobKey:    job.Key,
		Priority:  domain.DefaultPriority,
		StartTime: utcPtr(tr.StartTime),
		EndTime:   utcPtr(tr.EndTime),
	}
	if trigger.Key.Name == "" {
		trigger.Key.Name = job.Key.Name
	}
	if trigger.Key.Group == "" {
		trigger.Key.Group = group
	}
	if tr.Priority != nil {
		trigger.Priority = *tr.Priority
	}

	if tr.CronExpression != "" {
		trigger.Schedule = domain.CronSchedule{Expression: tr.CronExpression, Timezone: tr.Timezone}
	} else {
		trigger.Schedule = domain.SimpleSchedule{
			RepeatCount:    tr.RepeatCount,
			RepeatInterval: time.Duration(tr.RepeatIntervalSeconds) * time.Second,
		}
	}
	return job, trigger
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return domain.TimePtr(t.UTC().Truncate(time.Millisecond))
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseKey(r.URL.Path, "jobs")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := domain.JobKey{Name: name, Group: group}

	job, err := h.store.RetrieveJob(r.Context(), key)
	if err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error().Err(err).Str("job", key.String()).Msg("api: get job failed")
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	triggers, err := h.store.TriggersForJob(r.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("job", key.String()).Msg("api: list triggers failed")
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job, triggers))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseKey(r.URL.Path, "jobs")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := domain.JobKey{Name: name, Group: group}

	removed, err := h.store.RemoveJob(r.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("job", key.String()).Msg("api: delete job failed")
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseKey(r.URL.Path, "triggers")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := domain.TriggerKey{Name: name, Group: group}

	t, err := h.store.RetrieveTrigger(r.Context(), key)
	if err != nil {
		if errors.Is(err, jobstore.ErrTriggerNotFound) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		h.log.Error().Err(err).Str("trigger", key.String()).Msg("api: get trigger failed")
		writeError(w, http.StatusInternalServerError, "failed to get trigger")
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse(t))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.NumberOfJobs(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: count jobs failed")
		writeError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}
	triggers, err := h.store.NumberOfTriggers(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: count triggers failed")
		writeError(w, http.StatusInternalServerError, "failed to count triggers")
		return
	}

	resp := StatsResponse{Jobs: jobs, Triggers: triggers}

	q := r.URL.Query()
	if name := q.Get("name"); name != "" && h.counter != nil && h.analytics.Enabled {
		group := q.Get("group")
		if group == "" {
			group = DefaultGroup
		}
		key := domain.JobKey{Name: name, Group: group}
		n, err := h.counter.Count(r.Context(), key, h.analytics, h.clock())
		if err != nil {
			h.log.Warn().Err(err).Str("job", key.String()).Msg("api: read run count failed")
		} else {
			resp.Runs = &n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseKey extracts group and name from /{resource}/{group}/{name}.
func parseKey(path, resource string) (group, name string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != resource || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func jobResponse(job domain.Job, triggers []domain.Trigger) JobResponse {
	resp := JobResponse{
		Name:     job.Key.Name,
		Group:    job.Key.Group,
		JobClass: job.JobClass,
		Data:     redactData(job.Data),
		Triggers: make([]TriggerResponse, len(triggers)),
	}
	for i, t := range triggers {
		resp.Triggers[i] = triggerResponse(t)
	}
	return resp
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		Name:             t.Key.Name,
		Group:            t.Key.Group,
		JobName:          t.JobKey.Name,
		JobGroup:         t.JobKey.Group,
		State:            t.State.String(),
		Priority:         t.Priority,
		StartTime:        formatTimePtr(t.StartTime),
		EndTime:          formatTimePtr(t.EndTime),
		NextFireTime:     formatTimePtr(t.NextFireTime),
		PreviousFireTime: formatTimePtr(t.PreviousFireTime),
		InstanceID:       t.InstanceID,
	}
	switch s := t.Schedule.(type) {
	case domain.CronSchedule:
		resp.Kind = string(s.Kind())
		resp.CronExpression = s.Expression
		resp.Timezone = s.Timezone
	case domain.SimpleSchedule:
		resp.Kind = string(s.Kind())
		resp.RepeatCount = &s.RepeatCount
		resp.RepeatInterval = s.RepeatInterval.String()
		resp.TimesTriggered = &s.TimesTriggered
	}
	return resp
}

// redactData hides webhook secrets from responses.
func redactData(data map[string]any) map[string]any {
	if _, ok := data["secret"]; !ok {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	out["secret"] = "****"
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
