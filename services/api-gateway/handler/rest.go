package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
	redisstore "github.com/ramiqadoumi/go-call-later/internal/redis"
	"github.com/ramiqadoumi/go-call-later/internal/reporter"
	"github.com/ramiqadoumi/go-call-later/internal/store"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/scheduler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Checker is the part of the scheduler the operator surface drives.
type Checker interface {
	CheckTask(ctx context.Context, id string, now time.Time) error
	Counts(ctx context.Context, now time.Time) (scheduler.Counts, error)
}

// OutcomeReader returns the last recorded outcome of a task.
type OutcomeReader interface {
	LastOutcome(ctx context.Context, taskID string) (*redisstore.OutcomeRecord, error)
}

// EventReader returns recently reported events, newest first.
type EventReader interface {
	Recent(ctx context.Context, n int) ([]reporter.Event, error)
}

// REST handles HTTP requests for the operator API.
type REST struct {
	tasks    store.TaskStore
	checker  Checker
	registry *handlers.Registry
	outcomes OutcomeReader
	events   EventReader
	ready    func(ctx context.Context) error
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a REST handler.
type Option func(*REST)

// WithOutcomes adds the last recorded outcome to task lookups.
func WithOutcomes(o OutcomeReader) Option { return func(h *REST) { h.outcomes = o } }

// WithEvents enables GET /api/v1/events.
func WithEvents(e EventReader) Option { return func(h *REST) { h.events = e } }

// WithReadiness sets the probe behind /readyz.
func WithReadiness(ready func(ctx context.Context) error) Option {
	return func(h *REST) { h.ready = ready }
}

func WithClock(now func() time.Time) Option { return func(h *REST) { h.now = now } }

// NewREST creates a new REST handler.
func NewREST(tasks store.TaskStore, checker Checker, registry *handlers.Registry, logger *slog.Logger, opts ...Option) *REST {
	h := &REST{
		tasks:    tasks,
		checker:  checker,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on r.
func (h *REST) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
		r.Post("/tasks/{id}/check", h.CheckTask)
		r.Get("/stats", h.Stats)
		r.Get("/problems", h.ListProblems)
		r.Get("/events", h.ListEvents)
		r.Get("/task-types", h.ListTaskTypes)
	})
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks. Durations are Go
// duration strings such as "90s" or "1h30m".
type CreateTaskRequest struct {
	Name           string          `json:"name"`
	TaskType       string          `json:"task_type"`
	Args           json.RawMessage `json:"args,omitempty"`
	Kwargs         json.RawMessage `json:"kwargs,omitempty"`
	TimeToRun      *time.Time      `json:"time_to_run,omitempty"`
	TimeToStop     *time.Time      `json:"time_to_stop,omitempty"`
	Repeat         *int            `json:"repeat,omitempty"`
	Every          string          `json:"every,omitempty"`
	Retries        *int            `json:"retries,omitempty"`
	TimeoutRetries *int            `json:"timeout_retries,omitempty"`
}

// TaskResponse describes a task without its payloads.
type TaskResponse struct {
	Task        *reporter.Snapshot        `json:"task,omitempty"`
	LastOutcome *redisstore.OutcomeRecord `json:"last_outcome,omitempty"`
}

// CheckResponse is the 202 body of POST /api/v1/tasks/{id}/check.
type CheckResponse struct {
	TaskID    string    `json:"task_id"`
	CheckedAt time.Time `json:"checked_at"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	At    time.Time `json:"at"`
	Due   int       `json:"due"`
	Stuck int       `json:"stuck"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.create_task")
	defer span.End()

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := h.taskFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("task.type", task.TaskType))

	if err := h.tasks.Create(ctx, task); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		h.logger.Error("failed to create task", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	telemetry.APITasksCreated.WithLabelValues(task.TaskType).Inc()
	h.logger.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.TaskType),
		slog.Time("time_to_run", task.TimeToRun),
		slog.Int("repeat", task.Repeat),
	)

	snap := reporter.NewSnapshot(task, h.registry)
	writeJSON(w, http.StatusCreated, TaskResponse{Task: &snap})
}

func (h *REST) taskFromRequest(req CreateTaskRequest) (*domain.Task, error) {
	taskType := strings.TrimSpace(req.TaskType)
	if taskType == "" {
		return nil, errors.New("field 'task_type' is required")
	}
	if _, err := h.registry.Get(taskType); err != nil {
		return nil, err
	}

	task := domain.NewTask(taskType, h.now())
	task.Name = req.Name
	task.Args = req.Args
	task.Kwargs = req.Kwargs
	task.TimeToStop = req.TimeToStop
	if req.TimeToRun != nil {
		task.TimeToRun = req.TimeToRun.UTC()
	}
	if req.Repeat != nil {
		task.Repeat = *req.Repeat
	}
	if req.Retries != nil {
		task.Retries = *req.Retries
	}
	if req.TimeoutRetries != nil {
		task.TimeoutRetries = *req.TimeoutRetries
	}
	if req.Every != "" {
		every, err := time.ParseDuration(req.Every)
		if err != nil {
			return nil, fmt.Errorf("field 'every': %w", err)
		}
		task.Every = &every
	}
	return task, nil
}

// GetTask handles GET /api/v1/tasks/{id}. A task that already finished is
// still answered while its last outcome is remembered.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "id")

	var resp TaskResponse
	task, err := h.tasks.Get(ctx, taskID)
	var notFound *domain.TaskNotFoundError
	switch {
	case err == nil:
		snap := reporter.NewSnapshot(task, h.registry)
		resp.Task = &snap
	case !errors.As(err, &notFound):
		h.logger.Error("store error", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	if h.outcomes != nil {
		rec, err := h.outcomes.LastOutcome(ctx, taskID)
		switch {
		case err == nil:
			resp.LastOutcome = rec
		case !errors.As(err, &notFound):
			h.logger.Warn("failed to read last outcome", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}

	if resp.Task == nil && resp.LastOutcome == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}; it is how an operator
// disposes of a problem task.
func (h *REST) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if err := h.tasks.Delete(r.Context(), taskID); err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to delete task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	h.logger.Info("task deleted", slog.String("task_id", taskID))
	w.WriteHeader(http.StatusNoContent)
}

// CheckTask handles POST /api/v1/tasks/{id}/check: run the task now.
func (h *REST) CheckTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.check_task")
	defer span.End()

	taskID := chi.URLParam(r, "id")
	now := h.now()
	if err := h.checker.CheckTask(ctx, taskID, now); err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "check failed")
		h.logger.Error("manual check failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to check task")
		return
	}
	h.logger.Info("task checked manually", slog.String("task_id", taskID))
	writeJSON(w, http.StatusAccepted, CheckResponse{TaskID: taskID, CheckedAt: now})
}

// Stats handles GET /api/v1/stats?at=RFC3339.
func (h *REST) Stats(w http.ResponseWriter, r *http.Request) {
	at := h.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "query 'at' must be RFC3339")
			return
		}
		at = parsed.UTC()
	}

	counts, err := h.checker.Counts(r.Context(), at)
	if err != nil {
		h.logger.Error("failed to count tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to count tasks")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{At: at, Due: counts.Due, Stuck: counts.Stuck})
}

// ListProblems handles GET /api/v1/problems?limit=N.
func (h *REST) ListProblems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := h.tasks.ListProblems(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list problem tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list problem tasks")
		return
	}
	snaps := make([]reporter.Snapshot, 0, len(tasks))
	for _, task := range tasks {
		snaps = append(snaps, reporter.NewSnapshot(task, h.registry))
	}
	writeJSON(w, http.StatusOK, snaps)
}

// ListEvents handles GET /api/v1/events?limit=N.
func (h *REST) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event log not configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if events == nil {
		events = []reporter.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListTaskTypes handles GET /api/v1/task-types.
func (h *REST) ListTaskTypes(w http.ResponseWriter, _ *http.Request) {
	type taskType struct {
		Name      string `json:"name"`
		Signature string `json:"signature,omitempty"`
	}
	names := h.registry.TaskTypes()
	out := make([]taskType, 0, len(names))
	for _, name := range names {
		sig, _ := h.registry.Describe(name)
		out = append(out, taskType{Name: name, Signature: sig})
	}
	writeJSON(w, http.StatusOK, out)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("query 'limit' must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
