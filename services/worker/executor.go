package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
	"github.com/ramiqadoumi/go-call-later/internal/reporter"
	"github.com/ramiqadoumi/go-call-later/internal/store"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
)

// OutcomeRecorder keeps the last outcome of a task for observers, including
// tasks that no longer exist.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, taskID string, outcome domain.Outcome) error
}

// Executor runs a single task by id and applies the result to its record.
type Executor struct {
	store    store.TaskStore
	registry *handlers.Registry
	reporter reporter.Reporter
	recorder OutcomeRecorder
	location *time.Location
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLocation sets the time zone rescheduled run times are expressed in.
func WithLocation(loc *time.Location) ExecutorOption {
	return func(e *Executor) { e.location = loc }
}

func WithRecorder(r OutcomeRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor. A nil reporter logs events through the
// executor's logger.
func NewExecutor(s store.TaskStore, registry *handlers.Registry, rep reporter.Reporter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    s,
		registry: registry,
		reporter: rep,
		location: time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reporter == nil {
		e.reporter = reporter.NewLogReporter(e.logger)
	}
	return e
}

// Run loads the task, invokes its handler and records the result:
//
//	handler ok, last repeat          → deleted            (called_and_destroyed)
//	handler ok, time_to_stop passed  → deleted            (called_and_expired)
//	handler ok, repeats left         → rescheduled        (will_be_called_in_future_again)
//	handler error, retries left      → retries-1          (retry_pending)
//	handler error, no retries left   → problem, reported  (problem)
//	argument mismatch                → untouched          (argument_mismatch)
//	task gone                        → reported           (missing)
//
// The returned error is non-nil only when the store fails.
func (e *Executor) Run(ctx context.Context, id string, now time.Time) (domain.Outcome, error) {
	ctx, span := otel.Tracer("worker").Start(ctx, "executor.run")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	task, err := e.store.Get(ctx, id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			e.reporter.Report(ctx, reporter.NewEvent(domain.EventMissingWhenExecuted, reporter.Snapshot{ID: id}, ""))
			return e.finish(ctx, id, domain.OutcomeMissing), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "load task failed")
		return "", fmt.Errorf("load task %s: %w", id, err)
	}

	span.SetAttributes(attribute.String("task.type", task.TaskType))
	log := e.logger.With(
		slog.String("task_id", task.ID),
		slog.String("task_type", task.TaskType),
	)

	callErr := e.invoke(ctx, task)
	if callErr != nil {
		span.RecordError(callErr)

		var mismatch *domain.ArgumentMismatchError
		if errors.As(callErr, &mismatch) {
			log.Warn("stored arguments no longer match handler, skipping",
				slog.String("error", callErr.Error()),
			)
			return e.finish(ctx, task.ID, domain.OutcomeArgumentMismatch), nil
		}

		span.SetStatus(codes.Error, "handler failed")
		outcome, err := e.fail(ctx, task, callErr)
		if err != nil {
			return "", err
		}
		log.Warn("handler failed",
			slog.String("outcome", string(outcome)),
			slog.Int("retries_left", task.Retries),
			slog.String("error", callErr.Error()),
		)
		return e.finish(ctx, task.ID, outcome), nil
	}

	outcome, err := e.succeed(ctx, task, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply outcome failed")
		return "", err
	}
	log.Info("task called", slog.String("outcome", string(outcome)))
	return e.finish(ctx, task.ID, outcome), nil
}

// invoke calls the task's handler, converting a panic into an error.
func (e *Executor) invoke(ctx context.Context, task *domain.Task) (err error) {
	h, err := e.registry.Get(task.TaskType)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		telemetry.ExecutorDurationSeconds.WithLabelValues(task.TaskType).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", task.TaskType, r)
		}
	}()
	return h.Handle(ctx, handlers.NewCall(task))
}

func (e *Executor) fail(ctx context.Context, task *domain.Task, callErr error) (domain.Outcome, error) {
	if task.Retries == 0 {
		task.Problem = true
		e.reporter.Report(ctx, reporter.NewEvent(
			domain.EventCallFailed, reporter.NewSnapshot(task, e.registry), callErr.Error(),
		))
		if err := e.store.Save(ctx, task); err != nil {
			return "", fmt.Errorf("flag task %s as problem: %w", task.ID, err)
		}
		return domain.OutcomeProblem, nil
	}

	task.Retries--
	if err := e.store.Save(ctx, task); err != nil {
		return "", fmt.Errorf("save retry budget for task %s: %w", task.ID, err)
	}
	return domain.OutcomeRetryPending, nil
}

func (e *Executor) succeed(ctx context.Context, task *domain.Task, now time.Time) (domain.Outcome, error) {
	switch {
	case task.Repeat <= 1:
		if err := e.delete(ctx, task.ID); err != nil {
			return "", err
		}
		return domain.OutcomeCalledAndDestroyed, nil

	case task.TimeToStop != nil && !task.TimeToStop.After(now):
		if err := e.delete(ctx, task.ID); err != nil {
			return "", err
		}
		return domain.OutcomeCalledAndExpired, nil

	case task.Every != nil:
		task.Repeat--
		task.TimeToRun = now.Add(*task.Every).In(e.location)
		task.WhenCheckIfFailed = domain.IdleLease(now)
		if err := e.store.Save(ctx, task); err != nil {
			return "", fmt.Errorf("reschedule task %s: %w", task.ID, err)
		}
		return domain.OutcomeWillBeCalledAgain, nil
	}

	// Unreachable while the every invariant holds on save.
	return domain.OutcomeCalled, nil
}

// delete removes a finished task; one already removed elsewhere is fine.
func (e *Executor) delete(ctx context.Context, id string) error {
	err := e.store.Delete(ctx, id)
	var notFound *domain.TaskNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (e *Executor) finish(ctx context.Context, id string, outcome domain.Outcome) domain.Outcome {
	telemetry.ExecutorOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	if e.recorder != nil {
		if err := e.recorder.RecordOutcome(ctx, id, outcome); err != nil {
			e.logger.Warn("failed to record outcome",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return outcome
}
