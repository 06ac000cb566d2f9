package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/reporter"
	"github.com/ramiqadoumi/go-call-later/internal/store"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
)

// Dispatcher hands an armed task to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, now time.Time) error
}

// Summary describes what one check cycle did.
type Summary struct {
	Due        int `json:"due"`
	Stuck      int `json:"stuck"`
	Dispatched int `json:"dispatched"`
	Problems   int `json:"problems"`
	Errors     int `json:"errors"`
}

// Counts is how many tasks each pass would pick up.
type Counts struct {
	Due   int `json:"due"`
	Stuck int `json:"stuck"`
}

// Scheduler runs check cycles over a TaskStore. It holds no clock: every
// entry point takes the cycle's now explicitly.
type Scheduler struct {
	store      store.TaskStore
	dispatcher Dispatcher
	reporter   reporter.Reporter
	describer  reporter.Describer
	logger     *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithDescriber lets reported snapshots carry handler signatures.
func WithDescriber(d reporter.Describer) Option { return func(s *Scheduler) { s.describer = d } }

// New creates a Scheduler. A nil reporter logs events through the logger.
func New(s store.TaskStore, d Dispatcher, rep reporter.Reporter, opts ...Option) *Scheduler {
	sc := &Scheduler{
		store:      s,
		dispatcher: d,
		reporter:   rep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.reporter == nil {
		sc.reporter = reporter.NewLogReporter(sc.logger)
	}
	return sc
}

// Check runs one cycle at now: first every due task is armed and dispatched,
// then every task whose lease expired is either given another chance or
// flagged as a problem. Per-task failures are logged and counted; only a
// failing query aborts the cycle.
func (s *Scheduler) Check(ctx context.Context, now time.Time) (Summary, error) {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.check")
	defer span.End()

	start := time.Now()
	telemetry.SchedulerChecksTotal.Inc()
	defer func() {
		telemetry.SchedulerCheckDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var sum Summary

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list due tasks: %w", err)
	}
	sum.Due = len(due)
	telemetry.SchedulerTasksFound.WithLabelValues("due").Add(float64(len(due)))
	for _, task := range due {
		if err := s.dispatch(ctx, task, now); err != nil {
			s.taskFailed(&sum, task.ID, err)
			continue
		}
		sum.Dispatched++
	}

	stuck, err := s.store.ListStuck(ctx, now)
	if err != nil {
		return sum, fmt.Errorf("list stuck tasks: %w", err)
	}
	sum.Stuck = len(stuck)
	telemetry.SchedulerTasksFound.WithLabelValues("stuck").Add(float64(len(stuck)))
	for _, task := range stuck {
		s.recoverStuck(ctx, task, now, &sum)
	}

	span.SetAttributes(
		attribute.Int("tasks.due", sum.Due),
		attribute.Int("tasks.stuck", sum.Stuck),
		attribute.Int("tasks.dispatched", sum.Dispatched),
	)
	if sum.Due+sum.Stuck > 0 {
		s.logger.Info("check cycle finished",
			slog.Time("now", now),
			slog.Int("due", sum.Due),
			slog.Int("stuck", sum.Stuck),
			slog.Int("dispatched", sum.Dispatched),
			slog.Int("problems", sum.Problems),
			slog.Int("errors", sum.Errors),
		)
	}
	return sum, nil
}

// CheckTask arms and dispatches one task at now regardless of its run time.
// Problem tasks are dispatched too and keep their flag.
func (s *Scheduler) CheckTask(ctx context.Context, id string, now time.Time) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.check_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	task, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, task, now)
}

// Counts reports how many tasks a cycle at now would pick up.
func (s *Scheduler) Counts(ctx context.Context, now time.Time) (Counts, error) {
	due, err := s.store.CountDue(ctx, now)
	if err != nil {
		return Counts{}, fmt.Errorf("count due tasks: %w", err)
	}
	stuck, err := s.store.CountStuck(ctx, now)
	if err != nil {
		return Counts{}, fmt.Errorf("count stuck tasks: %w", err)
	}
	return Counts{Due: due, Stuck: stuck}, nil
}

func (s *Scheduler) recoverStuck(ctx context.Context, task *domain.Task, now time.Time, sum *Summary) {
	log := s.logger.With(slog.String("task_id", task.ID))

	if task.TimeoutRetries == 0 {
		task.Problem = true
		if err := s.store.Save(ctx, task); err != nil {
			s.taskFailed(sum, task.ID, fmt.Errorf("flag task as problem: %w", err))
			return
		}
		s.reporter.Report(ctx, reporter.NewEvent(
			domain.EventRepeatedlyFailed, reporter.NewSnapshot(task, s.describer), "",
		))
		sum.Problems++
		log.Warn("task timed out too often, flagged as problem")
		return
	}

	s.reporter.Report(ctx, reporter.NewEvent(
		domain.EventExpiredBeforeRun, reporter.NewSnapshot(task, s.describer), "",
	))
	task.TimeoutRetries--
	log.Warn("task lease expired, dispatching again",
		slog.Int("timeout_retries_left", task.TimeoutRetries),
	)
	// dispatch persists the decrement together with the new lease.
	if err := s.dispatch(ctx, task, now); err != nil {
		s.taskFailed(sum, task.ID, err)
		return
	}
	sum.Dispatched++
}

// dispatch arms the lease, persists it, then hands the id to the dispatcher.
func (s *Scheduler) dispatch(ctx context.Context, task *domain.Task, now time.Time) error {
	task.WhenCheckIfFailed = domain.ArmedLease(now)
	if err := s.store.Save(ctx, task); err != nil {
		return fmt.Errorf("arm lease: %w", err)
	}
	if err := s.dispatcher.Dispatch(ctx, task.ID, now); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (s *Scheduler) taskFailed(sum *Summary, id string, err error) {
	var notFound *domain.TaskNotFoundError
	if errors.As(err, &notFound) {
		// Deleted between the query and the write.
		s.logger.Debug("task vanished during check", slog.String("task_id", id))
		return
	}
	sum.Errors++
	s.logger.Error("check failed for task",
		slog.String("task_id", id),
		slog.String("error", err.Error()),
	)
}
