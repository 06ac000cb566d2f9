package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-call-later/internal/kafka"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/dispatcher"
)

// Worker consumes run requests from Kafka and hands them to an Executor.
type Worker struct {
	consumer kafka.Consumer
	executor *Executor
	workerID string
	logger   *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// NewWorker constructs a Worker with the given dependencies and options.
func NewWorker(workerID string, consumer kafka.Consumer, executor *Executor, opts ...Option) *Worker {
	w := &Worker{
		workerID: workerID,
		consumer: consumer,
		executor: executor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts consuming and processing messages. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, w.processMessage)
}

// Wait blocks until all in-flight executions finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// InFlight returns the number of executions currently running.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// processMessage is the Kafka HandlerFunc. Malformed requests are discarded;
// a store failure leaves the offset uncommitted so the request is redelivered.
func (w *Worker) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var req dispatcher.RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil || req.TaskID == "" {
		w.logger.Error("malformed run request, discarding",
			slog.Any("error", err),
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}

	_, span := otel.Tracer("worker").Start(consumerCtx, "worker.process_run")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", req.TaskID),
		attribute.String("worker.id", w.workerID),
	)

	w.wg.Add(1)
	w.inFlight.Add(1)
	telemetry.WorkerRunsInFlight.Inc()
	defer func() {
		telemetry.WorkerRunsInFlight.Dec()
		w.inFlight.Add(-1)
		w.wg.Done()
	}()

	// Executions are not cancellable: detach from consumer shutdown but keep
	// the span so handler spans stay parented here.
	execCtx := trace.ContextWithSpan(context.Background(), span)
	outcome, err := w.executor.Run(execCtx, req.TaskID, req.Now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return fmt.Errorf("run task %s: %w", req.TaskID, err)
	}

	w.logger.Debug("run request processed",
		slog.String("task_id", req.TaskID),
		slog.String("worker_id", w.workerID),
		slog.String("outcome", string(outcome)),
		slog.Int64("offset", msg.Offset),
	)
	return nil
}
