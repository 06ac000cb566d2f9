// Package dispatcher hands armed tasks from the check cycle to whatever
// executes them: the in-process executor, or a worker pool behind Kafka.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/kafka"
	"github.com/ramiqadoumi/go-call-later/pkg/retry"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
)

// DefaultRunTopic carries run requests from schedulers to workers.
const DefaultRunTopic = "calllater.run"

// RunRequest is the handoff between a check cycle and an executor: the task
// id and the cycle's notion of now, never the task itself.
type RunRequest struct {
	TaskID string    `json:"task_id"`
	Now    time.Time `json:"now"`
}

// Runner executes one task by id.
type Runner interface {
	Run(ctx context.Context, id string, now time.Time) (domain.Outcome, error)
}

// Inline runs each task synchronously in the caller's goroutine. A run is
// detached from cancellation of the caller's context: once started it either
// completes or is later picked up as stuck.
type Inline struct {
	runner Runner
	logger *slog.Logger
}

func NewInline(runner Runner, logger *slog.Logger) *Inline {
	return &Inline{runner: runner, logger: logger}
}

func (d *Inline) Dispatch(ctx context.Context, id string, now time.Time) error {
	outcome, err := d.runner.Run(context.WithoutCancel(ctx), id, now)
	if err != nil {
		telemetry.DispatchTotal.WithLabelValues("inline", "error").Inc()
		return fmt.Errorf("run task %s: %w", id, err)
	}
	telemetry.DispatchTotal.WithLabelValues("inline", "ok").Inc()
	d.logger.Debug("task run inline",
		slog.String("task_id", id),
		slog.String("outcome", string(outcome)),
	)
	return nil
}

// Kafka publishes a RunRequest and returns without waiting for execution.
type Kafka struct {
	producer kafka.Producer
	topic    string
	retry    retry.Config
	logger   *slog.Logger
}

// KafkaOption configures a Kafka dispatcher.
type KafkaOption func(*Kafka)

// WithPublishRetry overrides the retry policy applied to each publish.
func WithPublishRetry(attempts int, baseDelay time.Duration) KafkaOption {
	return func(d *Kafka) {
		d.retry.MaxAttempts = attempts
		d.retry.BaseDelay = baseDelay
	}
}

func NewKafka(producer kafka.Producer, topic string, logger *slog.Logger, opts ...KafkaOption) *Kafka {
	if topic == "" {
		topic = DefaultRunTopic
	}
	d := &Kafka{
		producer: producer,
		topic:    topic,
		logger:   logger,
		retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.retry.OnRetry = func(attempt int, err error) {
		d.logger.Warn("publish run request failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return d
}

// Dispatch publishes the run request keyed by task id, so requests for the
// same task land on one partition in order.
func (d *Kafka) Dispatch(ctx context.Context, id string, now time.Time) error {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.String("messaging.destination", d.topic),
	)

	payload, err := json.Marshal(RunRequest{TaskID: id, Now: now.UTC()})
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	err = retry.Do(ctx, d.retry, func() error {
		err := d.producer.Publish(ctx, d.topic, id, payload)
		if err != nil && ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		telemetry.DispatchTotal.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("publish run request for %s: %w", id, err)
	}

	telemetry.DispatchTotal.WithLabelValues("kafka", "ok").Inc()
	d.logger.Debug("run request published",
		slog.String("task_id", id),
		slog.String("topic", d.topic),
	)
	return nil
}
