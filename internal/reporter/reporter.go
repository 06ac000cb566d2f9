// Package reporter delivers failure and timeout events raised by the check
// cycle to an operator-facing sink.
package reporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
)

// Reporter receives structured events. Implementations must not block the
// caller for long and never fail it.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// Event is one reported failure or recovery.
type Event struct {
	Label    string    `json:"label"`
	Message  string    `json:"message"`
	Detail   string    `json:"detail,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
	At       time.Time `json:"at"`
}

// Describer renders the handler signature of a task type, when known.
type Describer interface {
	Describe(taskType string) (string, bool)
}

// Snapshot is a task as operators see it: every field except the task type
// and its payloads, which are replaced by a readable signature.
type Snapshot struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	Function          string     `json:"function,omitempty"`
	TimeToRun         time.Time  `json:"time_to_run"`
	TimeToStop        *time.Time `json:"time_to_stop,omitempty"`
	Repeat            int        `json:"repeat"`
	Every             string     `json:"every,omitempty"`
	WhenCheckIfFailed time.Time  `json:"when_check_if_failed"`
	Retries           int        `json:"retries"`
	TimeoutRetries    int        `json:"timeout_retries"`
	Problem           bool       `json:"problem"`
}

// NewSnapshot builds the snapshot of task. d may be nil.
func NewSnapshot(task *domain.Task, d Describer) Snapshot {
	s := Snapshot{
		ID:                task.ID,
		Name:              task.Name,
		TimeToRun:         task.TimeToRun,
		TimeToStop:        task.TimeToStop,
		Repeat:            task.Repeat,
		WhenCheckIfFailed: task.WhenCheckIfFailed,
		Retries:           task.Retries,
		TimeoutRetries:    task.TimeoutRetries,
		Problem:           task.Problem,
	}
	if task.Every != nil {
		s.Every = task.Every.String()
	}
	if d != nil {
		if sig, ok := d.Describe(task.TaskType); ok {
			s.Function = sig
		}
	}
	return s
}

// NewEvent builds an event for label with the canonical message.
func NewEvent(label string, snap Snapshot, detail string) Event {
	return Event{
		Label:    label,
		Message:  domain.EventMessage(label),
		Detail:   detail,
		Snapshot: snap,
		At:       time.Now().UTC(),
	}
}

// LogReporter writes events to a structured logger at error level.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, ev Event) {
	snapshot, _ := json.Marshal(ev.Snapshot)
	attrs := []any{
		slog.String("label", ev.Label),
		slog.String("task_id", ev.Snapshot.ID),
		slog.String("snapshot", string(snapshot)),
	}
	if ev.Detail != "" {
		attrs = append(attrs, slog.String("error", ev.Detail))
	}
	r.logger.ErrorContext(ctx, ev.Message, attrs...)
}

// Multi fans an event out to several reporters and counts it once.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, ev Event) {
	telemetry.ReporterEventsTotal.WithLabelValues(ev.Label).Inc()
	for _, r := range m {
		r.Report(ctx, ev)
	}
}
