package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-call-later/internal/reporter"
)

// DefaultEventLogSize is how many events the log keeps.
const DefaultEventLogSize = 1000

var eventLogKey = keyPrefix + "events"

// EventLog is a reporter.Reporter that keeps the most recent events in a
// capped Redis list, newest first.
type EventLog struct {
	client *redis.Client
	size   int64
	logger *slog.Logger
}

var _ reporter.Reporter = (*EventLog)(nil)

// NewEventLog creates an EventLog holding at most size events.
func NewEventLog(client *redis.Client, size int, logger *slog.Logger) *EventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &EventLog{client: client, size: int64(size), logger: logger}
}

// Report appends ev. A Redis failure is logged, never returned: reporting
// must not fail the check cycle.
func (l *EventLog) Report(ctx context.Context, ev reporter.Event) {
	if err := l.push(ctx, ev); err != nil {
		l.logger.Warn("failed to append event to redis log",
			slog.String("label", ev.Label),
			slog.String("task_id", ev.Snapshot.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *EventLog) push(ctx context.Context, ev reporter.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, eventLogKey, data)
	pipe.LTrim(ctx, eventLogKey, 0, l.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push event: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (l *EventLog) Recent(ctx context.Context, n int) ([]reporter.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := l.client.LRange(ctx, eventLogKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read events: %w", err)
	}
	events := make([]reporter.Event, 0, len(raw))
	for _, r := range raw {
		var ev reporter.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
