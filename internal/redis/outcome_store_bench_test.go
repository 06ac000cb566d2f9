package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/reporter"
)

// newBenchClient returns a Redis client connected to localhost:6379.
// Benchmarks are skipped if Redis is not reachable.
func newBenchClient(b *testing.B) *redis.Client {
	b.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:         "localhost:6379",
		DialTimeout:  1 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := c.Ping(context.Background()).Err(); err != nil {
		b.Skipf("Redis not available at localhost:6379: %v", err)
	}
	b.Cleanup(func() { _ = c.Close() })
	return c
}

// BenchmarkOutcomeStore_RecordOutcome measures a single SET with TTL.
func BenchmarkOutcomeStore_RecordOutcome(b *testing.B) {
	store := NewOutcomeStore(newBenchClient(b))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.RecordOutcome(ctx, "bench-task", domain.OutcomeWillBeCalledAgain); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEventLog_Report measures the LPUSH+LTRIM transaction.
func BenchmarkEventLog_Report(b *testing.B) {
	log := NewEventLog(newBenchClient(b), 100, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	ev := reporter.NewEvent(domain.EventExpiredBeforeRun, reporter.Snapshot{ID: "bench-task"}, "")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Report(ctx, ev)
	}
}
