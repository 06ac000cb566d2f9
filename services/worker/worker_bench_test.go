package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
	"github.com/ramiqadoumi/go-call-later/internal/kafka"
	"github.com/ramiqadoumi/go-call-later/internal/store"
	"github.com/ramiqadoumi/go-call-later/services/dispatcher"
)

func benchWorker(b *testing.B) (*Worker, *store.Memory, kafka.Message) {
	b.Helper()
	reg := handlers.NewRegistry()
	reg.RegisterFunc("noop", nil, func(context.Context, handlers.Call) error { return nil })

	s := store.NewMemory()
	task := domain.NewTask("noop", time.Now())
	task.ID = "bench-task"
	task.Repeat = 1 << 30
	task.Every = every(time.Second)
	if err := s.Create(context.Background(), task); err != nil {
		b.Fatal(err)
	}

	raw, err := json.Marshal(dispatcher.RunRequest{TaskID: task.ID, Now: time.Now()})
	if err != nil {
		b.Fatal(err)
	}

	exec := NewExecutor(s, reg, nil, WithExecutorLogger(discardLogger))
	return NewWorker("bench-worker", nil, exec, WithLogger(discardLogger)), s, kafka.Message{Value: raw}
}

// BenchmarkWorker_ProcessRun measures the overhead of processMessage with a
// no-op handler against the in-memory store.
func BenchmarkWorker_ProcessRun(b *testing.B) {
	w, _, msg := benchWorker(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.processMessage(ctx, msg)
	}
}

// BenchmarkWorker_ProcessRun_Parallel measures throughput under concurrent load.
func BenchmarkWorker_ProcessRun_Parallel(b *testing.B) {
	w, _, msg := benchWorker(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_ = w.processMessage(ctx, msg)
		}
	})
}
