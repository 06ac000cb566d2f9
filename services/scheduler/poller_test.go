package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/store"
)

type countingDispatcher struct{ ids []string }

func (d *countingDispatcher) Dispatch(_ context.Context, id string, _ time.Time) error {
	d.ids = append(d.ids, id)
	return nil
}

func TestNewPoller_InvalidSchedule(t *testing.T) {
	_, err := NewPoller(New(store.NewMemory(), &countingDispatcher{}, nil), "every now and then")
	require.Error(t, err)
}

func TestNewPoller_DefaultSchedule(t *testing.T) {
	p, err := NewPoller(New(store.NewMemory(), &countingDispatcher{}, nil), "")
	require.NoError(t, err)

	from := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(30*time.Second), p.schedule.Next(from))
}

func TestPoller_TickUsesClock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := store.NewMemory()
	ctx := context.Background()
	due := domain.NewTask("ok", now)
	later := domain.NewTask("ok", now.Add(time.Minute))
	require.NoError(t, s.Create(ctx, due))
	require.NoError(t, s.Create(ctx, later))

	d := &countingDispatcher{}
	p, err := NewPoller(New(s, d, nil, WithLogger(logger)), "*/5 * * * *",
		WithClock(func() time.Time { return now }),
		WithPollerLogger(logger),
	)
	require.NoError(t, err)

	p.tick(ctx)
	assert.Equal(t, []string{due.ID}, d.ids)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	d := &countingDispatcher{}
	p, err := NewPoller(New(store.NewMemory(), d, nil), "@every 1h")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}
