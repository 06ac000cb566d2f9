package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is how often the poller triggers a check cycle.
const DefaultSchedule = "@every 30s"

// Poller triggers check cycles on a cron schedule. Cycles are not serialized:
// a slow cycle may overlap the next one, which the lease protocol tolerates.
type Poller struct {
	scheduler *Scheduler
	schedule  cron.Schedule
	clock     func() time.Time
	logger    *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithClock replaces the source of each cycle's now.
func WithClock(clock func() time.Time) PollerOption {
	return func(p *Poller) { p.clock = clock }
}

func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller parses spec, a standard five-field cron expression or a
// descriptor such as "@every 30s".
func NewPoller(s *Scheduler, spec string, opts ...PollerOption) (*Poller, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse check schedule %q: %w", spec, err)
	}
	p := &Poller{
		scheduler: s,
		schedule:  schedule,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run triggers a cycle immediately and then on every tick of the schedule.
// Blocks until ctx is cancelled, then waits for running cycles to finish.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx)

	c := cron.New()
	c.Schedule(p.schedule, cron.FuncJob(func() { p.tick(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
}

func (p *Poller) tick(ctx context.Context) {
	now := p.clock()
	if _, err := p.scheduler.Check(ctx, now); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("check cycle failed",
			slog.Time("now", now),
			slog.String("error", err.Error()),
		)
	}
}
