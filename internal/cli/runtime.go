package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-call-later/internal/config"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
	"github.com/ramiqadoumi/go-call-later/internal/kafka"
	"github.com/ramiqadoumi/go-call-later/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-call-later/internal/redis"
	"github.com/ramiqadoumi/go-call-later/internal/reporter"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/dispatcher"
	"github.com/ramiqadoumi/go-call-later/services/scheduler"
	"github.com/ramiqadoumi/go-call-later/services/worker"
)

// runtime is the set of long-lived dependencies every command shares.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	loc      *time.Location
	pool     *pgxpool.Pool
	tasks    *postgres.TaskStore
	redis    *goredis.Client
	events   *redisstore.EventLog
	outcomes redisstore.OutcomeStore
	registry *handlers.Registry
	reporter reporter.Reporter
	closers  []func()
}

func newRuntime(ctx context.Context, cfg config.Config, service string) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		logger: buildLogger(cfg.LogLevel, service),
		loc:    loc,
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, "calllater-"+service, cfg.OTelEndpoint,
		telemetry.WithSampleRatio(cfg.OTelSample))
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracer)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	rt.pool = pool
	rt.tasks = postgres.NewTaskStore(pool)
	rt.closers = append(rt.closers, pool.Close)

	sinks := reporter.Multi{reporter.NewLogReporter(rt.logger)}
	if cfg.RedisAddr != "" {
		rt.redis = redisstore.NewClient(cfg.RedisAddr)
		rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })
		rt.events = redisstore.NewEventLog(rt.redis, cfg.EventLogSize, rt.logger)
		rt.outcomes = redisstore.NewOutcomeStore(rt.redis)
		sinks = append(sinks, rt.events)
	}
	rt.reporter = sinks
	rt.registry = newRegistry(cfg)
	return rt, nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func newRegistry(cfg config.Config) *handlers.Registry {
	registry := handlers.NewRegistry()
	registry.Register(handlers.NewWebhookHandler(cfg.WebhookTimeout))
	registry.Register(handlers.NewEmailHandler(handlers.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}))
	return registry
}

func (rt *runtime) executor() *worker.Executor {
	opts := []worker.ExecutorOption{
		worker.WithLocation(rt.loc),
		worker.WithExecutorLogger(rt.logger),
	}
	if rt.outcomes != nil {
		opts = append(opts, worker.WithRecorder(rt.outcomes))
	}
	return worker.NewExecutor(rt.tasks, rt.registry, rt.reporter, opts...)
}

// scheduler builds a Scheduler whose dispatcher follows dispatch_mode.
func (rt *runtime) scheduler() *scheduler.Scheduler {
	var d scheduler.Dispatcher
	switch rt.cfg.DispatchMode {
	case config.DispatchKafka:
		producer := kafka.NewProducer(rt.cfg.Brokers())
		rt.closers = append(rt.closers, func() { _ = producer.Close() })
		d = dispatcher.NewKafka(producer, rt.cfg.RunTopic, rt.logger)
	default:
		d = dispatcher.NewInline(rt.executor(), rt.logger)
	}
	return scheduler.New(rt.tasks, d, rt.reporter,
		scheduler.WithLogger(rt.logger),
		scheduler.WithDescriber(rt.registry),
	)
}

// ready reports whether the durable store is reachable.
func (rt *runtime) ready(ctx context.Context) error {
	return rt.tasks.Ping(ctx)
}
