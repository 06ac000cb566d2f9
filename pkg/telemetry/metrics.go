package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "scheduler",
		Name:      "checks_total",
		Help:      "Total check cycles run.",
	})

	SchedulerTasksFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "scheduler",
		Name:      "tasks_found_total",
		Help:      "Tasks picked up by a check cycle, labelled by pass (due or stuck).",
	}, []string{"pass"})

	SchedulerCheckDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "calllater",
		Subsystem: "scheduler",
		Name:      "check_duration_seconds",
		Help:      "Wall time of one check cycle in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	// ─── Dispatcher ──────────────────────────────────────────────────────────────

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "dispatcher",
		Name:      "dispatch_total",
		Help:      "Run requests handed off, labelled by mode and result.",
	}, []string{"mode", "result"})

	// ─── Executor ────────────────────────────────────────────────────────────────

	ExecutorOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "executor",
		Name:      "outcomes_total",
		Help:      "Executions, labelled by outcome.",
	}, []string{"outcome"})

	ExecutorDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "calllater",
		Subsystem: "executor",
		Name:      "handler_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"task_type"})

	WorkerRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "calllater",
		Subsystem: "worker",
		Name:      "runs_inflight",
		Help:      "Run requests currently being executed by this worker.",
	})

	// ─── Reporter ────────────────────────────────────────────────────────────────

	ReporterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "reporter",
		Name:      "events_total",
		Help:      "Failure and timeout events reported, labelled by event label.",
	}, []string{"label"})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APITasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "calllater",
		Subsystem: "api",
		Name:      "tasks_created_total",
		Help:      "Tasks created through the REST API.",
	}, []string{"task_type"})
)
