package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-call-later/internal/config"
	"github.com/ramiqadoumi/go-call-later/internal/kafka"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute run requests consumed from Kafka",
	Long: `Consume run requests published by a poller in kafka dispatch mode and
execute them. Any number of workers may share one consumer group.`,
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlag("worker_group", cmd.Flags(), "group")
		bindFlag("metrics_addr", cmd.Flags(), "metrics-addr")
	},
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().String("group", "calllater-workers", "Kafka consumer group")
	workerCmd.Flags().Int("partitions", 3, "partitions used when the run topic has to be created")
	workerCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return fmt.Errorf("worker needs kafka_brokers")
	}
	workerID := "worker-" + uuid.New().String()[:8]

	rt, err := newRuntime(context.Background(), cfg, "worker")
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger.With(slog.String("worker_id", workerID))

	partitions, _ := cmd.Flags().GetInt("partitions")
	topicCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = kafka.EnsureTopic(topicCtx, brokers, cfg.RunTopic, partitions)
	cancel()
	if err != nil {
		logger.Warn("could not ensure run topic, relying on auto-creation",
			slog.String("topic", cfg.RunTopic),
			slog.String("error", err.Error()),
		)
	}

	consumer := kafka.NewConsumer(brokers, cfg.RunTopic, cfg.WorkerGroup, logger)
	defer func() { _ = consumer.Close() }()

	w := worker.NewWorker(workerID, consumer, rt.executor(), worker.WithLogger(logger))

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, rt.ready)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, draining in-flight runs...")
		runCancel()
	}()

	logger.Info("worker starting",
		slog.String("topic", cfg.RunTopic),
		slog.String("group", cfg.WorkerGroup),
	)
	if err := w.Run(runCtx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	w.Wait()
	logger.Info("stopped cleanly")
	return nil
}
