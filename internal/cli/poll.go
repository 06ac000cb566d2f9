package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-call-later/internal/config"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/scheduler"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run check cycles on a cron schedule until interrupted",
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlag("check_schedule", cmd.Flags(), "schedule")
		bindFlag("metrics_addr", cmd.Flags(), "metrics-addr")
	},
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().String("schedule", scheduler.DefaultSchedule, `cron spec or descriptor for check cycles (e.g. "@every 30s", "*/1 * * * *")`)
	pollCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics server address")
}

func runPoll(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	rt, err := newRuntime(context.Background(), cfg, "poll")
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	poller, err := scheduler.NewPoller(rt.scheduler(), cfg.CheckSchedule, scheduler.WithPollerLogger(logger))
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, rt.ready)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("poller starting",
		slog.String("schedule", cfg.CheckSchedule),
		slog.String("dispatch_mode", cfg.DispatchMode),
	)
	poller.Run(runCtx)
	logger.Info("stopped")
	return nil
}
