package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-call-later/internal/config"
	"github.com/ramiqadoumi/go-call-later/pkg/telemetry"
	"github.com/ramiqadoumi/go-call-later/services/api-gateway/handler"
	"github.com/ramiqadoumi/go-call-later/services/api-gateway/middleware"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the REST operator API",
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlag("http_port", cmd.Flags(), "http-port")
		bindFlag("metrics_addr", cmd.Flags(), "metrics-addr")
	},
	RunE: runAPI,
}

func init() {
	apiCmd.Flags().String("http-port", "8080", "HTTP server port")
	apiCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
}

func runAPI(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	rt, err := newRuntime(context.Background(), cfg, "api")
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	opts := []handler.Option{handler.WithReadiness(rt.ready)}
	if rt.redis != nil {
		opts = append(opts, handler.WithOutcomes(rt.outcomes), handler.WithEvents(rt.events))
	}
	restHandler := handler.NewREST(rt.tasks, rt.scheduler(), rt.registry, logger, opts...)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20))
	restHandler.Routes(r)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, rt.ready)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
