package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/hms-platform/cmd/mainconfig"
	"github.com/wolfman30/hms-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hms-platform/internal/config"
	"github.com/wolfman30/hms-platform/internal/observability/metrics"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.DatabaseURL == "" || cfg.UseMemoryQueue {
		logger.Error("worker requires DATABASE_URL and an SQS export queue; in-memory mode runs inside the API")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.BuildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewSchedulingMetrics(reg)
	loc := cfg.Location()
	sched := bootstrap.BuildScheduling(rt, cfg, func() time.Time { return time.Now().In(loc) }, m, logger)

	background := bootstrap.BuildBackground(cfg, bootstrap.BackgroundDeps{
		Runtime:    rt,
		Scheduling: sched,
		Exports:    bootstrap.BuildExports(cfg, awsConfig, logger),
		Email:      bootstrap.BuildEmailSender(cfg, awsConfig, logger),
		Metrics:    m,
	}, logger)
	background.Start(ctx)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if background.Wait(30 * time.Second) {
		logger.Info("worker stopped")
	}
}
