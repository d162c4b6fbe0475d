package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/hms-platform/cmd/mainconfig"
	"github.com/wolfman30/hms-platform/internal/api/router"
	"github.com/wolfman30/hms-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/hms-platform/internal/config"
	"github.com/wolfman30/hms-platform/internal/exports"
	httpmiddleware "github.com/wolfman30/hms-platform/internal/http/middleware"
	"github.com/wolfman30/hms-platform/internal/observability/metrics"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting hms-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
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

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, schedulingMetrics := setupSchedulingMetrics()
	sched := bootstrap.BuildScheduling(rt, cfg, clinicClock(cfg), schedulingMetrics, logger)
	exportBackends := bootstrap.BuildExports(cfg, awsCfg, logger)
	email := bootstrap.BuildEmailSender(cfg, awsCfg, logger)

	// Memory-backed outboxes and queues are only visible in this process, so
	// the background workers run inline.
	var background *bootstrap.Background
	if rt.InMemory || exportBackends.InProcess() {
		background = bootstrap.BuildBackground(cfg, bootstrap.BackgroundDeps{
			Runtime:    rt,
			Scheduling: sched,
			Exports:    exportBackends,
			Email:      email,
			Metrics:    schedulingMetrics,
		}, logger)
		background.Start(ctx)
		logger.Info("inline background workers enabled")
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunEviction(ctx, 5*time.Minute)

	healthChecks := make(map[string]router.HealthCheck)
	for name, check := range rt.HealthChecks() {
		healthChecks[name] = check
	}

	r := router.New(&router.Config{
		Logger:             logger,
		SchedulingHandler:  scheduling.NewHandler(sched.Booking, sched.Slots, sched.Appointments, logger).WithPatients(rt.Directory),
		ExportsHandler:     exports.NewHandler(exports.NewService(exportBackends.Queue, exportBackends.Jobs, logger), logger),
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		RequestObserver:    schedulingMetrics,
		MetricsHandler:     metricsHandler,
		HealthChecks:       healthChecks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if background != nil {
		background.Wait(15 * time.Second)
	}
	logger.Info("server stopped")
}

func setupSchedulingMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewSchedulingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// clinicClock reports the current time in the clinic's zone so "today" is
// the clinic's calendar day.
func clinicClock(cfg *appconfig.Config) scheduling.Clock {
	loc := cfg.Location()
	return func() time.Time { return time.Now().In(loc) }
}
