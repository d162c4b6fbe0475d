package bootstrap

import (
	"context"
	"sync"
	"time"

	appconfig "github.com/wolfman30/hms-platform/internal/config"
	"github.com/wolfman30/hms-platform/internal/events"
	"github.com/wolfman30/hms-platform/internal/exports"
	"github.com/wolfman30/hms-platform/internal/jobs"
	"github.com/wolfman30/hms-platform/internal/notify"
	"github.com/wolfman30/hms-platform/internal/observability/metrics"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Background runs the outbox deliverer, the export worker and the periodic
// jobs until its context is cancelled.
type Background struct {
	Deliverer *events.Deliverer
	Exports   *exports.Worker
	Scheduler *jobs.Scheduler

	logger *logging.Logger
	wg     sync.WaitGroup
}

// BackgroundDeps lists what BuildBackground needs from the caller.
type BackgroundDeps struct {
	Runtime    *Runtime
	Scheduling *Scheduling
	Exports    *Exports
	Email      notify.EmailSender
	Metrics    *metrics.SchedulingMetrics
}

func BuildBackground(cfg *appconfig.Config, deps BackgroundDeps, logger *logging.Logger) *Background {
	if logger == nil {
		logger = logging.Default()
	}
	rt := deps.Runtime
	loc := cfg.Location()

	notifier := notify.NewAppointmentNotifier(deps.Email, rt.Directory, rt.Deduper, logger)
	deliverer := events.NewDeliverer(rt.Outbox, notifier, logger).
		WithInterval(cfg.OutboxInterval).
		WithBatchSize(int32(cfg.OutboxBatch))
	if deps.Metrics != nil {
		deliverer = deliverer.WithObserver(deps.Metrics)
	}

	workerDeps := exports.WorkerDeps{
		Queue:     deps.Exports.Queue,
		Jobs:      deps.Exports.Jobs,
		History:   deps.Scheduling.Appointments,
		Directory: rt.Directory,
		Blobs:     deps.Exports.Blobs,
		Email:     deps.Email,
	}
	if rt.Audit != nil {
		workerDeps.Auditor = rt.Audit
	}

	scheduler := jobs.NewScheduler(logger)
	reminders := jobs.NewReminders(deps.Scheduling.Appointments, rt.Directory, deps.Email, loc, logger)
	reports := jobs.NewMonthlyReports(deps.Scheduling.Appointments, rt.Directory, deps.Exports.Blobs, deps.Email, loc, logger)
	scheduler.Add("daily-reminders", jobs.Daily{Hour: cfg.ReminderHour, Location: loc}, reminders.Task())
	scheduler.Add("monthly-doctor-reports", jobs.Monthly{Day: cfg.ReportDay, Minute: 5, Location: loc}, reports.Task())

	return &Background{
		Deliverer: deliverer,
		Exports:   exports.NewWorker(workerDeps, cfg.WorkerCount, logger),
		Scheduler: scheduler,
		logger:    logger,
	}
}

func (b *Background) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Deliverer.Start(ctx)
	}()
	b.Exports.Start(ctx)
	b.Scheduler.Start(ctx)
	b.logger.Info("background workers started")
}

// Wait blocks until every worker exits or timeout elapses.
func (b *Background) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.Exports.Wait()
		b.Scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		b.logger.Error("background workers did not stop in time", "timeout", timeout.String())
		return false
	}
}
