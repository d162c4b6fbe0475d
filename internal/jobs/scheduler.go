// Package jobs runs the clinic's periodic work: morning reminders for the day's
// appointments and the monthly per-doctor activity report.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/hms-platform/pkg/logging"
)

// Schedule yields the next run strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Daily fires every day at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

func (d Daily) Next(after time.Time) time.Time {
	loc := locationOr(d.Location)
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return next
}

// Monthly fires on Day of every month at Hour:Minute in Location. Days past
// the end of a short month clamp to its last day.
type Monthly struct {
	Day      int
	Hour     int
	Minute   int
	Location *time.Location
}

func (m Monthly) Next(after time.Time) time.Time {
	loc := locationOr(m.Location)
	local := after.In(loc)
	for i := 0; ; i++ {
		first := time.Date(local.Year(), local.Month()+time.Month(i), 1, 0, 0, 0, 0, loc)
		year, month := first.Year(), first.Month()
		next := time.Date(year, month, clampDay(year, month, m.Day), m.Hour, m.Minute, 0, 0, loc)
		if next.After(local) {
			return next
		}
	}
}

func clampDay(year int, month time.Month, day int) int {
	if day < 1 {
		day = 1
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func locationOr(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

type entry struct {
	name     string
	schedule Schedule
	task     Task
}

// Scheduler runs registered tasks on their schedules until the context ends.
type Scheduler struct {
	logger  *logging.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	entries []entry
	wg      sync.WaitGroup
}

func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{logger: logger, now: time.Now, after: time.After}
}

// Add registers a task. Call before Start.
func (s *Scheduler) Add(name string, schedule Schedule, task Task) {
	s.entries = append(s.entries, entry{name: name, schedule: schedule, task: task})
}

// Start launches one goroutine per task.
func (s *Scheduler) Start(ctx context.Context) {
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
}

// Wait blocks until every task loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()
	for {
		next := e.schedule.Next(s.now())
		s.logger.Info("job scheduled", "job", e.name, "next_run", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
		}
		s.runOnce(ctx, e)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, e entry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", e.name, "panic", r)
		}
	}()
	if err := e.task(ctx); err != nil {
		s.logger.Error("job failed", "job", e.name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Info("job finished", "job", e.name, "duration_ms", time.Since(start).Milliseconds())
}
