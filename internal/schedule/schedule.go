// Package schedule runs a single daily job at a fixed local wall-clock
// time. The job is registered once at startup and driven by one
// goroutine, so runs can never overlap.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Daily fires the job once per day at the configured hour and minute in
// the given location.
type Daily struct {
	hour, minute int
	loc          *time.Location
	job          func(ctx context.Context)
	logger       *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func NewDaily(hour, minute int, loc *time.Location, job func(ctx context.Context), logger *slog.Logger) *Daily {
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		job:    job,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the scheduler goroutine. It must be called at most once.
func (d *Daily) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running.Store(true)
	go d.run(ctx)
	d.logger.Info("scheduler started", "hour", d.hour, "minute", d.minute, "timezone", d.loc.String())
}

// Stop cancels the scheduler and waits for the goroutine to exit. Safe to
// call more than once.
func (d *Daily) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
			<-d.done
		}
		d.running.Store(false)
		d.logger.Info("scheduler stopped")
	})
}

// Running reports whether the scheduler goroutine is active.
func (d *Daily) Running() bool { return d.running.Load() }

func (d *Daily) run(ctx context.Context) {
	defer close(d.done)
	for {
		wait := time.Until(nextRun(time.Now().In(d.loc), d.hour, d.minute))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.job(ctx)
		}
	}
}

// nextRun returns the next occurrence of hour:minute strictly after now,
// in now's location.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
