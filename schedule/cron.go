// Package schedule runs the claim once a day, either in-process on a cron
// loop or by registering a task with the operating system scheduler.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// DailySpec converts a local "HH:MM" time into a standard five-field cron spec.
func DailySpec(at string) (string, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return "", fmt.Errorf("daily time %q must be HH:MM: %w", at, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// NextRun returns the first activation of spec strictly after now.
func NextRun(spec string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched.Next(now), nil
}

// Runner executes a job on a cron spec until its context is canceled.
type Runner struct {
	spec     string
	job      Job
	location *time.Location
	logger   cron.Logger

	runs     int64
	failures int64
}

// NewRunner validates spec and builds a runner for job. A nil location
// means time.Local.
func NewRunner(spec string, job Job, location *time.Location) (*Runner, error) {
	if job == nil {
		return nil, errors.New("schedule: job is nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	if location == nil {
		location = time.Local
	}
	return &Runner{
		spec:     spec,
		job:      job,
		location: location,
		logger:   slogLogger{},
	}, nil
}

// Run blocks until ctx is done. With runNow the job also runs once
// immediately. A job error is logged and the loop keeps going.
func (r *Runner) Run(ctx context.Context, runNow bool) error {
	sched, err := cron.ParseStandard(r.spec)
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	c := cron.New(
		cron.WithLogger(r.logger),
		cron.WithLocation(r.location),
	)
	job := r.chainedJob(ctx)
	id := c.Schedule(sched, job)
	c.Start()

	if next := c.Entry(id).Next; !next.IsZero() {
		slog.Info("daily claim scheduled", slog.String("spec", r.spec), slog.Time("next_run", next))
	}

	if runNow {
		job.Run()
	}

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	slog.Info("scheduler stopped",
		slog.Int64("runs", atomic.LoadInt64(&r.runs)),
		slog.Int64("failures", atomic.LoadInt64(&r.failures)),
	)
	return nil
}

// Runs returns how many times the job has been started.
func (r *Runner) Runs() int64 {
	return atomic.LoadInt64(&r.runs)
}

// Failures returns how many job runs returned an error.
func (r *Runner) Failures() int64 {
	return atomic.LoadInt64(&r.failures)
}

// chainedJob wraps the job so that the immediate run and the daily ticks
// never overlap and a panic does not stop the loop.
func (r *Runner) chainedJob(ctx context.Context) cron.Job {
	return cron.NewChain(
		cron.Recover(r.logger),
		cron.SkipIfStillRunning(r.logger),
	).Then(cron.FuncJob(func() { r.runJob(ctx) }))
}

func (r *Runner) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	run := atomic.AddInt64(&r.runs, 1)
	start := time.Now()
	if err := r.job(ctx); err != nil {
		atomic.AddInt64(&r.failures, 1)
		slog.Error("scheduled run failed",
			slog.Int64("run", run),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}
	slog.Info("scheduled run finished",
		slog.Int64("run", run),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// slogLogger adapts cron's logger interface to the default slog logger.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
