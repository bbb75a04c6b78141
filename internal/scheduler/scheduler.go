// Package scheduler repeats a reconciliation run on a fixed interval or
// a cron expression. Overlapping runs are never started: a trigger that
// fires while a run is active is skipped and logged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tdalton/dbrecon/internal/logging"
)

// RunFunc executes one reconciliation run. The context carries the
// per-run timeout; the function must return once it is cancelled.
type RunFunc func(ctx context.Context) error

// Job describes the repeated work.
type Job struct {
	ID       string
	Interval time.Duration // mutually exclusive with Cron
	Cron     string
	Timeout  time.Duration // 0 = no per-run timeout
	Run      RunFunc
}

// State is a snapshot of the job's execution state.
type State struct {
	IsRunning   bool
	LastRunAt   time.Time
	LastStatus  string // "", "ok", "failed", "timeout"
	NextRunAt   time.Time
	RunsStarted int
	RunsSkipped int
}

// Scheduler drives a single job.
type Scheduler struct {
	job      Job
	cronExpr cron.Schedule

	mu    sync.Mutex
	state State
}

// New validates the trigger and creates the scheduler. Cron expressions
// use the standard five-field format.
func New(job Job) (*Scheduler, error) {
	if job.Run == nil {
		return nil, errors.New("job has no run function")
	}
	if (job.Interval > 0) == (job.Cron != "") {
		return nil, errors.New("exactly one of interval or cron must be set")
	}

	s := &Scheduler{job: job}
	if job.Cron != "" {
		expr, err := cron.ParseStandard(job.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing cron expression %q: %w", job.Cron, err)
		}
		s.cronExpr = expr
	}
	return s, nil
}

// State returns a copy of the current job state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs the schedule until the context is cancelled. An active run
// is cancelled with the context; Start returns only after it finished.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		next := s.next(time.Now())
		s.mu.Lock()
		s.state.NextRunAt = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info("Scheduler %s stopping", s.job.ID)
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, &wg)
	}
}

// fire launches one run unless one is already active.
func (s *Scheduler) fire(ctx context.Context, wg *sync.WaitGroup) {
	s.mu.Lock()
	if s.state.IsRunning {
		s.state.RunsSkipped++
		s.mu.Unlock()
		logging.Warn("Scheduler %s: previous run still active, skipping this trigger", s.job.ID)
		return
	}
	s.state.IsRunning = true
	s.state.LastRunAt = time.Now()
	s.state.RunsStarted++
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()

		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if s.job.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, s.job.Timeout)
		}
		defer cancel()

		logging.Info("Scheduler %s: run starting", s.job.ID)
		err := s.job.Run(runCtx)

		status := "ok"
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			status = "timeout"
			logging.Error("Scheduler %s: run exceeded timeout %v and was cancelled", s.job.ID, s.job.Timeout)
		case err != nil:
			status = "failed"
			logging.Error("Scheduler %s: run failed: %v", s.job.ID, err)
		default:
			logging.Info("Scheduler %s: run finished", s.job.ID)
		}

		s.mu.Lock()
		s.state.IsRunning = false
		s.state.LastStatus = status
		s.mu.Unlock()
	}()
}

// next computes the following trigger time.
func (s *Scheduler) next(now time.Time) time.Time {
	if s.cronExpr != nil {
		return s.cronExpr.Next(now)
	}
	return now.Add(s.job.Interval)
}
