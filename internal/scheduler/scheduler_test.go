package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewValidation(t *testing.T) {
	run := func(context.Context) error { return nil }
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"interval only", Job{ID: "a", Interval: time.Minute, Run: run}, false},
		{"cron only", Job{ID: "b", Cron: "*/5 * * * *", Run: run}, false},
		{"no trigger", Job{ID: "c", Run: run}, true},
		{"both triggers", Job{ID: "d", Interval: time.Minute, Cron: "* * * * *", Run: run}, true},
		{"bad cron", Job{ID: "e", Cron: "not a cron", Run: run}, true},
		{"no run func", Job{ID: "f", Interval: time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCronNextRespectsExpression(t *testing.T) {
	s, err := New(Job{ID: "cron", Cron: "0 * * * *", Run: func(context.Context) error { return nil }})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	next := s.next(now)
	want := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestIntervalRunsRepeatedly(t *testing.T) {
	var runs atomic.Int32
	s, err := New(Job{
		ID:       "fast",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if got := runs.Load(); got < 2 {
		t.Errorf("got %d runs, want at least 2", got)
	}
	st := s.State()
	if st.IsRunning {
		t.Error("IsRunning must be cleared after Start returns")
	}
	if st.LastStatus != "ok" {
		t.Errorf("last status = %q, want ok", st.LastStatus)
	}
}

func TestSkipWhileRunning(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	s, err := New(Job{
		ID:       "slow",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			runs.Add(1)
			time.Sleep(60 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if maxActive.Load() > 1 {
		t.Errorf("runs overlapped: max active = %d", maxActive.Load())
	}
	if s.State().RunsSkipped == 0 {
		t.Error("expected skipped triggers while a run was active")
	}
}

func TestRunTimeout(t *testing.T) {
	s, err := New(Job{
		ID:       "hang",
		Interval: 10 * time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done() // cooperative cancellation
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if got := s.State().LastStatus; got != "timeout" {
		t.Errorf("last status = %q, want timeout", got)
	}
}

func TestFailedRunRecorded(t *testing.T) {
	s, err := New(Job{
		ID:       "broken",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			return errors.New("adapter exploded")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	if got := s.State().LastStatus; got != "failed" {
		t.Errorf("last status = %q, want failed", got)
	}
}

func TestStartWaitsForActiveRun(t *testing.T) {
	done := make(chan struct{})
	s, err := New(Job{
		ID:       "lingering",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond) // cleanup after cancellation
			close(done)
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	select {
	case <-done:
	default:
		t.Error("Start returned before the active run finished")
	}
}
