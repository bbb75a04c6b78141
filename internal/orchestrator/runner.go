// Package orchestrator drives a reconciliation run: it fans table
// comparisons out over a bounded worker pool, assembles the report, and
// wires in history, metrics, and notifications.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/compare"
	"github.com/tdalton/dbrecon/internal/config"
	"github.com/tdalton/dbrecon/internal/history"
	"github.com/tdalton/dbrecon/internal/logging"
	"github.com/tdalton/dbrecon/internal/monitor"
	"github.com/tdalton/dbrecon/internal/notify"
	"github.com/tdalton/dbrecon/internal/progress"
	"github.com/tdalton/dbrecon/internal/report"
	"github.com/tdalton/dbrecon/internal/secrets"
)

// AdapterOpener builds one side's adapter from its connection settings.
// Swappable in tests; the default goes through the driver registry.
type AdapterOpener func(*secrets.DBSecret) (adapter.Adapter, error)

// Runner executes one reconciliation run.
type Runner struct {
	cfg     *config.Config
	creds   *secrets.Config
	open    AdapterOpener
	notif   *notify.Notifier
	store   *history.Store
	tracker *progress.Tracker
}

// Option configures a Runner.
type Option func(*Runner)

// WithAdapterOpener replaces the registry-backed adapter construction.
func WithAdapterOpener(open AdapterOpener) Option {
	return func(r *Runner) { r.open = open }
}

// WithNotifier attaches a Slack notifier.
func WithNotifier(n *notify.Notifier) Option {
	return func(r *Runner) { r.notif = n }
}

// WithHistory persists the finished report to the given store.
func WithHistory(s *history.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithProgress attaches a terminal progress tracker.
func WithProgress(t *progress.Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// New creates a runner over the given configuration and credentials.
func New(cfg *config.Config, creds *secrets.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		creds: creds,
		notif: notify.New(nil),
		open: func(s *secrets.DBSecret) (adapter.Adapter, error) {
			return adapter.New(s.DBConfig())
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every configured table comparison and returns the
// finalized report. The returned error covers setup failures only;
// per-table failures land in the report as ABORTED entries.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	started := time.Now()

	srcSecret, err := r.creds.Role("source")
	if err != nil {
		return nil, err
	}
	tgtSecret, err := r.creds.Role("target")
	if err != nil {
		return nil, err
	}

	specs, err := r.cfg.TableSpecs(
		roleSchema(srcSecret),
		roleSchema(tgtSecret),
	)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(specs))
	for i := range specs {
		names[i] = specs[i].Name()
	}
	builder := report.NewBuilder(names)

	logging.Info("Run %s: comparing %d tables with %d workers", builder.ID(), len(specs), r.cfg.Workers)

	metrics := monitor.NewRunMetrics(30 * time.Second)
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go metrics.Start(metricsCtx)

	obs := runObserver{metrics: metrics, tracker: r.tracker}
	policy := r.cfg.RetryPolicy()

	specCh := make(chan compare.TableSpec)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, srcSecret, tgtSecret, specCh, builder, obs, policy, metrics)
		}(w)
	}

	aborted := false
dispatch:
	for _, spec := range specs {
		select {
		case <-ctx.Done():
			aborted = true
			break dispatch
		case specCh <- spec:
		}
	}
	close(specCh)
	wg.Wait()

	if aborted || ctx.Err() != nil {
		builder.MarkAborted()
	}

	rep := builder.Finalize()
	r.finish(rep, metrics, started)
	return rep, nil
}

// worker owns one adapter pair for its lifetime. Connections are never
// shared between workers.
func (r *Runner) worker(ctx context.Context, id int, srcSecret, tgtSecret *secrets.DBSecret,
	specCh <-chan compare.TableSpec, builder *report.Builder, obs compare.Observer,
	policy adapter.RetryPolicy, metrics *monitor.RunMetrics) {

	src, tgt, err := r.openPair(ctx, srcSecret, tgtSecret)
	if err != nil {
		logging.Error("Worker %d could not connect: %v", id, err)
		// Drain so the dispatcher never blocks; each table still gets
		// an explicit ABORTED entry instead of silently vanishing.
		for spec := range specCh {
			builder.Add(abortedResult(spec, err))
			metrics.TableCompleted()
		}
		return
	}
	defer src.Close()
	defer tgt.Close()

	cmp := compare.New(src, tgt, compare.Config{Retry: policy, Observer: obs})
	for spec := range specCh {
		logging.Info("Worker %d: comparing %s", id, spec.Name())
		res := cmp.CompareTable(ctx, spec)
		builder.Add(res)
		metrics.TableCompleted()
		logging.Info("Worker %d: %s finished with status %s (%d discrepancies in %s)",
			id, spec.Name(), res.Status, len(res.Discrepancies), res.Duration.Round(time.Millisecond))
	}
}

func (r *Runner) openPair(ctx context.Context, srcSecret, tgtSecret *secrets.DBSecret) (adapter.Adapter, adapter.Adapter, error) {
	src, err := r.open(srcSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("opening source: %w", err)
	}
	if err := src.Ping(ctx); err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("pinging source: %w", err)
	}

	tgt, err := r.open(tgtSecret)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("opening target: %w", err)
	}
	if err := tgt.Ping(ctx); err != nil {
		src.Close()
		tgt.Close()
		return nil, nil, fmt.Errorf("pinging target: %w", err)
	}
	return src, tgt, nil
}

// finish logs, notifies, and persists the outcome. Failures here are
// logged but never override the comparison result.
func (r *Runner) finish(rep *report.Report, metrics *monitor.RunMetrics, started time.Time) {
	duration := time.Since(started)
	outcome := "completed"
	if rep.Aborted {
		outcome = "aborted"
	}
	metrics.LogSummary(outcome)

	if r.tracker != nil {
		r.tracker.Finish()
	}

	if r.notif.IsEnabled() {
		var err error
		switch {
		case rep.Aborted:
			err = r.notif.RunAborted(rep.ReportID, errors.New("run was cancelled before completing"), duration)
		case rep.Summary.TablesWithDiscrepancies > 0:
			err = r.notif.DiscrepanciesFound(rep.ReportID,
				rep.Summary.TablesWithDiscrepancies, rep.Summary.TotalDiscrepancies,
				worstSeverity(rep), duration)
		case rep.Summary.TablesAborted > 0:
			err = r.notif.RunAborted(rep.ReportID,
				fmt.Errorf("%d of %d tables could not be compared", rep.Summary.TablesAborted, rep.Summary.TotalTables),
				duration)
		default:
			err = r.notif.RunCompleted(rep.ReportID, rep.Summary.TotalTables,
				metrics.TotalRowsCompared(), duration)
		}
		if err != nil {
			logging.Warn("Notification failed: %v", err)
		}
	}

	if r.store != nil {
		if err := r.store.SaveReport(rep, started); err != nil {
			logging.Warn("Saving run history failed: %v", err)
		} else if err := r.store.Prune(r.cfg.HistoryKeep); err != nil {
			logging.Warn("Pruning run history failed: %v", err)
		}
	}
}

func abortedResult(spec compare.TableSpec, err error) *compare.TableResult {
	return &compare.TableResult{
		Spec:   spec,
		Status: compare.StatusAborted,
		Err:    err.Error(),
	}
}

func roleSchema(s *secrets.DBSecret) string {
	if s.Schema != "" {
		return s.Schema
	}
	if f, err := adapter.Lookup(s.Type); err == nil {
		return f.DefaultSchema()
	}
	return ""
}

func worstSeverity(rep *report.Report) string {
	rank := map[compare.Severity]int{
		compare.SeverityLow:      1,
		compare.SeverityMedium:   2,
		compare.SeverityHigh:     3,
		compare.SeverityCritical: 4,
	}
	worst := compare.Severity("")
	for _, t := range rep.Tables {
		if rank[t.Severity] > rank[worst] {
			worst = t.Severity
		}
	}
	if worst == "" {
		return "NONE"
	}
	return string(worst)
}

// runObserver fans comparison callbacks out to the metrics collector
// and the optional progress bar.
type runObserver struct {
	metrics *monitor.RunMetrics
	tracker *progress.Tracker
}

func (o runObserver) TableCounted(sourceRows, targetRows int64) {
	if o.tracker != nil {
		// RowsCompared reports both sides, so the total counts both too.
		o.tracker.AddTotal(sourceRows + targetRows)
	}
}

func (o runObserver) RowsCompared(n int64) {
	o.metrics.RowsCompared(n)
	if o.tracker != nil {
		o.tracker.Add(n)
	}
}

func (o runObserver) ChunkScanned() { o.metrics.ChunkScanned() }

func (o runObserver) DiscrepanciesFound(n int) { o.metrics.DiscrepanciesFound(n) }
