// Package monitor collects run metrics: comparison counters updated by
// the workers and periodic resource snapshots during long scans.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/tdalton/dbrecon/internal/logging"
)

// Snapshot captures a single measurement of run performance.
type Snapshot struct {
	Timestamp      time.Time
	ElapsedSeconds float64
	RowsCompared   int64
	ChunksScanned  int64
	Discrepancies  int64
	Throughput     float64 // rows/sec

	MemoryUsedMB int64
	CPUPercent   float64
}

// RunMetrics accumulates counters from concurrent workers and, when
// started, samples resource usage at a fixed interval. It implements
// the comparison engine's observer interface.
type RunMetrics struct {
	startTime time.Time
	interval  time.Duration

	rowsCompared  atomic.Int64
	chunksScanned atomic.Int64
	discrepancies atomic.Int64
	tablesDone    atomic.Int64

	mu        sync.RWMutex
	snapshots []Snapshot
}

// NewRunMetrics creates a collector sampling at the given interval.
func NewRunMetrics(interval time.Duration) *RunMetrics {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RunMetrics{
		startTime: time.Now(),
		interval:  interval,
		snapshots: make([]Snapshot, 0, 64),
	}
}

func (m *RunMetrics) RowsCompared(n int64) { m.rowsCompared.Add(n) }

func (m *RunMetrics) ChunkScanned() { m.chunksScanned.Add(1) }

func (m *RunMetrics) DiscrepanciesFound(n int) { m.discrepancies.Add(int64(n)) }

func (m *RunMetrics) TableCompleted() { m.tablesDone.Add(1) }

func (m *RunMetrics) TotalRowsCompared() int64 { return m.rowsCompared.Load() }

func (m *RunMetrics) TotalChunksScanned() int64 { return m.chunksScanned.Load() }

func (m *RunMetrics) TotalDiscrepancies() int64 { return m.discrepancies.Load() }

// Start samples until the context is cancelled. Run it in its own
// goroutine alongside the workers.
func (m *RunMetrics) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-ctx.Done():
			return
		}
	}
}

func (m *RunMetrics) collect() {
	snap := Snapshot{
		Timestamp:      time.Now(),
		ElapsedSeconds: time.Since(m.startTime).Seconds(),
		RowsCompared:   m.rowsCompared.Load(),
		ChunksScanned:  m.chunksScanned.Load(),
		Discrepancies:  m.discrepancies.Load(),
	}
	if snap.ElapsedSeconds > 0 {
		snap.Throughput = float64(snap.RowsCompared) / snap.ElapsedSeconds
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.MemoryUsedMB = int64(ms.Alloc / 1024 / 1024)

	// Needs a short measurement window.
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	m.mu.Unlock()

	logging.Debug("Metrics snapshot: %.0f rows/sec, %d chunks, %d discrepancies, memory=%dMB, CPU=%.1f%%",
		snap.Throughput, snap.ChunksScanned, snap.Discrepancies, snap.MemoryUsedMB, snap.CPUPercent)
}

// Snapshots returns a copy of everything collected so far.
func (m *RunMetrics) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// LogSummary writes the run totals at completion.
func (m *RunMetrics) LogSummary(outcome string) {
	elapsed := time.Since(m.startTime)
	rows := m.rowsCompared.Load()
	throughput := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(rows) / secs
	}
	logging.Info("Run %s: %d tables, %d rows compared, %d chunks, %d discrepancies in %s (%.0f rows/sec)",
		outcome, m.tablesDone.Load(), rows, m.chunksScanned.Load(),
		m.discrepancies.Load(), elapsed.Round(time.Millisecond), throughput)
}
