package monitor

import (
	"sync"
	"testing"
	"time"
)

func TestRunMetricsCounters(t *testing.T) {
	m := NewRunMetrics(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RowsCompared(10)
				m.ChunkScanned()
				m.DiscrepanciesFound(1)
			}
		}()
	}
	wg.Wait()

	if got := m.TotalRowsCompared(); got != 8000 {
		t.Errorf("rows compared = %d, want 8000", got)
	}
	if got := m.TotalChunksScanned(); got != 800 {
		t.Errorf("chunks scanned = %d, want 800", got)
	}
	if got := m.TotalDiscrepancies(); got != 800 {
		t.Errorf("discrepancies = %d, want 800", got)
	}
}

func TestRunMetricsSnapshot(t *testing.T) {
	m := NewRunMetrics(time.Minute)
	m.RowsCompared(5000)
	m.ChunkScanned()

	m.collect()
	snaps := m.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.RowsCompared != 5000 {
		t.Errorf("snapshot rows = %d, want 5000", snap.RowsCompared)
	}
	if snap.ChunksScanned != 1 {
		t.Errorf("snapshot chunks = %d, want 1", snap.ChunksScanned)
	}
	if snap.Throughput <= 0 {
		t.Error("throughput must be positive once rows were counted")
	}
}
