// Package progress renders a terminal progress bar for interactive runs.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks rows compared across all tables of a run. The expected
// total grows as each table's row-count phase completes, since counts
// are not known up front.
type Tracker struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a new progress tracker.
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
	}
}

// AddTotal grows the expected number of rows. The bar is created on the
// first call; later calls extend its maximum. Safe for concurrent use by
// table workers.
func (t *Tracker) AddTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += n
	if t.bar == nil {
		t.bar = progressbar.NewOptions64(
			t.total,
			progressbar.OptionSetDescription("Comparing"),
			progressbar.OptionShowBytes(false),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
		return
	}
	t.bar.ChangeMax64(t.total)
}

// Total returns the expected row count accumulated so far.
func (t *Tracker) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Add increments the progress counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the current count.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish completes the bar and prints the throughput line.
func (t *Tracker) Finish() {
	t.mu.Lock()
	if t.bar != nil {
		t.bar.Finish()
	}
	t.mu.Unlock()

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Compared %d rows in %s (%.0f rows/sec)\n",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
