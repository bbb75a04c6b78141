// Package report aggregates per-table comparison results into a single
// reconciliation report and renders it as JSON, CSV, or console text.
package report

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdalton/dbrecon/internal/compare"
)

// TableEntry is the per-table section of a finalized report.
type TableEntry struct {
	SourceTable    string                 `json:"sourceTable"`
	TargetTable    string                 `json:"targetTable"`
	Status         compare.Status         `json:"status"`
	Severity       compare.Severity       `json:"severity,omitempty"`
	RowCount       compare.RowCountResult `json:"rowCount"`
	Discrepancies  []compare.Discrepancy  `json:"discrepancies"`
	Recommendation string                 `json:"recommendation,omitempty"`
	Error          string                 `json:"error,omitempty"`
	ChunksScanned  int                    `json:"chunksScanned"`
	RowsCompared   int64                  `json:"rowsCompared"`
	DurationMS     int64                  `json:"durationMs"`
}

// Summary holds the run-level counts.
type Summary struct {
	TotalTables             int `json:"totalTables"`
	TablesOK                int `json:"tablesOk"`
	TablesWithDiscrepancies int `json:"tablesWithDiscrepancies"`
	TablesAborted           int `json:"tablesAborted"`
	TotalDiscrepancies      int `json:"totalDiscrepancies"`
}

// Report is the immutable output of one reconciliation run.
type Report struct {
	ReportID    string       `json:"reportId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Tables      []TableEntry `json:"tables"`
	Summary     Summary      `json:"summary"`
	Aborted     bool         `json:"aborted,omitempty"`
}

// Builder collects table results as workers finish. Results may arrive
// in any order; Finalize emits them in the order the tables were
// submitted, so reports stay stable across runs regardless of worker
// completion order.
type Builder struct {
	mu      sync.Mutex
	id      string
	order   []string
	results map[string]*compare.TableResult
	aborted bool
}

// NewBuilder creates a builder for the given tables in submission order.
func NewBuilder(tables []string) *Builder {
	return &Builder{
		id:      uuid.NewString(),
		order:   tables,
		results: make(map[string]*compare.TableResult, len(tables)),
	}
}

func (b *Builder) ID() string { return b.id }

// Add records one finished table comparison. Safe for concurrent use.
func (b *Builder) Add(res *compare.TableResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[res.Spec.Name()] = res
}

// MarkAborted marks the run as interrupted. The partial report remains
// readable but is explicitly flagged so it cannot pass as clean.
func (b *Builder) MarkAborted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
}

// Finalize assembles the report. Tables that never produced a result
// (for example after cancellation) appear as ABORTED entries.
func (b *Builder) Finalize() *Report {
	b.mu.Lock()
	defer b.mu.Unlock()

	rep := &Report{
		ReportID:    b.id,
		GeneratedAt: time.Now().UTC(),
		Tables:      make([]TableEntry, 0, len(b.order)),
		Aborted:     b.aborted,
	}

	for _, name := range b.order {
		res, ok := b.results[name]
		if !ok {
			rep.Tables = append(rep.Tables, TableEntry{
				SourceTable:    name,
				TargetTable:    name,
				Status:         compare.StatusAborted,
				Discrepancies:  []compare.Discrepancy{},
				Recommendation: "comparison did not run; see run logs",
			})
			continue
		}

		entry := TableEntry{
			SourceTable:    res.Spec.Source.FullName(),
			TargetTable:    res.Spec.Target.FullName(),
			Status:         res.Status,
			Severity:       res.Severity,
			RowCount:       res.RowCount,
			Discrepancies:  res.Discrepancies,
			Recommendation: recommend(res),
			Error:          res.Err,
			ChunksScanned:  res.ChunksScanned,
			RowsCompared:   res.RowsCompared,
			DurationMS:     res.Duration.Milliseconds(),
		}
		if entry.Discrepancies == nil {
			entry.Discrepancies = []compare.Discrepancy{}
		}
		rep.Tables = append(rep.Tables, entry)
	}

	for _, entry := range rep.Tables {
		rep.Summary.TotalTables++
		switch entry.Status {
		case compare.StatusOK, compare.StatusNoData:
			rep.Summary.TablesOK++
		case compare.StatusAborted:
			// Could not be compared at all; distinct from a mismatch.
			rep.Summary.TablesAborted++
		default:
			rep.Summary.TablesWithDiscrepancies++
		}
		rep.Summary.TotalDiscrepancies += len(entry.Discrepancies)
	}
	return rep
}

// recommend derives a short remediation hint from the table outcome.
func recommend(res *compare.TableResult) string {
	switch res.Status {
	case compare.StatusOK:
		return ""
	case compare.StatusNoData:
		return "both tables are empty for the compared window; verify the table mapping"
	case compare.StatusAborted:
		return "comparison failed before completing; fix the reported error and re-run"
	}

	var hasValue, hasMissingTarget, hasMissingSource bool
	for _, d := range res.Discrepancies {
		switch d.Kind {
		case compare.KindValueMismatch:
			hasValue = true
		case compare.KindMissingInTarget:
			hasMissingTarget = true
		case compare.KindMissingInSource:
			hasMissingSource = true
		}
	}

	switch {
	case res.Status == compare.StatusCritical:
		return "divergence exceeds 10% of rows; verify the initial load and job configuration before trusting either side"
	case hasValue:
		return "check type conversion and schema drift between the engines"
	case hasMissingTarget:
		return "check replication lag and connector status; rows have not reached the target"
	case hasMissingSource:
		return "target holds rows absent at the source; check for writes bypassing replication or missed deletes"
	default:
		return fmt.Sprintf("row counts differ by %d; re-run with checksums enabled to localize the drift",
			res.RowCount.Difference)
	}
}

// ExitCode maps a finalized report to the process exit code: 0 when
// every table is OK or NO_DATA, 1 otherwise.
func ExitCode(rep *Report) int {
	if rep.Aborted {
		return 1
	}
	for _, entry := range rep.Tables {
		switch entry.Status {
		case compare.StatusOK, compare.StatusNoData:
		default:
			return 1
		}
	}
	return 0
}
