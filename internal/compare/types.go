// Package compare implements the chunked table comparison engine and the
// discrepancy classifier. It is written entirely against the adapter
// interface and contains no engine-specific code.
package compare

import (
	"time"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/checksum"
)

// Kind identifies what a discrepancy is.
type Kind string

const (
	KindRowCountMismatch Kind = "ROW_COUNT_MISMATCH"
	KindChecksumMismatch Kind = "CHECKSUM_MISMATCH"
	KindMissingInTarget  Kind = "MISSING_IN_TARGET"
	KindMissingInSource  Kind = "MISSING_IN_SOURCE"
	KindValueMismatch    Kind = "VALUE_MISMATCH"
)

// Severity ranks how bad a table's drift is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the overall verdict for one table comparison.
type Status string

const (
	StatusOK               Status = "OK"
	StatusRowCountMismatch Status = "ROW_COUNT_MISMATCH"
	StatusChecksumMismatch Status = "CHECKSUM_MISMATCH"
	StatusCritical         Status = "CRITICAL"
	StatusNoData           Status = "NO_DATA"
	StatusAborted          Status = "ABORTED"
)

// TableSpec is the immutable input for one table comparison.
type TableSpec struct {
	Source adapter.Table `yaml:"-" json:"sourceTable"`
	Target adapter.Table `yaml:"-" json:"targetTable"`

	// PKColumns must form a total order usable for deterministic
	// pagination: ascending, unique, non-empty.
	PKColumns []string

	// Columns to compare. Empty means the intersection of both schemas.
	Columns []string

	// ChunkSize is the pagination unit; the single tuning knob trading
	// diagnosis granularity against round-trip count.
	ChunkSize int

	// Checksum enables the chunk scan even when row counts match.
	Checksum bool

	// ToleranceWindow excludes rows newer than this duration, via
	// ToleranceColumn, to avoid false positives from replication lag.
	ToleranceWindow time.Duration
	ToleranceColumn string

	// IgnoreTrailing drops trailing rows on the longer side instead of
	// reporting them as missing. Off by default: with no tolerance
	// window configured, trailing rows are reported.
	IgnoreTrailing bool
}

// DefaultChunkSize is used when a spec does not set one.
const DefaultChunkSize = 5000

// Name returns a stable human-readable identifier for the comparison.
func (s *TableSpec) Name() string {
	if s.Source.FullName() == s.Target.FullName() {
		return s.Source.FullName()
	}
	return s.Source.FullName() + "=" + s.Target.FullName()
}

// RowCountResult is the outcome of the row count phase.
type RowCountResult struct {
	Table       string `json:"table"`
	SourceCount int64  `json:"source"`
	TargetCount int64  `json:"target"`
	Difference  int64  `json:"difference"` // target - source
	Matched     bool   `json:"matched"`
}

// NewRowCountResult derives the difference and matched fields, keeping
// the invariant difference == target - source in one place.
func NewRowCountResult(table string, source, target int64) RowCountResult {
	return RowCountResult{
		Table:       table,
		SourceCount: source,
		TargetCount: target,
		Difference:  target - source,
		Matched:     target == source,
	}
}

// ChunkChecksum records one scanned chunk. A chunk whose digests or row
// counts disagree is flagged for row-level expansion.
type ChunkChecksum struct {
	Index        int
	StartKey     adapter.Key // exclusive lower bound; nil = table start
	EndKey       adapter.Key // inclusive upper bound; nil = table end
	SourceDigest checksum.Digest
	TargetDigest checksum.Digest
	SourceRows   int
	TargetRows   int
}

// Mismatched reports whether the chunk needs row-level expansion.
func (c *ChunkChecksum) Mismatched() bool {
	return c.SourceRows != c.TargetRows || c.SourceDigest != c.TargetDigest
}

// Discrepancy is a single detected disagreement between source and target.
// Discrepancies are append-only facts scoped to one run.
type Discrepancy struct {
	Table        string         `json:"table"`
	Kind         Kind           `json:"kind"`
	Severity     Severity       `json:"severity"`
	PrimaryKey   map[string]any `json:"primaryKey,omitempty"`   // absent for table-level kinds
	SourceValues map[string]any `json:"sourceValues,omitempty"` // populated for VALUE_MISMATCH
	TargetValues map[string]any `json:"targetValues,omitempty"`
	DetectedAt   time.Time      `json:"detectedAt"`
}

// TableResult is the complete outcome of one table comparison.
type TableResult struct {
	Spec          TableSpec
	Status        Status
	Severity      Severity
	RowCount      RowCountResult
	FlaggedChunks []ChunkChecksum
	Discrepancies []Discrepancy
	ChunksScanned int
	RowsCompared  int64
	Duration      time.Duration

	// Err holds the cause when Status is ABORTED. An aborted table was
	// not fully checked; it is an operational failure of the audit, not
	// a data finding, and the two are never conflated.
	Err string
}

// Clean reports whether the table needs no attention at all.
func (r *TableResult) Clean() bool {
	return r.Status == StatusOK || r.Status == StatusNoData
}

// Observer receives engine progress events. All methods may be called
// concurrently from multiple table workers.
type Observer interface {
	// TableCounted reports the row counts of a table about to be
	// scanned, so progress displays can grow their expected total.
	TableCounted(sourceRows, targetRows int64)
	RowsCompared(n int64)
	ChunkScanned()
	DiscrepanciesFound(n int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) TableCounted(int64, int64) {}
func (NopObserver) RowsCompared(int64)        {}
func (NopObserver) ChunkScanned()             {}
func (NopObserver) DiscrepanciesFound(int)    {}
