package compare

import "time"

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// severityForRatio maps the fraction of affected rows to a severity
// band. The denominator is the source row count; an empty source with
// target-only rows is treated as fully divergent.
func severityForRatio(affected, sourceRows int64) Severity {
	if affected == 0 {
		return SeverityLow
	}
	if sourceRows <= 0 {
		return SeverityCritical
	}
	ratio := float64(affected) / float64(sourceRows)
	switch {
	case ratio < 0.001:
		return SeverityLow
	case ratio < 0.01:
		return SeverityMedium
	case ratio < 0.1:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// finalize derives the table status and severity from the accumulated
// discrepancies. Runs after expansion, so every flagged chunk has been
// resolved into row-level findings or the chunk finding itself stands.
func (c *Comparator) finalize(res *TableResult) {
	if res.Status == StatusAborted || res.Status == StatusNoData {
		return
	}

	// Counts disagreed but the scan localized nothing, for example when
	// the divergence sits inside the tolerance window. The count result
	// itself is still reportable.
	if len(res.Discrepancies) == 0 && !res.RowCount.Matched {
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Table:      res.Spec.Name(),
			Kind:       KindRowCountMismatch,
			DetectedAt: time.Now().UTC(),
		})
	}

	if len(res.Discrepancies) == 0 {
		res.Status = StatusOK
		res.Severity = ""
		return
	}

	affected := int64(0)
	hasValueMismatch := false
	hasRowLevel := false
	for _, d := range res.Discrepancies {
		switch d.Kind {
		case KindValueMismatch:
			hasValueMismatch = true
			hasRowLevel = true
			affected++
		case KindMissingInSource, KindMissingInTarget:
			hasRowLevel = true
			affected++
		}
	}
	if affected == 0 {
		// Only count-level findings; size the severity on the spread.
		diff := res.RowCount.Difference
		if diff < 0 {
			diff = -diff
		}
		affected = diff
	}

	sev := severityForRatio(affected, res.RowCount.SourceCount)
	// A divergent value on a row both sides agree exists points at data
	// corruption rather than replication lag, so it is never graded
	// below HIGH when the cardinalities match.
	if hasValueMismatch && res.RowCount.Matched && severityRank[sev] < severityRank[SeverityHigh] {
		sev = SeverityHigh
	}
	res.Severity = sev
	for i := range res.Discrepancies {
		if res.Discrepancies[i].Severity == "" {
			res.Discrepancies[i].Severity = sev
		}
	}

	switch {
	case sev == SeverityCritical:
		res.Status = StatusCritical
	case hasRowLevel || len(res.FlaggedChunks) > 0:
		res.Status = StatusChecksumMismatch
	default:
		res.Status = StatusRowCountMismatch
	}
}
