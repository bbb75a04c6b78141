package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteJSON renders the machine-readable form. Field names are part of
// the output contract and must not change between releases.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// WriteCSV renders one row per discrepancy; tables without findings get
// a single row so every table appears in the file.
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)
	header := []string{
		"report_id", "source_table", "target_table", "status", "severity",
		"source_count", "target_count", "difference",
		"kind", "primary_key", "recommendation",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, entry := range rep.Tables {
		base := []string{
			rep.ReportID, entry.SourceTable, entry.TargetTable,
			string(entry.Status), string(entry.Severity),
			fmt.Sprintf("%d", entry.RowCount.SourceCount),
			fmt.Sprintf("%d", entry.RowCount.TargetCount),
			fmt.Sprintf("%d", entry.RowCount.Difference),
		}
		if len(entry.Discrepancies) == 0 {
			if err := cw.Write(append(base, "", "", entry.Recommendation)); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
			continue
		}
		for _, d := range entry.Discrepancies {
			row := append(append([]string{}, base...),
				string(d.Kind), formatKey(d.PrimaryKey), entry.Recommendation)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteConsole renders the human-readable form.
func WriteConsole(w io.Writer, rep *Report) error {
	fmt.Fprintf(w, "Reconciliation report %s (%s)\n", rep.ReportID, rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	if rep.Aborted {
		fmt.Fprintln(w, "*** RUN ABORTED: results below are incomplete ***")
	}
	fmt.Fprintln(w)

	for _, entry := range rep.Tables {
		status := string(entry.Status)
		if entry.Severity != "" {
			status += " [" + string(entry.Severity) + "]"
		}
		fmt.Fprintf(w, "%-40s %s\n", entry.SourceTable+" -> "+entry.TargetTable, status)
		fmt.Fprintf(w, "  rows: source=%d target=%d diff=%+d  chunks=%d  compared=%d  %dms\n",
			entry.RowCount.SourceCount, entry.RowCount.TargetCount, entry.RowCount.Difference,
			entry.ChunksScanned, entry.RowsCompared, entry.DurationMS)
		if entry.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", entry.Error)
		}

		shown := entry.Discrepancies
		const maxShown = 20
		truncated := 0
		if len(shown) > maxShown {
			truncated = len(shown) - maxShown
			shown = shown[:maxShown]
		}
		for _, d := range shown {
			line := "  - " + string(d.Kind)
			if key := formatKey(d.PrimaryKey); key != "" {
				line += " " + key
			}
			if d.Kind == "VALUE_MISMATCH" && len(d.SourceValues) > 0 {
				line += " " + formatValues(d.SourceValues, d.TargetValues)
			}
			fmt.Fprintln(w, line)
		}
		if truncated > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", truncated)
		}
		if entry.Recommendation != "" {
			fmt.Fprintf(w, "  hint: %s\n", entry.Recommendation)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Summary: %d tables, %d ok, %d with discrepancies, %d aborted, %d discrepancies total\n",
		rep.Summary.TotalTables, rep.Summary.TablesOK,
		rep.Summary.TablesWithDiscrepancies, rep.Summary.TablesAborted,
		rep.Summary.TotalDiscrepancies)
	return nil
}

// formatKey renders a primary key map with sorted column names so the
// same key always prints the same way.
func formatKey(pk map[string]any) string {
	if len(pk) == 0 {
		return ""
	}
	names := make([]string, 0, len(pk))
	for name := range pk {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, pk[name])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValues(src, tgt map[string]any) string {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v != %v", name, src[name], tgt[name])
	}
	return strings.Join(parts, "; ")
}
