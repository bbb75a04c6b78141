package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/compare"
)

func tableResult(name string, status compare.Status) *compare.TableResult {
	return &compare.TableResult{
		Spec: compare.TableSpec{
			Source:    adapter.Table{Schema: "public", Name: name},
			Target:    adapter.Table{Schema: "public", Name: name},
			PKColumns: []string{"id"},
		},
		Status:   status,
		RowCount: compare.NewRowCountResult("public."+name, 100, 100),
	}
}

func TestBuilderPreservesSubmissionOrder(t *testing.T) {
	b := NewBuilder([]string{"public.orders", "public.users", "public.items"})
	// Workers finish in a different order than submission.
	b.Add(tableResult("items", compare.StatusOK))
	b.Add(tableResult("orders", compare.StatusOK))
	b.Add(tableResult("users", compare.StatusOK))

	rep := b.Finalize()
	want := []string{"public.orders", "public.users", "public.items"}
	for i, name := range want {
		if rep.Tables[i].SourceTable != name {
			t.Errorf("table %d = %s, want %s", i, rep.Tables[i].SourceTable, name)
		}
	}
}

func TestBuilderSummary(t *testing.T) {
	b := NewBuilder([]string{"public.a", "public.b", "public.c", "public.d"})
	b.Add(tableResult("a", compare.StatusOK))
	b.Add(tableResult("b", compare.StatusNoData))

	bad := tableResult("c", compare.StatusChecksumMismatch)
	bad.Severity = compare.SeverityLow
	bad.Discrepancies = []compare.Discrepancy{
		{Table: "public.c", Kind: compare.KindMissingInTarget, PrimaryKey: map[string]any{"id": int64(5)}},
		{Table: "public.c", Kind: compare.KindValueMismatch, PrimaryKey: map[string]any{"id": int64(9)}},
	}
	b.Add(bad)

	aborted := tableResult("d", compare.StatusAborted)
	aborted.Err = "dial tcp: connection refused"
	b.Add(aborted)

	rep := b.Finalize()
	if rep.Summary.TotalTables != 4 {
		t.Errorf("totalTables = %d, want 4", rep.Summary.TotalTables)
	}
	if rep.Summary.TablesOK != 2 {
		t.Errorf("tablesOk = %d, want 2 (OK and NO_DATA)", rep.Summary.TablesOK)
	}
	if rep.Summary.TablesWithDiscrepancies != 1 {
		t.Errorf("tablesWithDiscrepancies = %d, want 1 (aborted counts separately)", rep.Summary.TablesWithDiscrepancies)
	}
	if rep.Summary.TablesAborted != 1 {
		t.Errorf("tablesAborted = %d, want 1", rep.Summary.TablesAborted)
	}
	if rep.Summary.TotalDiscrepancies != 2 {
		t.Errorf("totalDiscrepancies = %d, want 2", rep.Summary.TotalDiscrepancies)
	}
	if ExitCode(rep) != 1 {
		t.Error("exit code must be 1 when any table is not clean")
	}
}

func TestBuilderMissingResultBecomesAborted(t *testing.T) {
	b := NewBuilder([]string{"public.a", "public.b"})
	b.Add(tableResult("a", compare.StatusOK))
	b.MarkAborted()

	rep := b.Finalize()
	if !rep.Aborted {
		t.Error("report must carry the aborted marker")
	}
	if rep.Tables[1].Status != compare.StatusAborted {
		t.Errorf("missing table status = %s, want ABORTED", rep.Tables[1].Status)
	}
	if ExitCode(rep) != 1 {
		t.Error("aborted run must exit 1")
	}
}

func TestExitCodeCleanRun(t *testing.T) {
	b := NewBuilder([]string{"public.a", "public.b"})
	b.Add(tableResult("a", compare.StatusOK))
	b.Add(tableResult("b", compare.StatusNoData))
	if code := ExitCode(b.Finalize()); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestWriteJSONFieldNames(t *testing.T) {
	b := NewBuilder([]string{"public.users"})
	res := tableResult("users", compare.StatusChecksumMismatch)
	res.Severity = compare.SeverityHigh
	res.Discrepancies = []compare.Discrepancy{{
		Table:        "public.users",
		Kind:         compare.KindValueMismatch,
		Severity:     compare.SeverityHigh,
		PrimaryKey:   map[string]any{"id": int64(7)},
		SourceValues: map[string]any{"name": "a"},
		TargetValues: map[string]any{"name": "b"},
		DetectedAt:   time.Now().UTC(),
	}}
	b.Add(res)

	var buf bytes.Buffer
	if err := WriteJSON(&buf, b.Finalize()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	for _, field := range []string{"reportId", "generatedAt", "tables", "summary"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing top-level field %q", field)
		}
	}

	table := decoded["tables"].([]any)[0].(map[string]any)
	for _, field := range []string{"sourceTable", "targetTable", "status", "rowCount", "discrepancies"} {
		if _, ok := table[field]; !ok {
			t.Errorf("missing table field %q", field)
		}
	}
	rowCount := table["rowCount"].(map[string]any)
	for _, field := range []string{"source", "target", "difference", "matched"} {
		if _, ok := rowCount[field]; !ok {
			t.Errorf("missing rowCount field %q", field)
		}
	}
	disc := table["discrepancies"].([]any)[0].(map[string]any)
	for _, field := range []string{"kind", "severity", "primaryKey", "sourceValues", "targetValues"} {
		if _, ok := disc[field]; !ok {
			t.Errorf("missing discrepancy field %q", field)
		}
	}

	summary := decoded["summary"].(map[string]any)
	for _, field := range []string{"totalTables", "tablesOk", "tablesWithDiscrepancies", "tablesAborted", "totalDiscrepancies"} {
		if _, ok := summary[field]; !ok {
			t.Errorf("missing summary field %q", field)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	b := NewBuilder([]string{"public.clean", "public.broken"})
	b.Add(tableResult("clean", compare.StatusOK))

	bad := tableResult("broken", compare.StatusChecksumMismatch)
	bad.Discrepancies = []compare.Discrepancy{
		{Kind: compare.KindMissingInTarget, PrimaryKey: map[string]any{"id": int64(1)}},
		{Kind: compare.KindMissingInTarget, PrimaryKey: map[string]any{"id": int64(2)}},
	}
	b.Add(bad)

	var buf bytes.Buffer
	if err := WriteCSV(&buf, b.Finalize()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv output: %v", err)
	}
	// Header, one row for the clean table, one per discrepancy.
	if len(records) != 4 {
		t.Fatalf("got %d csv records, want 4", len(records))
	}
	if records[2][8] != "MISSING_IN_TARGET" || records[2][9] != "(id=1)" {
		t.Errorf("unexpected discrepancy row: %v", records[2])
	}
}

func TestWriteConsole(t *testing.T) {
	b := NewBuilder([]string{"public.users"})
	bad := tableResult("users", compare.StatusChecksumMismatch)
	bad.Severity = compare.SeverityLow
	bad.Discrepancies = []compare.Discrepancy{{
		Kind:         compare.KindValueMismatch,
		PrimaryKey:   map[string]any{"id": int64(7)},
		SourceValues: map[string]any{"name": "a"},
		TargetValues: map[string]any{"name": "b"},
	}}
	b.Add(bad)
	b.MarkAborted()

	var buf bytes.Buffer
	if err := WriteConsole(&buf, b.Finalize()); err != nil {
		t.Fatalf("WriteConsole: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"RUN ABORTED",
		"CHECKSUM_MISMATCH [LOW]",
		"VALUE_MISMATCH (id=7)",
		"name: a != b",
		"Summary: 1 tables, 0 ok, 1 with discrepancies, 1 discrepancies total",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}
