// Package history persists finished reconciliation reports in a local
// SQLite database so past runs can be listed and re-rendered without
// re-querying the databases.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tdalton/dbrecon/internal/report"
)

// ErrRunNotFound is returned by GetRun for unknown report IDs.
var ErrRunNotFound = errors.New("run not found")

// Run statuses as stored.
const (
	StatusClean         = "clean"
	StatusDiscrepancies = "discrepancies"
	StatusAborted       = "aborted"
)

// RunRecord is one row of the runs table, without the report body.
type RunRecord struct {
	ReportID                string
	StartedAt               time.Time
	FinishedAt              time.Time
	Status                  string
	TotalTables             int
	TablesOK                int
	TablesWithDiscrepancies int
	TotalDiscrepancies      int
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	report_id                 TEXT PRIMARY KEY,
	started_at                TEXT NOT NULL,
	finished_at               TEXT NOT NULL,
	status                    TEXT NOT NULL,
	total_tables              INTEGER NOT NULL,
	tables_ok                 INTEGER NOT NULL,
	tables_with_discrepancies INTEGER NOT NULL,
	total_discrepancies       INTEGER NOT NULL,
	report_json               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Open creates or opens the history database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db %s: %w", path, err)
	}
	// SQLite handles one writer at a time; the store is only written
	// from the orchestrator goroutine anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport stores a finalized report.
func (s *Store) SaveReport(rep *report.Report, startedAt time.Time) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding report %s: %w", rep.ReportID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (report_id, started_at, finished_at, status,
			total_tables, tables_ok, tables_with_discrepancies, total_discrepancies, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ReportID,
		startedAt.UTC().Format(time.RFC3339Nano),
		rep.GeneratedAt.UTC().Format(time.RFC3339Nano),
		runStatus(rep),
		rep.Summary.TotalTables,
		rep.Summary.TablesOK,
		rep.Summary.TablesWithDiscrepancies,
		rep.Summary.TotalDiscrepancies,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", rep.ReportID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT report_id, started_at, finished_at, status,
			total_tables, tables_ok, tables_with_discrepancies, total_discrepancies
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var started, finished string
		if err := rows.Scan(&rec.ReportID, &started, &finished, &rec.Status,
			&rec.TotalTables, &rec.TablesOK, &rec.TablesWithDiscrepancies, &rec.TotalDiscrepancies); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRun loads a stored report by its ID.
func (s *Store) GetRun(reportID string) (*report.Report, error) {
	var body string
	err := s.db.QueryRow(`SELECT report_json FROM runs WHERE report_id = ?`, reportID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", reportID, err)
	}

	var rep report.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", reportID, err)
	}
	return &rep, nil
}

// Prune deletes all but the newest keep runs.
func (s *Store) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM runs WHERE report_id NOT IN (
			SELECT report_id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}

func runStatus(rep *report.Report) string {
	switch {
	case rep.Aborted:
		return StatusAborted
	case rep.Summary.TablesWithDiscrepancies > 0:
		return StatusDiscrepancies
	case rep.Summary.TablesAborted > 0:
		return StatusAborted
	default:
		return StatusClean
	}
}
