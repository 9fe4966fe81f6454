package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id             TEXT PRIMARY KEY,
	capture_id         TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL DEFAULT '',
	started_at         INTEGER NOT NULL,
	duration_ms        INTEGER NOT NULL DEFAULT 0,
	exit_code          INTEGER NOT NULL,
	outcome            TEXT NOT NULL DEFAULT '',
	tool               TEXT NOT NULL DEFAULT '',
	reason             TEXT NOT NULL DEFAULT '',
	guard              TEXT NOT NULL DEFAULT '',
	correction_type    INTEGER NOT NULL DEFAULT 0,
	error_kind         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	completion_percent REAL NOT NULL DEFAULT 0,
	fields_verified    INTEGER NOT NULL DEFAULT 0,
	failed_fields      TEXT NOT NULL DEFAULT '[]',
	skipped_fields     TEXT NOT NULL DEFAULT '[]',
	decision           TEXT,
	report             TEXT
);
CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
`

const sqliteSelect = `
SELECT
	run_id, capture_id, source, started_at, duration_ms, exit_code,
	outcome, tool, reason, guard, correction_type,
	error_kind, error_message, completion_percent, fields_verified,
	failed_fields, skipped_fields, decision, report
FROM runs
`

// SQLiteRecorder keeps the audit trail in a local SQLite file. It is the
// default for operators running the CLI on a workstation.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens path (":memory:" for an in-process database) and
// creates the runs table.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

// RecordRun inserts rec, replacing any earlier row for the same run.
func (s *SQLiteRecorder) RecordRun(ctx context.Context, rec *RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}

	failed, err := json.Marshal(nonNil(rec.FailedFields))
	if err != nil {
		return fmt.Errorf("encode failed fields: %w", err)
	}
	skipped, err := json.Marshal(nonNil(rec.SkippedFields))
	if err != nil {
		return fmt.Errorf("encode skipped fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (
	run_id, capture_id, source, started_at, duration_ms, exit_code,
	outcome, tool, reason, guard, correction_type,
	error_kind, error_message, completion_percent, fields_verified,
	failed_fields, skipped_fields, decision, report
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.RunID, rec.CaptureID, rec.Source, rec.StartedAt.UTC().UnixMilli(), rec.DurationMs, rec.ExitCode,
		rec.Outcome, rec.Tool, rec.Reason, rec.Guard, rec.CorrectionType,
		rec.ErrorKind, rec.ErrorMessage, rec.CompletionPercent, rec.FieldsVerified,
		string(failed), string(skipped), nullJSON(rec.Decision), nullJSON(rec.Report),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *SQLiteRecorder) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	rec, err := scanSQLiteRun(s.db.QueryRowContext(ctx, sqliteSelect+`WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// RecentRuns lists runs newest first.
func (s *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+`ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanSQLiteRun(row rowScanner) (*RunRecord, error) {
	var (
		rec              RunRecord
		startedAt        int64
		failed, skipped  string
		decision, report sql.NullString
	)
	err := row.Scan(
		&rec.RunID, &rec.CaptureID, &rec.Source, &startedAt, &rec.DurationMs, &rec.ExitCode,
		&rec.Outcome, &rec.Tool, &rec.Reason, &rec.Guard, &rec.CorrectionType,
		&rec.ErrorKind, &rec.ErrorMessage, &rec.CompletionPercent, &rec.FieldsVerified,
		&failed, &skipped, &decision, &report,
	)
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	if err := json.Unmarshal([]byte(failed), &rec.FailedFields); err != nil {
		return nil, fmt.Errorf("decode failed fields: %w", err)
	}
	if err := json.Unmarshal([]byte(skipped), &rec.SkippedFields); err != nil {
		return nil, fmt.Errorf("decode skipped fields: %w", err)
	}
	if decision.Valid {
		rec.Decision = []byte(decision.String)
	}
	if report.Valid {
		rec.Report = []byte(report.String)
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Ping checks the database handle.
func (s *SQLiteRecorder) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the SQLite connection.
func (s *SQLiteRecorder) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
