/**
 * PostgreSQL audit recorder
 *
 * Stores one row per pipeline run in pnrfill.runs.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS pnrfill;
CREATE TABLE IF NOT EXISTS pnrfill.runs (
	run_id             uuid PRIMARY KEY,
	capture_id         text NOT NULL DEFAULT '',
	source             text NOT NULL DEFAULT '',
	started_at         timestamptz NOT NULL,
	duration_ms        bigint NOT NULL DEFAULT 0,
	exit_code          smallint NOT NULL,
	outcome            text,
	tool               text,
	reason             text,
	guard              text,
	correction_type    smallint,
	error_kind         text,
	error_message      text,
	completion_percent NUMERIC(5,2) NOT NULL DEFAULT 0,
	fields_verified    integer NOT NULL DEFAULT 0,
	failed_fields      text[] NOT NULL DEFAULT '{}',
	skipped_fields     text[] NOT NULL DEFAULT '{}',
	decision           jsonb,
	report             jsonb,
	updated_at         timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS runs_started_at_idx ON pnrfill.runs (started_at DESC);
`

const postgresUpsert = `
	INSERT INTO pnrfill.runs (
		run_id, capture_id, source, started_at, duration_ms, exit_code,
		outcome, tool, reason, guard, correction_type,
		error_kind, error_message, completion_percent, fields_verified,
		failed_fields, skipped_fields, decision, report, updated_at
	) VALUES (
		$1::uuid, $2, $3, $4, $5, $6,
		NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 0),
		NULLIF($12, ''), NULLIF($13, ''), $14::NUMERIC(5,2), $15,
		$16, $17, $18::jsonb, $19::jsonb, NOW()
	)
	ON CONFLICT (run_id) DO UPDATE SET
		duration_ms = EXCLUDED.duration_ms,
		exit_code = EXCLUDED.exit_code,
		outcome = COALESCE(EXCLUDED.outcome, pnrfill.runs.outcome),
		tool = COALESCE(EXCLUDED.tool, pnrfill.runs.tool),
		reason = COALESCE(EXCLUDED.reason, pnrfill.runs.reason),
		guard = COALESCE(EXCLUDED.guard, pnrfill.runs.guard),
		correction_type = COALESCE(EXCLUDED.correction_type, pnrfill.runs.correction_type),
		error_kind = EXCLUDED.error_kind,
		error_message = EXCLUDED.error_message,
		completion_percent = EXCLUDED.completion_percent,
		fields_verified = EXCLUDED.fields_verified,
		failed_fields = EXCLUDED.failed_fields,
		skipped_fields = EXCLUDED.skipped_fields,
		decision = COALESCE(EXCLUDED.decision, pnrfill.runs.decision),
		report = COALESCE(EXCLUDED.report, pnrfill.runs.report),
		updated_at = NOW()
	RETURNING run_id
`

const postgresSelect = `
	SELECT
		run_id, capture_id, source, started_at, duration_ms, exit_code,
		outcome, tool, reason, guard, correction_type,
		error_kind, error_message, completion_percent, fields_verified,
		failed_fields, skipped_fields, decision, report
	FROM pnrfill.runs
`

// PostgresRecorder writes run records to PostgreSQL.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder connects to databaseURL and ensures the schema exists.
func NewPostgresRecorder(databaseURL string) (*PostgresRecorder, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := newPostgresRecorder(db)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func newPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the pnrfill schema and runs table when missing.
func (p *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// RecordRun upserts rec.
func (p *PostgresRecorder) RecordRun(ctx context.Context, rec *RunRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	var returnedID string
	err := p.db.QueryRowContext(
		ctx,
		postgresUpsert,
		rec.RunID,                   // $1
		rec.CaptureID,               // $2
		rec.Source,                  // $3
		rec.StartedAt.UTC(),         // $4
		rec.DurationMs,              // $5
		rec.ExitCode,                // $6
		rec.Outcome,                 // $7
		rec.Tool,                    // $8
		rec.Reason,                  // $9
		rec.Guard,                   // $10
		rec.CorrectionType,          // $11
		rec.ErrorKind,               // $12
		rec.ErrorMessage,            // $13
		rec.CompletionPercent,       // $14 (sanitized to 2 decimals)
		rec.FieldsVerified,          // $15
		pq.Array(rec.FailedFields),  // $16
		pq.Array(rec.SkippedFields), // $17
		nullJSON(rec.Decision),      // $18
		nullJSON(rec.Report),        // $19
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to record run (run=%s, exit=%d): %w", rec.RunID, rec.ExitCode, err)
	}
	return nil
}

// GetRun loads one run by id.
func (p *PostgresRecorder) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}
	rec, err := scanPostgresRun(p.db.QueryRowContext(ctx, postgresSelect+` WHERE run_id = $1::uuid`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// RecentRuns lists runs newest first.
func (p *PostgresRecorder) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := p.db.QueryContext(ctx, postgresSelect+` ORDER BY started_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanPostgresRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPostgresRun(row rowScanner) (*RunRecord, error) {
	var (
		rec                          RunRecord
		outcome, tool, reason, guard sql.NullString
		errorKind, errorMessage      sql.NullString
		correctionType               sql.NullInt64
		failed, skipped              pq.StringArray
		decision, report             []byte
	)
	err := row.Scan(
		&rec.RunID, &rec.CaptureID, &rec.Source, &rec.StartedAt, &rec.DurationMs, &rec.ExitCode,
		&outcome, &tool, &reason, &guard, &correctionType,
		&errorKind, &errorMessage, &rec.CompletionPercent, &rec.FieldsVerified,
		&failed, &skipped, &decision, &report,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = outcome.String
	rec.Tool = tool.String
	rec.Reason = reason.String
	rec.Guard = guard.String
	rec.CorrectionType = int(correctionType.Int64)
	rec.ErrorKind = errorKind.String
	rec.ErrorMessage = errorMessage.String
	rec.FailedFields = []string(failed)
	rec.SkippedFields = []string(skipped)
	rec.Decision = decision
	rec.Report = report
	return &rec, nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Ping checks database connectivity
func (p *PostgresRecorder) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresRecorder) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresRecorder) GetStats() sql.DBStats {
	return p.db.Stats()
}
