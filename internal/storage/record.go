package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunRecord is the audit row written once per pipeline run.
type RunRecord struct {
	RunID             string
	CaptureID         string
	Source            string
	StartedAt         time.Time
	DurationMs        int64
	ExitCode          int
	Outcome           string
	Tool              string
	Reason            string
	Guard             string
	CorrectionType    int
	ErrorKind         string
	ErrorMessage      string
	CompletionPercent float64
	FieldsVerified    int
	FailedFields      []string
	SkippedFields     []string
	Decision          []byte // canonical decision JSON
	Report            []byte // fill report JSON
}

// Recorder persists and reads back run records.
type Recorder interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrRunNotFound is wrapped by GetRun when no row matches.
var ErrRunNotFound = errors.New("run not found")

func (r *RunRecord) validate() error {
	if r == nil {
		return fmt.Errorf("run record is required")
	}
	r.RunID = strings.TrimSpace(r.RunID)
	if r.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	r.CompletionPercent = sanitizePercent(r.CompletionPercent)
	return nil
}

// sanitizePercent clamps p to [0, 100] and rounds to 2 decimals so it fits
// NUMERIC(5,2).
func sanitizePercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return float64(int(p*100+0.5)) / 100
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
