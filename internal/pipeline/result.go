package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

// LowConfidenceThreshold flags extracted fields worth an operator's look.
const LowConfidenceThreshold = 0.7

// RequiredFields must be read from the screen for a fill to make sense. A
// required field below fields.MinUsableConfidence is reported missing.
var RequiredFields = []fields.Name{
	fields.PNR,
	fields.Passenger,
	fields.Carrier,
	fields.FlightNumber,
	fields.FlightDate,
	fields.Segment,
}

// RunResult is everything one run produced. Stages that did not run leave
// their field nil.
type RunResult struct {
	RunID     string
	CaptureID string
	Source    string
	FieldMap  *fields.Map
	Decision  *rules.Decision
	Plan      *fillplan.Plan
	Report    *executor.FillReport
	ExitCode  int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Summary is the operator-facing digest of a run.
type Summary struct {
	RunID             string         `json:"runId"`
	CaptureID         string         `json:"captureId,omitempty"`
	ExitCode          int            `json:"exitCode"`
	Outcome           rules.Outcome  `json:"outcome,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	ErrorKind         string         `json:"errorKind,omitempty"`
	Error             string         `json:"error,omitempty"`
	CompletionPercent float64        `json:"completionPercent"`
	Verified          int            `json:"verified"`
	Failed            []fields.Name  `json:"failed,omitempty"`
	Skipped           []fields.Name  `json:"skipped,omitempty"`
	LowConfidence     []fields.Name  `json:"lowConfidence,omitempty"`
	MissingRequired   []fields.Name  `json:"missingRequired,omitempty"`
	DurationMs        int64          `json:"durationMs"`
	Endorsement       string         `json:"endorsement,omitempty"`
	Correction        *correctionTag `json:"correction,omitempty"`
}

type correctionTag struct {
	ErrorType       int `json:"errorType"`
	DocumentsNeeded int `json:"documentsNeeded"`
}

// Summary digests r.
func (r *RunResult) Summary() Summary {
	s := Summary{
		RunID:      r.RunID,
		CaptureID:  r.CaptureID,
		ExitCode:   r.ExitCode,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
		s.ErrorKind = string(cerrors.KindOf(r.Err))
	}
	if r.Decision != nil {
		s.Outcome = r.Decision.Outcome
		s.Reason = r.Decision.Reason
		s.Endorsement = r.Decision.Endorsement()
		if c := r.Decision.Correction; c != nil {
			s.Correction = &correctionTag{ErrorType: c.ErrorType, DocumentsNeeded: c.DocumentsNeeded()}
		}
	}
	if r.FieldMap != nil {
		s.LowConfidence = r.FieldMap.LowConfidence(LowConfidenceThreshold)
		for _, n := range RequiredFields {
			if !r.FieldMap.Get(n).Usable() {
				s.MissingRequired = append(s.MissingRequired, n)
			}
		}
	}
	if r.Plan != nil {
		s.Skipped = r.Plan.Skipped
	}
	if r.Report != nil {
		s.CompletionPercent = r.Report.CompletionPercent()
		s.Verified = r.Report.VerifiedCount()
		s.Failed = r.Report.FailedFields()
	}
	return s
}

// Record projects r onto the audit row.
func (r *RunResult) Record() (*storage.RunRecord, error) {
	s := r.Summary()
	rec := &storage.RunRecord{
		RunID:             r.RunID,
		CaptureID:         r.CaptureID,
		Source:            r.Source,
		StartedAt:         r.StartedAt,
		DurationMs:        s.DurationMs,
		ExitCode:          r.ExitCode,
		ErrorKind:         s.ErrorKind,
		ErrorMessage:      s.Error,
		CompletionPercent: s.CompletionPercent,
		FieldsVerified:    s.Verified,
		FailedFields:      names(s.Failed),
		SkippedFields:     names(s.Skipped),
	}
	if r.Decision != nil {
		rec.Outcome = string(r.Decision.Outcome)
		rec.Tool = string(r.Decision.Tool)
		rec.Reason = r.Decision.Reason
		rec.Guard = string(r.Decision.Guard)
		if c := r.Decision.Correction; c != nil {
			rec.CorrectionType = c.ErrorType
		}
		rec.Decision = r.Decision.Canonical()
	}
	if r.Report != nil {
		b, err := json.Marshal(r.Report)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fill report: %w", err)
		}
		rec.Report = b
	}
	return rec, nil
}

func names(ns []fields.Name) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}
