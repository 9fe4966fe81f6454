package executor

import (
	"time"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
)

// State is the position of one action in the fill state machine.
type State string

const (
	StatePending  State = "PENDING"
	StateWritten  State = "WRITTEN"
	StateVerified State = "VERIFIED"
	StateMismatch State = "MISMATCH"
	StateFailed   State = "FAILED"
)

// ErrCancelled is the error text of actions skipped by cancellation.
const ErrCancelled = "cancelled"

// ReportEntry is the outcome of one action.
type ReportEntry struct {
	Field          fields.Name `json:"field"`
	AttemptedValue string      `json:"attemptedValue"`
	Verified       bool        `json:"verified"`
	Attempts       int         `json:"attempts"`
	Error          *string     `json:"error"`
	State          State       `json:"state"`
	Swept          bool        `json:"swept,omitempty"`
}

func (e *ReportEntry) fail(msg string) {
	e.Verified = false
	e.State = StateFailed
	e.Error = &msg
}

func (e *ReportEntry) verify() {
	e.Verified = true
	e.State = StateVerified
	e.Error = nil
}

// FillReport is the ordered per-field outcome of a run.
type FillReport struct {
	Entries    []ReportEntry `json:"entries"`
	Cancelled  bool          `json:"cancelled"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// AllVerified reports whether the report has entries and all verified.
func (r *FillReport) AllVerified() bool {
	if len(r.Entries) == 0 {
		return false
	}
	for _, e := range r.Entries {
		if !e.Verified {
			return false
		}
	}
	return true
}

// FailedFields lists the fields that did not verify, in plan order.
func (r *FillReport) FailedFields() []fields.Name {
	var out []fields.Name
	for _, e := range r.Entries {
		if !e.Verified {
			out = append(out, e.Field)
		}
	}
	return out
}

// VerifiedCount is the number of verified entries.
func (r *FillReport) VerifiedCount() int {
	n := 0
	for _, e := range r.Entries {
		if e.Verified {
			n++
		}
	}
	return n
}

// CompletionPercent is the share of verified entries, 0..100.
func (r *FillReport) CompletionPercent() float64 {
	if len(r.Entries) == 0 {
		return 0
	}
	return float64(r.VerifiedCount()) * 100 / float64(len(r.Entries))
}
