/**
 * Fill Executor
 *
 * Applies a fill plan one action at a time. Each action is written, left to
 * settle for the pacing interval, read back and compared. Mismatches are
 * retried until the action's budget runs out; a failed field never stops
 * the batch. A final sweep re-checks verified fields and gives every
 * unverified field one more attempt.
 */

package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// Executor drives a FormDriver through a plan.
type Executor struct {
	driver FormDriver
	// Pacing is the wait between a write and its read-back.
	Pacing time.Duration
	logger *logging.Logger
}

// New returns an Executor over driver with the given pacing delay.
func New(driver FormDriver, pacing time.Duration) *Executor {
	return &Executor{
		driver: driver,
		Pacing: pacing,
		logger: logging.NewLogger("FillExecutor"),
	}
}

// Run applies plan and returns the report. ctx is only checked between
// actions; an action in flight always completes.
func (e *Executor) Run(ctx context.Context, plan *fillplan.Plan) *FillReport {
	report := &FillReport{StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	actions := make([]fillplan.Action, len(plan.Actions))
	copy(actions, plan.Actions)

	// Driver calls are detached from ctx so cancellation never interrupts a write.
	driverCtx := context.WithoutCancel(ctx)

	for i := range actions {
		if ctx.Err() != nil {
			e.cancelRemaining(report, actions[i:])
			return report
		}
		report.Entries = append(report.Entries, e.apply(driverCtx, &actions[i]))
	}

	if ctx.Err() != nil {
		report.Cancelled = true
		return report
	}
	e.sweep(driverCtx, actions, report)

	e.logger.Info("Fill complete",
		"actions", len(report.Entries),
		"verified", report.VerifiedCount(),
		"failed", len(report.FailedFields()))
	return report
}

func (e *Executor) cancelRemaining(report *FillReport, remaining []fillplan.Action) {
	report.Cancelled = true
	for _, a := range remaining {
		entry := ReportEntry{Field: a.Field, AttemptedValue: a.Value, State: StatePending}
		msg := ErrCancelled
		entry.Error = &msg
		report.Entries = append(report.Entries, entry)
	}
	e.logger.Warn("Fill cancelled", "remaining", len(remaining))
}

// apply runs one action through PENDING → WRITTEN → VERIFIED, looping
// through MISMATCH while retries remain.
func (e *Executor) apply(ctx context.Context, a *fillplan.Action) ReportEntry {
	entry := ReportEntry{Field: a.Field, AttemptedValue: a.Value, State: StatePending}
	for {
		entry.Attempts++
		err := e.attempt(ctx, a, &entry)
		if err == nil {
			entry.verify()
			return entry
		}
		if a.RetriesRemaining == 0 {
			failed := cerrors.NewFieldWriteFailedError(string(a.Field), entry.Attempts, err)
			entry.fail(failed.Error())
			e.logger.Warn("Field failed",
				"field", a.Field,
				"attempts", entry.Attempts,
				"error", err.Error())
			return entry
		}
		a.RetriesRemaining--
		entry.State = StatePending
		e.logger.Debug("Retrying field",
			"field", a.Field,
			"retriesRemaining", a.RetriesRemaining,
			"error", err.Error())
	}
}

// attempt performs one write and read-back.
func (e *Executor) attempt(ctx context.Context, a *fillplan.Action, entry *ReportEntry) error {
	h, err := e.driver.Locate(ctx, a.Selector)
	if err != nil {
		return fmt.Errorf("locate %s: %w", a.Selector, err)
	}
	if !a.VerifyOnly {
		if err := e.driver.Write(ctx, h, a.Value); err != nil {
			return fmt.Errorf("write %s: %w", a.Selector, err)
		}
		entry.State = StateWritten
		e.pace()
	}
	return e.check(ctx, a, h, entry)
}

func (e *Executor) check(ctx context.Context, a *fillplan.Action, h Handle, entry *ReportEntry) error {
	got, err := e.driver.ReadBack(ctx, h)
	if err != nil {
		return fmt.Errorf("read back %s: %w", a.Selector, err)
	}
	if !Matches(*a, got) {
		entry.State = StateMismatch
		return cerrors.NewFieldWriteMismatchError(string(a.Field), a.Value, got)
	}
	return nil
}

func (e *Executor) pace() {
	if e.Pacing > 0 {
		time.Sleep(e.Pacing)
	}
}

// sweep re-reads every verified field, then gives each field that is not
// verified exactly one more attempt.
func (e *Executor) sweep(ctx context.Context, actions []fillplan.Action, report *FillReport) {
	for i := range report.Entries {
		entry := &report.Entries[i]
		if !entry.Verified {
			continue
		}
		a := &actions[i]
		h, err := e.driver.Locate(ctx, a.Selector)
		if err == nil {
			err = e.check(ctx, a, h, entry)
		}
		if err != nil {
			entry.fail(fmt.Sprintf("verification lost: %v", err))
			e.logger.Warn("Verified field changed", "field", a.Field, "error", err.Error())
			continue
		}
		entry.State = StateVerified
	}

	for i := range report.Entries {
		entry := &report.Entries[i]
		if entry.Verified {
			continue
		}
		a := &actions[i]
		entry.Swept = true
		entry.Attempts++
		if err := e.attempt(ctx, a, entry); err != nil {
			failed := cerrors.NewFieldWriteFailedError(string(a.Field), entry.Attempts, err)
			entry.fail(failed.Error())
			continue
		}
		entry.verify()
		e.logger.Info("Field recovered in sweep", "field", a.Field)
	}
}

// Matches compares a read-back value to the action's expectation: exact
// for code fields, case-insensitive otherwise. A verify-only action with
// no expected value accepts any non-empty content.
func Matches(a fillplan.Action, got string) bool {
	got = strings.TrimSpace(got)
	want := strings.TrimSpace(a.Value)
	if a.ExpectsAnyValue() {
		return got != ""
	}
	if a.Input == ruledata.InputCode {
		return got == want
	}
	return strings.EqualFold(got, want)
}
