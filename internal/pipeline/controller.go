/**
 * Pipeline Controller
 *
 * Composes the run: capture → extract → decide → plan → fill → report.
 * At most one run is in flight; a second Run while one is active is
 * rejected with PIPELINE_BUSY before anything else happens. Audit, metrics
 * and event collaborators are optional and their failures never change
 * the outcome of a run.
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

// Event channels published around each run.
const (
	EventRunStarted   = "run:started"
	EventRunCompleted = "run:completed"
)

// Extractor turns a capture into a FieldMap.
type Extractor interface {
	Extract(c *capture.RawCapture) (*fields.Map, error)
}

// Decider evaluates the rule matrix.
type Decider interface {
	Decide(fm *fields.Map, correction *rules.CorrectionRequest) rules.Decision
}

// Planner builds fill plans.
type Planner interface {
	Build(decision rules.Decision, fm *fields.Map) (*fillplan.Plan, error)
}

// Filler applies a plan to the form.
type Filler interface {
	Run(ctx context.Context, plan *fillplan.Plan) *executor.FillReport
}

// Recorder persists one audit row per run.
type Recorder interface {
	RecordRun(ctx context.Context, rec *storage.RunRecord) error
}

// Metrics observes run outcomes.
type Metrics interface {
	ObserveRun(exitCode int, d time.Duration)
	ObserveDecision(d rules.Decision)
	ObserveFill(report *executor.FillReport)
}

// EventPublisher announces run lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// Config wires the controller's collaborators.
type Config struct {
	Extractor  Extractor
	Decider    Decider
	Planner    Planner
	Filler     Filler
	Recorder   Recorder
	Metrics    Metrics
	Events     EventPublisher
	RunTimeout time.Duration
}

// RunRequest is one capture to process, plus the operator's optional name
// correction.
type RunRequest struct {
	Capture    *capture.RawCapture
	Correction *rules.CorrectionRequest
	Source     string
}

type runToken struct {
	id      string
	started time.Time
}

// Controller runs the pipeline one request at a time.
type Controller struct {
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	active *runToken
}

// NewController validates cfg and returns a Controller.
func NewController(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.Decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Filler == nil {
		return nil, fmt.Errorf("filler is required")
	}
	return &Controller{cfg: *cfg, logger: logging.NewLogger("Pipeline")}, nil
}

// ActiveRun returns the id of the run in flight, if any.
func (c *Controller) ActiveRun() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

func (c *Controller) acquire() (*runToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, cerrors.NewPipelineBusyError(c.active.id)
	}
	c.active = &runToken{id: uuid.NewString(), started: time.Now()}
	return c.active, nil
}

func (c *Controller) release(t *runToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == t {
		c.active = nil
	}
}

// Run processes req. The returned error is only set when the run could not
// start (PIPELINE_BUSY); every other failure is reported in the result with
// its exit code.
func (c *Controller) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	token, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer c.release(token)

	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}

	result := &RunResult{RunID: token.id, StartedAt: token.started}
	if req != nil {
		result.Source = req.Source
	}
	c.publish(ctx, EventRunStarted, map[string]interface{}{
		"runId":  token.id,
		"source": result.Source,
	})

	c.execute(ctx, req, result)
	result.Duration = time.Since(token.started)

	c.finish(ctx, result)
	return result, nil
}

func (c *Controller) execute(ctx context.Context, req *RunRequest, result *RunResult) {
	id := result.RunID

	// Step 1: Extract fields from the capture
	var capt *capture.RawCapture
	if req != nil {
		capt = req.Capture
	}
	c.logger.Infof("[Run %s] Step 1: Extracting fields (%d spans)", id, spanCount(capt))
	fm, err := c.cfg.Extractor.Extract(capt)
	if err != nil {
		c.fail(result, err)
		return
	}
	result.CaptureID = fm.CaptureID
	result.FieldMap = fm

	// Step 2: Evaluate the rule matrix
	var correction *rules.CorrectionRequest
	if req != nil {
		correction = req.Correction
	}
	c.logger.Infof("[Run %s] Step 2: Evaluating rule matrix (correction=%t)", id, correction != nil)
	decision := c.cfg.Decider.Decide(fm, correction)
	result.Decision = &decision
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveDecision(decision)
	}
	switch decision.Outcome {
	case rules.Deny:
		c.fail(result, cerrors.NewRuleDeniedError(decision.Reason))
		return
	case rules.NeedsDocument:
		errorType := 0
		if decision.Correction != nil {
			errorType = decision.Correction.ErrorType
		}
		c.fail(result, cerrors.NewRuleNeedsDocumentError(decision.Reason, errorType))
		return
	}

	// Step 3: Build the fill plan
	c.logger.Infof("[Run %s] Step 3: Building fill plan (tool=%s)", id, decision.Tool)
	plan, err := c.cfg.Planner.Build(decision, fm)
	if err != nil {
		c.fail(result, err)
		return
	}
	result.Plan = plan

	// Step 4: Fill the form
	c.logger.Infof("[Run %s] Step 4: Filling %d fields (%d skipped)", id, len(plan.Actions), len(plan.Skipped))
	report := c.cfg.Filler.Run(ctx, plan)
	result.Report = report
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveFill(report)
	}
	if report.Cancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Err = cerrors.NewRunTimeoutError(id, c.cfg.RunTimeout, ctx.Err())
	}

	// Step 5: Report
	result.ExitCode = cerrors.ExitPartial
	if report.AllVerified() && len(plan.Skipped) == 0 && !report.Cancelled {
		result.ExitCode = cerrors.ExitSuccess
	}
	c.logger.Infof("[Run %s] Step 5: Fill complete (%d/%d verified, exit=%d)",
		id, report.VerifiedCount(), len(report.Entries), result.ExitCode)
}

func (c *Controller) fail(result *RunResult, err error) {
	var pe *cerrors.PipelineError
	if errors.As(err, &pe) {
		pe.WithRunID(result.RunID)
	}
	result.Err = err
	result.ExitCode = cerrors.ExitCode(cerrors.KindOf(err))
	if cerrors.KindOf(err) == "" {
		result.ExitCode = cerrors.ExitPartial
	}
	c.logger.Warn("Run stopped",
		"runId", result.RunID,
		"exitCode", result.ExitCode,
		"error", err.Error())
}

// finish runs the optional collaborators. Their errors are logged only.
func (c *Controller) finish(ctx context.Context, result *RunResult) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveRun(result.ExitCode, result.Duration)
	}

	if c.cfg.Recorder != nil {
		rec, err := result.Record()
		if err == nil {
			err = c.cfg.Recorder.RecordRun(context.WithoutCancel(ctx), rec)
		}
		if err != nil {
			c.logger.Warn("Failed to record run", "runId", result.RunID, "error", err.Error())
		}
	}

	c.publish(ctx, EventRunCompleted, result.Summary())

	c.logger.Info("Run complete",
		"runId", result.RunID,
		"exitCode", result.ExitCode,
		"durationMs", result.Duration.Milliseconds())
}

func (c *Controller) publish(ctx context.Context, channel string, payload interface{}) {
	if c.cfg.Events == nil {
		return
	}
	if err := c.cfg.Events.Publish(context.WithoutCancel(ctx), channel, payload); err != nil {
		c.logger.Warn("Failed to publish event", "channel", channel, "error", err.Error())
	}
}

// Preview runs extraction, decision and planning without touching the form.
// It does not take the run token.
func (c *Controller) Preview(req *RunRequest) *RunResult {
	result := &RunResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	if req == nil {
		req = &RunRequest{}
	}
	result.Source = req.Source

	fm, err := c.cfg.Extractor.Extract(req.Capture)
	if err != nil {
		result.Err = err
		result.ExitCode = cerrors.ExitCode(cerrors.KindOf(err))
		return result
	}
	result.CaptureID = fm.CaptureID
	result.FieldMap = fm

	decision := c.cfg.Decider.Decide(fm, req.Correction)
	result.Decision = &decision
	if !decision.Allowed() {
		result.ExitCode = cerrors.ExitDenied
		result.Duration = time.Since(result.StartedAt)
		return result
	}

	plan, err := c.cfg.Planner.Build(decision, fm)
	if err != nil {
		result.Err = err
		result.ExitCode = cerrors.ExitPartial
		return result
	}
	result.Plan = plan
	result.Duration = time.Since(result.StartedAt)
	return result
}

func spanCount(c *capture.RawCapture) int {
	if c == nil {
		return 0
	}
	return len(c.Spans)
}
