package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

/**
 * Error taxonomy for the PNR autofill pipeline
 *
 * Every failure surfaced by the pipeline carries an ErrorKind so callers can
 * map it to a process exit code, an HTTP status or a queue outcome.
 */

// ErrorKind enum for structured error handling
type ErrorKind string

const (
	// Extraction errors (abort before any form interaction)
	ErrorEmptyCapture             ErrorKind = "EMPTY_CAPTURE"
	ErrorUnrecognizedScreenFormat ErrorKind = "UNRECOGNIZED_SCREEN_FORMAT"
	ErrorCaptureFailed            ErrorKind = "CAPTURE_FAILED"

	// Decision errors (terminal, no fill attempted)
	ErrorRuleDenied        ErrorKind = "RULE_DENIED"
	ErrorRuleNeedsDocument ErrorKind = "RULE_NEEDS_DOCUMENT"

	// Fill errors
	ErrorFieldWriteMismatch ErrorKind = "FIELD_WRITE_MISMATCH"
	ErrorFieldWriteFailed   ErrorKind = "FIELD_WRITE_FAILED"

	// Controller errors
	ErrorPipelineBusy  ErrorKind = "PIPELINE_BUSY"
	ErrorRunTimeout    ErrorKind = "RUN_TIMEOUT"
	ErrorConfigInvalid ErrorKind = "CONFIG_INVALID"
)

// Process exit codes reported by the CLI and stored with each run.
const (
	ExitSuccess    = 0
	ExitPartial    = 1
	ExitDenied     = 2
	ExitExtraction = 3
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Kind      ErrorKind
	Message   string
	RunID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithRunID stamps the run identifier once the controller knows it.
func (e *PipelineError) WithRunID(runID string) *PipelineError {
	e.RunID = runID
	return e
}

// Factory functions for common errors

func NewEmptyCaptureError(captureID string) *PipelineError {
	return &PipelineError{
		Kind:      ErrorEmptyCapture,
		Message:   "capture contains no recognized text spans",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"capture_id": captureID,
		},
	}
}

func NewUnrecognizedScreenError(captureID string, matched, required int) *PipelineError {
	return &PipelineError{
		Kind:      ErrorUnrecognizedScreenFormat,
		Message:   fmt.Sprintf("screen signature not found (%d of %d required patterns matched)", matched, required),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"capture_id":       captureID,
			"signature_hits":   matched,
			"signature_needed": required,
		},
	}
}

func NewCaptureFailedError(source string, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrorCaptureFailed,
		Message:   fmt.Sprintf("failed to read capture from %s", source),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewRuleDeniedError(reason string) *PipelineError {
	return &PipelineError{
		Kind:      ErrorRuleDenied,
		Message:   reason,
		Timestamp: time.Now(),
	}
}

func NewRuleNeedsDocumentError(reason string, errorType int) *PipelineError {
	return &PipelineError{
		Kind:      ErrorRuleNeedsDocument,
		Message:   reason,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"error_type": errorType,
		},
	}
}

func NewFieldWriteMismatchError(field, want, got string) *PipelineError {
	return &PipelineError{
		Kind:      ErrorFieldWriteMismatch,
		Message:   fmt.Sprintf("field %s read back %q, expected %q", field, got, want),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field":    field,
			"expected": want,
			"actual":   got,
		},
	}
}

func NewFieldWriteFailedError(field string, attempts int, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrorFieldWriteFailed,
		Message:   fmt.Sprintf("field %s not verified after %d attempts", field, attempts),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field":    field,
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewPipelineBusyError(activeRunID string) *PipelineError {
	return &PipelineError{
		Kind:      ErrorPipelineBusy,
		Message:   "another pipeline run is in progress",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"active_run_id": activeRunID,
		},
	}
}

func NewRunTimeoutError(runID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrorRunTimeout,
		Message:   fmt.Sprintf("run timed out after %v", duration),
		RunID:     runID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewConfigInvalidError(source string, cause error) *PipelineError {
	return &PipelineError{
		Kind:      ErrorConfigInvalid,
		Message:   fmt.Sprintf("invalid configuration in %s", source),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for audit storage and queue payloads
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_kind": string(e.Kind),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.RunID != "" {
		result["run_id"] = e.RunID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// KindOf returns the ErrorKind carried anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps a failure kind to the process exit code.
func ExitCode(kind ErrorKind) int {
	switch kind {
	case "":
		return ExitSuccess
	case ErrorRuleDenied, ErrorRuleNeedsDocument:
		return ExitDenied
	case ErrorEmptyCapture, ErrorUnrecognizedScreenFormat, ErrorCaptureFailed:
		return ExitExtraction
	default:
		return ExitPartial
	}
}

// HTTPStatus maps a failure kind to the status returned by the trigger API.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case ErrorEmptyCapture, ErrorUnrecognizedScreenFormat:
		return http.StatusUnprocessableEntity
	case ErrorCaptureFailed:
		return http.StatusBadRequest
	case ErrorPipelineBusy:
		return http.StatusConflict
	case ErrorRunTimeout:
		return http.StatusGatewayTimeout
	case ErrorConfigInvalid:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
