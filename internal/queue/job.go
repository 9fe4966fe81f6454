package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
)

// Job states tracked in Redis.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunResult, error)
}

// CaptureLoader turns queued bytes into a capture.
type CaptureLoader interface {
	Load(ctx context.Context, data []byte, origin capture.Origin) (*capture.RawCapture, error)
}

// CaptureJob is one queued capture.
type CaptureJob struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload carries the capture bytes and the operator's request.
type JobPayload struct {
	CaptureID  string                   `json:"captureId,omitempty"`
	Source     string                   `json:"source,omitempty"`
	Capture    []byte                   `json:"capture"`
	Correction *rules.CorrectionRequest `json:"correction,omitempty"`
	Metadata   map[string]interface{}   `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts the capture either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		Capture interface{} `json:"capture,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.Capture.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 capture: %w", err)
		}
		p.Capture = decoded
	case map[string]interface{}:
		if kind, ok := v["type"].(string); !ok || kind != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		values, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.Capture = make([]byte, len(values))
		for i, val := range values {
			b, ok := val.(float64)
			if !ok {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.Capture[i] = byte(b)
		}
	default:
		return fmt.Errorf("capture must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// jobHandler is the backend-independent part of processing a job.
type jobHandler struct {
	runner Runner
	loader CaptureLoader
}

// outcome of handling one job.
type outcome struct {
	summary   *pipeline.Summary
	err       error
	retryable bool
}

func (h *jobHandler) handle(ctx context.Context, jobID string, p *JobPayload) outcome {
	if len(p.Capture) == 0 {
		return outcome{err: cerrors.NewEmptyCaptureError(p.CaptureID)}
	}
	capt, err := h.loader.Load(ctx, p.Capture, capture.Origin{ID: p.CaptureID, Source: "queue:" + jobID})
	if err != nil {
		return outcome{err: err}
	}

	source := p.Source
	if source == "" {
		source = "queue"
	}
	result, err := h.runner.Run(ctx, &pipeline.RunRequest{
		Capture:    capt,
		Correction: p.Correction,
		Source:     source,
	})
	if err != nil {
		return outcome{err: err, retryable: cerrors.Is(err, cerrors.ErrorPipelineBusy)}
	}
	s := result.Summary()
	return outcome{summary: &s}
}
