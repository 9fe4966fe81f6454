package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	"github.com/adverant/nexus/pnrfill-worker/internal/capture/capturetest"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

type pipelineStub struct {
	result   *pipeline.RunResult
	err      error
	active   string
	requests []*pipeline.RunRequest
}

func (p *pipelineStub) Run(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunResult, error) {
	p.requests = append(p.requests, req)
	return p.result, p.err
}

func (p *pipelineStub) Preview(req *pipeline.RunRequest) *pipeline.RunResult {
	p.requests = append(p.requests, req)
	return p.result
}

func (p *pipelineStub) ActiveRun() (string, bool) {
	return p.active, p.active != ""
}

func allowResult() *pipeline.RunResult {
	d := rules.Decision{Outcome: rules.Allow, Tool: rules.ToolPrimary, Reason: rules.ReasonEligible, Guard: rules.GuardNone}
	return &pipeline.RunResult{
		RunID:    "run-1",
		Decision: &d,
		Plan:     &fillplan.Plan{Actions: []fillplan.Action{{Field: "pnr", Value: "AB12CD"}}},
	}
}

func newTestServer(t *testing.T, p Pipeline, store RunStore) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logging.UseNop()
	s, err := New(Config{
		Pipeline:       p,
		Loader:         capture.NewLoader(nil, 0),
		Store:          store,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) }),
	})
	require.NoError(t, err)
	return s
}

func runBody(t *testing.T, correction *rules.CorrectionRequest) *bytes.Reader {
	t.Helper()
	doc, err := json.Marshal(capturetest.Screen("cap-h", capturetest.Reservation(nil), 0.95))
	require.NoError(t, err)
	body, err := json.Marshal(RunBody{Capture: doc, Correction: correction})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func do(s *Server, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.EqualError(t, err, "pipeline is required")
	_, err = New(Config{Pipeline: &pipelineStub{}})
	assert.EqualError(t, err, "loader is required")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &pipelineStub{active: "run-7"}, nil)
	w := do(s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","activeRun":"run-7"}`, w.Body.String())

	assert.Equal(t, "ok", do(s, http.MethodGet, "/metrics", nil).Body.String())
}

func TestStartRun(t *testing.T) {
	p := &pipelineStub{result: allowResult()}
	s := newTestServer(t, p, nil)

	w := do(s, http.MethodPost, "/v1/runs", runBody(t, &rules.CorrectionRequest{NewName: "SILVA/ALBERTA"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, rules.Allow, summary.Outcome)

	require.Len(t, p.requests, 1)
	assert.Equal(t, "cap-h", p.requests[0].Capture.ID)
	assert.Equal(t, "http", p.requests[0].Source)
	assert.Equal(t, "SILVA/ALBERTA", p.requests[0].Correction.NewName)
}

func TestStartRun_Busy(t *testing.T) {
	s := newTestServer(t, &pipelineStub{err: cerrors.NewPipelineBusyError("run-0")}, nil)
	w := do(s, http.MethodPost, "/v1/runs", runBody(t, nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"PIPELINE_BUSY"`)
}

func TestStartRun_ExtractionFailure(t *testing.T) {
	res := &pipeline.RunResult{RunID: "run-2", ExitCode: 3, Err: cerrors.NewUnrecognizedScreenError("cap-h", 0, 1)}
	s := newTestServer(t, &pipelineStub{result: res}, nil)

	w := do(s, http.MethodPost, "/v1/runs", runBody(t, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"exitCode":3`)
}

func TestStartRun_BadBodies(t *testing.T) {
	s := newTestServer(t, &pipelineStub{result: allowResult()}, nil)

	w := do(s, http.MethodPost, "/v1/runs", bytes.NewReader([]byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(RunBody{Capture: []byte("plain text, not a capture")})
	w = do(s, http.MethodPost, "/v1/runs", bytes.NewReader(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "CAPTURE_FAILED")
}

func TestPreviewDecision(t *testing.T) {
	s := newTestServer(t, &pipelineStub{result: allowResult()}, nil)
	w := do(s, http.MethodPost, "/v1/decisions", runBody(t, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rules.Allow, resp.Decision.Outcome)
	require.NotNil(t, resp.Plan)
	assert.Len(t, resp.Plan.Actions, 1)

	failed := &pipeline.RunResult{Err: cerrors.NewEmptyCaptureError("cap-h"), ExitCode: 3}
	s = newTestServer(t, &pipelineStub{result: failed}, nil)
	w = do(s, http.MethodPost, "/v1/decisions", runBody(t, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRunsEndpoints(t *testing.T) {
	store, err := storage.NewSQLiteRecorder(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.RecordRun(context.Background(), &storage.RunRecord{
		RunID:     "run-1",
		StartedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		ExitCode:  2,
		Outcome:   "DENY",
		Reason:    "upgrade must be voided first",
	}))

	s := newTestServer(t, &pipelineStub{}, store)

	w := do(s, http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"DENY"`)

	w = do(s, http.MethodGet, "/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/v1/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runId":"run-1"`)
}

func TestRunsEndpointsAbsentWithoutStore(t *testing.T) {
	s := newTestServer(t, &pipelineStub{}, nil)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/v1/runs/run-1", nil).Code)
}
