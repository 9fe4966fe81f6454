package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("tesseract exited 1")
	err := NewCaptureFailedError("screen.png", cause)

	assert.Equal(t, ErrorCaptureFailed, err.Kind)
	assert.Contains(t, err.Error(), "CAPTURE_FAILED")
	assert.Contains(t, err.Error(), "tesseract exited 1")
	assert.True(t, stderrors.Is(err, cause))
}

func TestKindOf_WrappedChain(t *testing.T) {
	wrapped := fmt.Errorf("extract: %w", NewEmptyCaptureError("cap-1"))

	assert.Equal(t, ErrorEmptyCapture, KindOf(wrapped))
	assert.True(t, Is(wrapped, ErrorEmptyCapture))
	assert.False(t, Is(wrapped, ErrorPipelineBusy))
	assert.Equal(t, ErrorKind(""), KindOf(stderrors.New("plain")))
	assert.False(t, Is(nil, ErrorEmptyCapture))
}

func TestToMap(t *testing.T) {
	err := NewPipelineBusyError("run-a").WithRunID("run-b")
	m := err.ToMap()

	require.Equal(t, "PIPELINE_BUSY", m["error_kind"])
	assert.Equal(t, "run-b", m["run_id"])
	assert.Equal(t, "run-a", m["active_run_id"])
	assert.NotContains(t, m, "cause")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{"", ExitSuccess},
		{ErrorRuleDenied, ExitDenied},
		{ErrorRuleNeedsDocument, ExitDenied},
		{ErrorEmptyCapture, ExitExtraction},
		{ErrorUnrecognizedScreenFormat, ExitExtraction},
		{ErrorCaptureFailed, ExitExtraction},
		{ErrorFieldWriteFailed, ExitPartial},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.kind))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrorPipelineBusy))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(ErrorEmptyCapture))
	assert.Equal(t, http.StatusOK, HTTPStatus(ErrorRuleDenied))
}
