package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	once.Do(func() {})
	core, logs := observer.New(zapcore.DebugLevel)
	mu.Lock()
	base = zap.New(core).Sugar()
	mu.Unlock()
	t.Cleanup(UseNop)
	return logs
}

func TestLogger_NamedChildBuiltOnce(t *testing.T) {
	logs := observe(t)
	l := NewLogger("Pipeline")

	first := l.sugar()
	assert.Same(t, first, l.sugar())

	l.Info("Run started", "runId", "run-1")
	l.Warn("Field failed", "field", "pnr")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Pipeline", entries[0].LoggerName)
	assert.Equal(t, "run-1", entries[0].ContextMap()["runId"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestLogger_FollowsReplacedBase(t *testing.T) {
	observe(t)
	l := NewLogger("Queue")
	before := l.sugar()

	logs := observe(t)
	after := l.sugar()
	assert.NotSame(t, before, after)

	l.Info("Job completed")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Queue", logs.All()[0].LoggerName)
}
