package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once  sync.Once
	mu    sync.RWMutex
)

// Logger provides structured logging for the worker
type Logger struct {
	prefix string
	named  atomic.Pointer[namedLogger]
}

// namedLogger is the prefixed child of one base logger.
type namedLogger struct {
	base *zap.SugaredLogger
	log  *zap.SugaredLogger
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

func initBase() {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		var parsed zapcore.Level
		if err := parsed.UnmarshalText([]byte(lvl)); err == nil {
			level.SetLevel(parsed)
		}
	}

	var cfg zap.Config
	if os.Getenv("ENVIRONMENT") == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	base = zl.Sugar()
}

func sugared() *zap.SugaredLogger {
	once.Do(initBase)
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetLevel changes the level of every logger. Unknown levels are ignored.
func SetLevel(lvl string) {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(lvl)); err == nil {
		level.SetLevel(parsed)
	}
}

// UseNop silences all output. Tests call it from TestMain.
func UseNop() {
	once.Do(func() {})
	mu.Lock()
	base = zap.NewNop().Sugar()
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	return sugared().Sync()
}

// sugar returns the prefixed logger, rebuilding it only when the base
// logger has been replaced.
func (l *Logger) sugar() *zap.SugaredLogger {
	b := sugared()
	if n := l.named.Load(); n != nil && n.base == b {
		return n.log
	}
	n := &namedLogger{base: b, log: b.Named(l.prefix)}
	l.named.Store(n)
	return n.log
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar().Infow(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar().Warnw(msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar().Errorw(msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar().Debugw(msg, keysAndValues...)
}

// Infof logs a formatted message, for the step-by-step run trace.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar().Infof(format, args...)
}
