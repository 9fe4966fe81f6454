/**
 * Configuration for the PNR autofill worker
 *
 * Loads configuration from environment variables matching .env.pnrfill
 */

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Queue backends understood by the worker command.
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Audit drivers understood by storage.NewRecorder.
const (
	AuditDriverNone     = "none"
	AuditDriverPostgres = "postgres"
	AuditDriverSQLite   = "sqlite"
)

// Config holds worker configuration
type Config struct {
	// Rule and layout tables (empty = embedded defaults)
	RulesFile   string `env:"RULES_FILE"`
	MappingFile string `env:"MAPPING_FILE"`
	LayoutFile  string `env:"LAYOUT_FILE"`

	// Fill execution
	FillPacing  time.Duration `env:"FILL_PACING" envDefault:"200ms"`
	FillRetries int           `env:"FILL_RETRIES" envDefault:"3"`
	RunTimeout  time.Duration `env:"RUN_TIMEOUT" envDefault:"2m"`

	// Browser-automation sidecar exposing the form driver API
	FormAgentURL string `env:"FORM_AGENT_URL" envDefault:"http://localhost:9222"`

	// Capture
	TesseractLanguages string `env:"TESSERACT_LANGUAGES" envDefault:"eng+por"`
	MaxCaptureSize     int64  `env:"MAX_CAPTURE_SIZE" envDefault:"20971520"` // 20MB

	// Queue
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"redis"`
	QueueName    string `env:"QUEUE_NAME" envDefault:"pnrfill:captures"`

	// Audit trail
	AuditDriver string `env:"AUDIT_DRIVER" envDefault:"none"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"pnrfill-audit.db"`

	// HTTP trigger and metrics
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8097"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.FillRetries < 0 || c.FillRetries > 10 {
		return fmt.Errorf("FILL_RETRIES must be between 0 and 10, got %d", c.FillRetries)
	}

	if c.FillPacing < 0 || c.FillPacing > 10*time.Second {
		return fmt.Errorf("FILL_PACING must be between 0 and 10s, got %v", c.FillPacing)
	}

	if c.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be positive, got %v", c.RunTimeout)
	}

	if c.MaxCaptureSize < 1024 {
		return fmt.Errorf("MAX_CAPTURE_SIZE must be at least 1KB, got %d", c.MaxCaptureSize)
	}

	switch c.QueueBackend {
	case QueueBackendRedis, QueueBackendAsynq:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	switch c.AuditDriver {
	case AuditDriverNone:
	case AuditDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when AUDIT_DRIVER=postgres")
		}
	case AuditDriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when AUDIT_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("AUDIT_DRIVER must be none, postgres or sqlite, got %q", c.AuditDriver)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	return nil
}
