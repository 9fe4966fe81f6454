package storage

import (
	"fmt"
)

// Audit drivers accepted by NewRecorder.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// NewRecorder opens the audit store for driver. DriverNone returns a nil
// Recorder and no error.
func NewRecorder(driver, databaseURL, sqlitePath string) (Recorder, error) {
	switch driver {
	case DriverNone, "":
		return nil, nil
	case DriverPostgres:
		p, err := NewPostgresRecorder(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL recorder: %w", err)
		}
		return p, nil
	case DriverSQLite:
		s, err := NewSQLiteRecorder(sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite recorder: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", driver)
	}
}

var (
	_ Recorder = (*PostgresRecorder)(nil)
	_ Recorder = (*SQLiteRecorder)(nil)
)
