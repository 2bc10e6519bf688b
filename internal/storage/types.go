package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local backend (state does not survive restarts)
//   - "file":   dependency-free file backend (snapshot + journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event is a single telemetry event. Keep it compact and schema-stable.
type Event struct {
	At    time.Time
	Name  string
	Props string // JSON object, may be empty
}
