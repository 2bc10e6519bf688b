package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"nudgebot/pkg/logx"
)

// Store is the minimal persistence API used by the scheduler and services.
//
// Get returns "" (no error) for a missing key. Values are plain scalars;
// the key namespace is global to the installation.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	AppendEvent(ctx context.Context, e Event) error
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
