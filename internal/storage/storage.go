// Package storage persists history snapshots across restarts. Persistence is
// best-effort and entirely behind the Store interface; the engine works fine
// with storage disabled.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"notifyd/internal/history"
	"notifyd/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON snapshot file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is one persisted capture of the history store.
type Snapshot struct {
	SavedAt  time.Time        `json:"saved_at"`
	Entries  []history.Entry  `json:"entries"` // oldest first
	Counters history.Counters `json:"counters"`
}

// Store is the minimal persistence API used by the app and the maintenance
// service.
type Store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot returns (nil, nil) when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
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
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
