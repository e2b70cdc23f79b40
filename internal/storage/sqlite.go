package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifyd/internal/history"
	"notifyd/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_entries (
	pos        INTEGER PRIMARY KEY,
	at         TEXT NOT NULL,
	entry_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_entries`); err != nil {
		return err
	}
	for i, e := range snap.Entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal history entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history_entries(pos, at, entry_json) VALUES(?,?,?)`,
			i, e.At.Format(time.RFC3339Nano), string(b),
		); err != nil {
			return err
		}
	}

	cb, err := json.Marshal(snap.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('counters', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		string(cb),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('saved_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		snap.SavedAt.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}

	var savedAtRaw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='saved_at'`).Scan(&savedAtRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	if t, err := time.Parse(time.RFC3339Nano, savedAtRaw); err == nil {
		snap.SavedAt = t
	}

	var countersRaw string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='counters'`).Scan(&countersRaw); err == nil {
		_ = json.Unmarshal([]byte(countersRaw), &snap.Counters)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entry_json FROM history_entries ORDER BY pos ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e history.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.log.Warn("skipping unreadable history entry", logx.Err(err))
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
