// Package db persists pool activity to a local SQLite journal.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoPath is returned when a database path is empty.
var ErrNoPath = errors.New("db: database path is required")

// ConnectionConfig holds SQLite connection settings.
type ConnectionConfig struct {
	Path string

	// BusyTimeout is how long a writer waits on a lock.
	BusyTimeout time.Duration

	// MaxOpenConns is 1 by default: SQLite allows a single writer.
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConnectionConfig returns WAL-friendly defaults for path.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// OpenSQLite opens path with WAL journaling and a busy timeout, and checks
// that WAL actually took effect.
//
// Example:
//
//	conn, err := db.OpenSQLite(db.DefaultConnectionConfig("stats.db"))
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
func OpenSQLite(cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, ErrNoPath
	}

	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	conn.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	conn.SetMaxIdleConns(max(cfg.MaxIdleConns, 1))

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read journal mode: %w", err)
	}
	if mode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("db: WAL not enabled on %s, got %q", cfg.Path, mode)
	}
	return conn, nil
}
