package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskcron/internal/core"
)

// LastRunCache keeps the last run instant of declared tasks in SQLite.
type LastRunCache struct {
	db *sql.DB
}

var _ core.LastRunCache = (*LastRunCache)(nil)

// LastRuns returns the declared-task last-run cache.
func (s *Store) LastRuns() *LastRunCache {
	return &LastRunCache{db: s.DB}
}

func (c *LastRunCache) Get(ctx context.Context, key string) (time.Time, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT last_run_at FROM declared_last_runs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last run %s: %w", key, err)
	}
	t, err := parseTime(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %s: %w", key, err)
	}
	return t, true, nil
}

func (c *LastRunCache) Set(ctx context.Context, key string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO declared_last_runs (key, last_run_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_run_at = excluded.last_run_at
	`, key, formatTime(at))
	if err != nil {
		return fmt.Errorf("write last run %s: %w", key, err)
	}
	return nil
}
