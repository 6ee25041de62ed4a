package natskv

import (
	"context"
	"fmt"
	"time"

	"taskcron/internal/core"
)

// LastRunCache keeps declared-task last runs in a KV bucket so several hosts
// share the same view.
type LastRunCache struct {
	store *Store
}

var _ core.LastRunCache = (*LastRunCache)(nil)

func (c *LastRunCache) Get(ctx context.Context, key string) (time.Time, bool, error) {
	data, _, found, err := c.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last run %s: %w", key, err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %s: %w", key, err)
	}
	return t, true, nil
}

func (c *LastRunCache) Set(ctx context.Context, key string, at time.Time) error {
	if _, err := c.store.Put(ctx, key, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("put last run %s: %w", key, err)
	}
	return nil
}
