package natskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"taskcron/internal/core"
)

// Locker implements core.Locker with KV create-if-absent semantics.
type Locker struct {
	store *Store
}

var _ core.Locker = (*Locker)(nil)

func (l *Locker) TryAcquire(ctx context.Context, name string) (core.Lock, error) {
	token := uuid.NewString()
	_, err := l.store.Create(ctx, name, []byte(token))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return nil, core.ErrLockDenied
	}
	if err != nil {
		return nil, fmt.Errorf("create lock %s: %w", name, err)
	}
	return &kvLock{store: l.store, name: name, token: token}, nil
}

type kvLock struct {
	store *Store
	name  string
	token string
}

// Release deletes the lock entry as long as nobody replaced it.
func (k *kvLock) Release(ctx context.Context) error {
	data, rev, found, err := k.store.Get(ctx, k.name)
	if err != nil {
		return fmt.Errorf("read lock %s: %w", k.name, err)
	}
	if !found || string(data) != k.token {
		return nil
	}
	if err := k.store.Delete(ctx, k.name, rev); err != nil {
		return fmt.Errorf("delete lock %s: %w", k.name, err)
	}
	return nil
}
