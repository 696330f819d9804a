package service

import (
	"context"
	"sync"

	id "folio/pkg/domain"
)

// OwnerTx serializes a read-decide-write sequence against one owner's
// versions and profile. Without it, two overlapping saves can interleave
// between read and write and silently drop merged changed-field sets.
type OwnerTx interface {
	RunInOwnerTx(ctx context.Context, owner id.OwnerID, fn func(ctx context.Context) error) error
}

// inMemoryOwnerTx keys a mutex per owner. Suitable for the in-memory stores
// and single-process deployments; the PostgreSQL wiring supplies an advisory
// lock based implementation instead.
type inMemoryOwnerTx struct {
	mu    sync.Mutex
	locks map[id.OwnerID]*sync.Mutex
}

func NewInMemoryOwnerTx() OwnerTx {
	return &inMemoryOwnerTx{locks: make(map[id.OwnerID]*sync.Mutex)}
}

func (t *inMemoryOwnerTx) RunInOwnerTx(ctx context.Context, owner id.OwnerID, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	lock, ok := t.locks[owner]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[owner] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}
