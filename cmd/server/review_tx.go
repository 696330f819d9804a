package main

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	id "folio/pkg/domain"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/tx"
)

const defaultOwnerTxTimeout = 5 * time.Second

// postgresOwnerTx serializes per-owner workflow operations across processes:
// every operation runs in a transaction holding an advisory lock on the owner
// key, so read-decide-write sequences from different replicas queue up
// instead of interleaving.
type postgresOwnerTx struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func newPostgresOwnerTx(pool *pgxpool.Pool) *postgresOwnerTx {
	return &postgresOwnerTx{pool: pool}
}

func (t *postgresOwnerTx) RunInOwnerTx(ctx context.Context, owner id.OwnerID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultOwnerTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pgtx, err := t.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = pgtx.Rollback(ctx)
	}()

	if _, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ownerLockKey(owner)); err != nil {
		return err
	}

	if err := fn(tx.WithTx(ctx, pgtx)); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// ownerLockKey hashes the owner ID into the bigint namespace advisory locks
// use. Hash collisions only cost extra serialization, never correctness.
func ownerLockKey(owner id.OwnerID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(owner.String()))
	return int64(h.Sum64())
}
