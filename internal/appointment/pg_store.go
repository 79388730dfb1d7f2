package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore hands out PgRepository instances bound to a pooled connection or a
// transaction on one.
type PgStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, acquireTimeout time.Duration) *PgStore {
	return &PgStore{pool: pool, acquireTimeout: acquireTimeout}
}

func (s *PgStore) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrPoolExhausted, s.acquireTimeout)
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(ctx, NewPgRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

func (s *PgStore) Read(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	return fn(ctx, NewPgRepository(conn))
}
