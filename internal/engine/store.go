package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisync/medisync/internal/platform/db"
)

// Session exposes the per-operation fault isolation points of the storage
// transaction. The push orchestrator brackets every operation in a savepoint
// so a failed statement cannot poison the rest of the batch.
type Session interface {
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error
}

// Store runs a function inside one storage transaction. The context passed to
// fn carries the transaction, so repositories used underneath join it.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, sess Session) error) error
}

// PgStore is the production Store backed by a pgx connection pool.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, sess Session) error) error {
	return db.InTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, pgSession{tx: tx})
	})
}

type pgSession struct {
	tx pgx.Tx
}

func (s pgSession) Savepoint(ctx context.Context, name string) error {
	if _, err := s.tx.Exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

func (s pgSession) RollbackTo(ctx context.Context, name string) error {
	if _, err := s.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

func (s pgSession) Release(ctx context.Context, name string) error {
	if _, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
