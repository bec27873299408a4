// Package postgres implements the ledger store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/backoffice/internal/domain/ledger"
)

// Store persists reference entities and event journals in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ledgerTx struct {
	tx    pgx.Tx
	store *Store
}

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("ledger store: nil pool")
	}
	return s.pool, nil
}

const lastReleasedSQL = `
SELECT GREATEST(
    COALESCE((SELECT MAX(event_id) FROM event_log), 0),
    COALESCE((SELECT MAX(event_id) FROM fx_event_log), 0),
    COALESCE((SELECT MAX(event_id) FROM price_event_log), 0),
    COALESCE((SELECT MAX(event_id) FROM event_exception_log), 0)
);
`

// LastReleased returns the maximum event id recorded across the four journal tables.
func (s *Store) LastReleased(ctx context.Context) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}
	var last int64
	if err := pool.QueryRow(ctx, lastReleasedSQL).Scan(&last); err != nil {
		return 0, fmt.Errorf("ledger store: last released: %w", err)
	}
	return last, nil
}

// WithTransaction executes the supplied callback within a database transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("ledger store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("ledger store: begin tx: %w", err)
	}
	wrapped := &ledgerTx{tx: tx, store: s}
	runErr := fn(ctx, wrapped)
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("ledger store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("ledger store: commit tx: %w", err)
	}
	return nil
}
