// Package postgres is the production implementation of domain.Store on pgx.
//
// Entity fetches that feed a state transition use SELECT ... FOR UPDATE so
// concurrent webhook deliveries touching the same order or subscription are
// serialized by the row lock for the duration of the transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukerupert/vanir/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is the slice of pgxpool.Pool and pgx.Tx the queries need.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store.
type Store struct {
	db   dbtx
	pool *pgxpool.Pool
}

// Compile-time check that Store implements domain.Store.
var _ domain.Store = (*Store)(nil)

// NewStore creates a new PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// RunInTx executes fn inside a single transaction. Nested calls reuse the
// enclosing transaction rather than opening a new one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, "store.runInTx", "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &Store{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, "store.runInTx", "failed to commit transaction")
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation,
// optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func internalf(err error, op, format string, args ...any) error {
	return domain.Internal(err, op, fmt.Sprintf(format, args...))
}
