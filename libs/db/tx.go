package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/eventrelay/libs/store"
)

// Querier is satisfied by the pool and by an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is what DB needs from a pool. *Pool and pgxmock pools both satisfy it.
type Conn interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB is the postgres Transactor. Repositories call Querier(ctx) so their
// statements join whatever unit of work ctx carries.
type DB struct {
	conn Conn
}

var _ store.Transactor = (*DB)(nil)

func New(conn Conn) *DB {
	return &DB{conn: conn}
}

func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := store.ScopeOf(ctx, d); ok {
		return fn(ctx)
	}

	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	scope := store.NewScope(d, tx)
	if err := fn(store.WithScope(ctx, scope)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	scope.Committed(ctx)
	return nil
}

func (d *DB) Querier(ctx context.Context) Querier {
	if s, ok := store.ScopeOf(ctx, d); ok {
		if tx, ok := s.Tx.(pgx.Tx); ok {
			return tx
		}
	}
	return d.conn
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsNoRows maps pgx's empty result to a boolean so callers can return store.ErrNotFound.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
