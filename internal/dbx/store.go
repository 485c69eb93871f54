// Package dbx provides the shared Postgres access layer every store in
// this module embeds: transaction-aware querying via a context-scoped
// *sql.Tx, the same pattern the teacher's pkg/storage/postgres.BaseStore
// uses, generalized from a single-table helper into a plain connection
// holder since each store here (queue, document, blob, webhook) owns its
// own table and query set.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txKey struct{}

// TxFromContext extracts a transaction previously attached by ContextWithTx.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// ContextWithTx attaches tx to ctx so nested store calls reuse it.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// DB wraps a *sql.DB with transaction-aware query helpers.
type DB struct {
	conn *sql.DB
}

// New wraps an already-open connection.
func New(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Conn returns the underlying *sql.DB, e.g. to hand to pq.Listener.
func (d *DB) Conn() *sql.DB { return d.conn }

// Querier returns the active transaction if ctx carries one, else the pool.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.conn
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if TxFromContext(ctx) != nil {
		// Already inside a transaction; nest by reusing it.
		return fn(ctx)
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbx: begin tx: %w", err)
	}
	txCtx := ContextWithTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
