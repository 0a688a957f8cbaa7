package db

import (
	"context"
	"database/sql"

	"qvet/internal/util"
)

// Tx is a rollback-only snapshot transaction on a dedicated connection.
// ConnID is the server-side connection id, used for KILL-based cancellation.
type Tx struct {
	conn   *sql.Conn
	tx     *sql.Tx
	ConnID uint64

	// Cancel, when set, is invoked once during Close to stop any watchdog
	// started against this transaction's connection.
	Cancel func()
}

// BeginValidation checks out a connection, resolves its server connection id,
// and opens a repeatable-read read-only transaction on it. The transaction is
// never committed; Close always rolls back.
func (d *DB) BeginValidation(ctx context.Context) (*Tx, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var connID uint64
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connID); err != nil {
		util.CloseWithErr(conn, "conn")
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		util.CloseWithErr(conn, "conn")
		return nil, err
	}
	return &Tx{conn: conn, tx: tx, ConnID: connID}, nil
}

// QueryContext runs a query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement inside the transaction. Only session-scoped
// statements (SET TIMESTAMP and friends) belong here; the transaction is
// read-only for data.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Close rolls back the transaction and returns the connection to the pool.
// Safe to call more than once.
func (t *Tx) Close() {
	if t == nil {
		return
	}
	if t.Cancel != nil {
		t.Cancel()
		t.Cancel = nil
	}
	if t.tx != nil {
		_ = t.tx.Rollback()
		t.tx = nil
	}
	if t.conn != nil {
		util.CloseWithErr(t.conn, "conn")
		t.conn = nil
	}
}
