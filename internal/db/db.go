// Package db wraps database/sql with the connection, transaction, and query
// helpers the validation pipeline needs: dedicated per-check connections,
// rollback-only snapshot transactions, and server-side query cancellation.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"qvet/internal/util"

	_ "github.com/go-sql-driver/mysql"
)

// DB is a thin wrapper over *sql.DB.
type DB struct {
	db  *sql.DB
	dsn string
}

// Open opens a connection pool for the given DSN and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*DB, error) {
	raw, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(32)
	raw.SetMaxIdleConns(8)
	raw.SetConnMaxLifetime(10 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		util.CloseWithErr(raw, "db")
		return nil, err
	}
	return &DB{db: raw, dsn: dsn}, nil
}

// FromStd wraps an already opened pool. The caller keeps ownership of pool
// settings.
func FromStd(raw *sql.DB) *DB {
	return &DB{db: raw}
}

// DSN returns the DSN this pool was opened with.
func (d *DB) DSN() string { return d.dsn }

// Close closes the underlying pool.
func (d *DB) Close() error { return d.db.Close() }

// Conn checks a dedicated connection out of the pool.
func (d *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	return d.db.Conn(ctx)
}

// QueryContext runs a query on the pool, retrying once on a stale connection.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if retryableConnErr(err) {
		rows, err = d.db.QueryContext(ctx, query, args...)
	}
	return rows, err
}

// ExecContext runs a statement on the pool, retrying once on a stale connection.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if retryableConnErr(err) {
		res, err = d.db.ExecContext(ctx, query, args...)
	}
	return res, err
}

// QueryCount runs the query wrapped in COUNT(*) and returns the row count.
func (d *DB) QueryCount(ctx context.Context, query string) (int64, error) {
	var count int64
	wrapped := fmt.Sprintf("SELECT COUNT(*) FROM (%s) qv_count", query)
	if err := d.db.QueryRowContext(ctx, wrapped).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func retryableConnErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid connection") || strings.Contains(msg, "broken pipe")
}
