// Package dialect isolates engine-specific SQL syntax: deterministic result
// sampling, row capping, time pinning, and server-side query cancellation.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Execer is the subset of a connection the dialect needs for cancellation.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect adapts the pipeline's generic operations to one engine's syntax.
type Dialect interface {
	// Name returns the engine name ("mysql", "tidb").
	Name() string

	// SampleWrap rewrites a query so it returns a deterministic subset of
	// its result multiset. Two semantically equivalent queries must see the
	// same subset for the same seed and fraction.
	SampleWrap(query string, columns []string, fraction float64, seed int64) string

	// LimitWrap caps the number of rows a query may return.
	LimitWrap(query string, limit int) string

	// PinStatements returns session statements that freeze time-of-day
	// functions at the given epoch second.
	PinStatements(epoch int64) []string

	// CancelQuery stops the statement currently running on the connection
	// identified by connID. It must be issued on a different connection.
	CancelQuery(ctx context.Context, exec Execer, connID uint64) error
}

// ForEngine returns the dialect for the configured engine name.
// TiDB speaks the MySQL dialect for everything this pipeline needs.
func ForEngine(engine string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", "mysql", "tidb":
		return &MySQL{engine: normalizeEngine(engine)}, nil
	default:
		return nil, errors.Errorf("unsupported engine %q", engine)
	}
}

func normalizeEngine(engine string) string {
	engine = strings.ToLower(strings.TrimSpace(engine))
	if engine == "" {
		return "mysql"
	}
	return engine
}

// MySQL implements Dialect for MySQL and TiDB.
type MySQL struct {
	engine string
}

// Name implements Dialect.
func (m *MySQL) Name() string { return m.engine }

// sampleModulus is the resolution of the sampling predicate: a fraction of
// 0.02 keeps rows whose hash lands below 200 out of 10000.
const sampleModulus = 10000

// SampleWrap filters the query's result through a deterministic row-content
// hash. The predicate is computed over the declared output columns only, so
// any query producing the same multiset keeps the same rows.
func (m *MySQL) SampleWrap(query string, columns []string, fraction float64, seed int64) string {
	threshold := int64(fraction * sampleModulus)
	if threshold >= sampleModulus || len(columns) == 0 {
		return query
	}
	if threshold < 1 {
		threshold = 1
	}
	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, fmt.Sprintf("'%d'", seed))
	for _, col := range columns {
		parts = append(parts, quoteIdent(col))
	}
	return fmt.Sprintf(
		"SELECT * FROM (%s) qv_sample WHERE MOD(CRC32(CONCAT_WS('#', %s)), %d) < %d",
		query, strings.Join(parts, ", "), sampleModulus, threshold,
	)
}

// LimitWrap implements Dialect.
func (m *MySQL) LimitWrap(query string, limit int) string {
	if limit <= 0 {
		return query
	}
	return fmt.Sprintf("SELECT * FROM (%s) qv_cap LIMIT %d", query, limit)
}

// PinStatements freezes NOW(), CURDATE() and friends via the session
// timestamp. RAND()-class functions cannot be pinned this way; those are
// rejected upstream.
func (m *MySQL) PinStatements(epoch int64) []string {
	if epoch <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("SET TIMESTAMP = %d", epoch)}
}

// CancelQuery implements Dialect. KILL QUERY aborts the running statement but
// keeps the target connection alive.
func (m *MySQL) CancelQuery(ctx context.Context, exec Execer, connID uint64) error {
	_, err := exec.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", connID))
	return err
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
