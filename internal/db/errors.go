package db

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// inconclusiveErrWhitelist lists MySQL error codes that make a sampled check
// inconclusive rather than a rejection.
// 1054 is an unknown-column error, raised when the sampling predicate names a
// column the wrapped query does not expose.
// 1064 is the generic SQL syntax error, raised when the engine rejects syntax
// the structural parser accepted.
// 1292 is a type truncation error triggered by type-mismatched predicates.
// 1690 is an out-of-range error from arithmetic under strict mode.
var inconclusiveErrWhitelist = map[uint16]struct{}{
	1054: {},
	1064: {},
	1292: {},
	1690: {},
}

// IsInconclusiveErr reports whether the error is a whitelisted engine error
// that should downgrade a check to UNCERTAIN instead of failing it.
func IsInconclusiveErr(err error) (uint16, bool) {
	if err == nil {
		return 0, false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		_, ok := inconclusiveErrWhitelist[mysqlErr.Number]
		return mysqlErr.Number, ok
	}
	return 0, false
}

// ErrCode extracts the MySQL error code, if the error carries one.
func ErrCode(err error) (uint16, bool) {
	if err == nil {
		return 0, false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number, true
	}
	return 0, false
}

// IsTimeoutErr reports whether the error means the query ran out of time,
// either through context cancellation or a server-side kill.
func IsTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// ER_QUERY_INTERRUPTED: the watchdog killed the query server-side.
	if code, ok := ErrCode(err); ok && code == 1317 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "query execution was interrupted")
}
