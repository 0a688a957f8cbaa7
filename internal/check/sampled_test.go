package check

import (
	"context"
	"testing"

	"qvet/internal/compare"
	"qvet/internal/config"
	"qvet/internal/db"
	"qvet/internal/dialect"
	"qvet/internal/rewrite"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

// passthroughDialect lets tests control exactly which SQL hits the mock.
type passthroughDialect struct{}

func (passthroughDialect) Name() string { return "stub" }
func (passthroughDialect) SampleWrap(query string, _ []string, _ float64, _ int64) string {
	return query
}
func (passthroughDialect) LimitWrap(query string, _ int) string { return query }
func (passthroughDialect) PinStatements(int64) []string         { return nil }
func (passthroughDialect) CancelQuery(context.Context, dialect.Execer, uint64) error {
	return nil
}

func newSampledChecker(t *testing.T) (*SampledChecker, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	checker := &SampledChecker{
		DB:      db.FromStd(raw),
		Dialect: passthroughDialect{},
		Cfg: config.ValidationConfig{
			SampleFraction:    0.02,
			TimeoutMs:         5000,
			MaxDiffsPerColumn: 5,
		},
		Cmp: &compare.Comparator{MaxDiffsPerColumn: 5},
	}
	return checker, mock
}

func expectSnapshotQuery(mock sqlmock.Sqlmock, query string, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT CONNECTION_ID()").
		WillReturnRows(sqlmock.NewRows([]string{"CONNECTION_ID()"}).AddRow(7))
	mock.ExpectBegin()
	mock.ExpectQuery(query).WillReturnRows(rows)
	mock.ExpectRollback()
}

func expectSnapshotQueryErr(mock sqlmock.Sqlmock, query string, qerr error) {
	mock.ExpectQuery("SELECT CONNECTION_ID()").
		WillReturnRows(sqlmock.NewRows([]string{"CONNECTION_ID()"}).AddRow(7))
	mock.ExpectBegin()
	mock.ExpectQuery(query).WillReturnError(qerr)
	mock.ExpectRollback()
}

func resultRows(data ...[]driverValue) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name"})
	for _, row := range data {
		rows.AddRow(row[0], row[1])
	}
	return rows
}

type driverValue = any

func TestSampledCheckEqualRows(t *testing.T) {
	checker, mock := newSampledChecker(t)
	ctx := context.Background()

	expectSnapshotQuery(mock, "SELECT id, name FROM t",
		resultRows([]driverValue{"1", "x"}, []driverValue{"2", "y"}))
	orig, elapsed, err := checker.FetchSampled(ctx, "SELECT id, name FROM t", []string{"id", "name"})
	if err != nil {
		t.Fatalf("FetchSampled: %v", err)
	}
	if len(orig.Data) != 2 || elapsed < 0 {
		t.Fatalf("orig rows = %d", len(orig.Data))
	}

	// Same multiset in a different order still passes.
	expectSnapshotQuery(mock, "SELECT id, name FROM t2",
		resultRows([]driverValue{"2", "y"}, []driverValue{"1", "x"}))
	out := checker.Check(ctx, orig, "SELECT id, name FROM t2", []string{"id", "name"})
	if !out.Passed {
		t.Fatalf("equal sample rejected: %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSampledCheckRowCountFailFast(t *testing.T) {
	checker, mock := newSampledChecker(t)
	ctx := context.Background()

	expectSnapshotQuery(mock, "SELECT id, name FROM t",
		resultRows([]driverValue{"1", "x"}))
	orig, _, err := checker.FetchSampled(ctx, "SELECT id, name FROM t", nil)
	if err != nil {
		t.Fatalf("FetchSampled: %v", err)
	}

	// Candidate has three rows; reading must stop after originalCount+1.
	expectSnapshotQuery(mock, "SELECT id, name FROM t2",
		resultRows([]driverValue{"1", "x"}, []driverValue{"2", "y"}, []driverValue{"3", "z"}))
	out := checker.Check(ctx, orig, "SELECT id, name FROM t2", nil)
	if out.Passed || out.Uncertain {
		t.Fatalf("row count mismatch accepted: %+v", out)
	}
	if out.RowCountDiff == nil || out.RowCountDiff.CandidateCount != 2 {
		t.Fatalf("row count diff = %+v, want truncated candidate count 2", out.RowCountDiff)
	}
	if len(out.Errors) != 1 || out.Errors[0].Kind != rewrite.RowCountError {
		t.Fatalf("errors = %+v", out.Errors)
	}
}

func TestSampledCheckValueMismatch(t *testing.T) {
	checker, mock := newSampledChecker(t)
	ctx := context.Background()

	expectSnapshotQuery(mock, "SELECT id, name FROM t",
		resultRows([]driverValue{"1", "x"}, []driverValue{"2", "y"}))
	orig, _, err := checker.FetchSampled(ctx, "SELECT id, name FROM t", nil)
	if err != nil {
		t.Fatalf("FetchSampled: %v", err)
	}

	expectSnapshotQuery(mock, "SELECT id, name FROM t2",
		resultRows([]driverValue{"1", "x"}, []driverValue{"2", "WRONG"}))
	out := checker.Check(ctx, orig, "SELECT id, name FROM t2", nil)
	if out.Passed {
		t.Fatal("differing values accepted")
	}
	if len(out.ValueDiffs) == 0 || out.ValueDiffs[0].Column != "name" {
		t.Fatalf("value diffs = %+v", out.ValueDiffs)
	}
	if out.Errors[0].Kind != rewrite.ValueMismatchError {
		t.Fatalf("error kind = %s", out.Errors[0].Kind)
	}
}

func TestSampledCheckInconclusiveEngineError(t *testing.T) {
	checker, mock := newSampledChecker(t)
	ctx := context.Background()
	orig := &compare.Rows{Columns: []string{"id"}, Data: [][]string{{"1"}}}

	expectSnapshotQueryErr(mock, "SELECT id FROM t2",
		&mysql.MySQLError{Number: 1292, Message: "truncated incorrect DOUBLE value"})
	out := checker.Check(ctx, orig, "SELECT id FROM t2", nil)
	if out.Passed || !out.Uncertain {
		t.Fatalf("whitelisted engine error should be uncertain: %+v", out)
	}
}

func TestSampledCheckUnknownPredicateColumnIsUncertain(t *testing.T) {
	// The sample predicate names the original's columns; a candidate that does
	// not expose one of them fails with ER_BAD_FIELD_ERROR and stays uncertain
	// so the benchmark checksum can settle it.
	checker, mock := newSampledChecker(t)
	ctx := context.Background()
	orig := &compare.Rows{Columns: []string{"id", "name"}, Data: [][]string{{"1", "x"}}}

	expectSnapshotQueryErr(mock, "SELECT * FROM t2",
		&mysql.MySQLError{Number: 1054, Message: "Unknown column 'name' in 'where clause'"})
	out := checker.Check(ctx, orig, "SELECT * FROM t2", []string{"id", "name"})
	if out.Passed || !out.Uncertain {
		t.Fatalf("unknown predicate column should be uncertain: %+v", out)
	}
}

func TestSampledCheckHardExecutionError(t *testing.T) {
	checker, mock := newSampledChecker(t)
	ctx := context.Background()
	orig := &compare.Rows{Columns: []string{"id"}, Data: [][]string{{"1"}}}

	expectSnapshotQueryErr(mock, "SELECT id FROM missing",
		&mysql.MySQLError{Number: 1146, Message: "table missing doesn't exist"})
	out := checker.Check(ctx, orig, "SELECT id FROM missing", nil)
	if out.Passed || out.Uncertain {
		t.Fatalf("hard error should reject: %+v", out)
	}
	if out.Errors[0].Kind != rewrite.ExecutionError {
		t.Fatalf("error kind = %s", out.Errors[0].Kind)
	}
}
