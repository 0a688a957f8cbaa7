package check

import (
	"context"
	"fmt"
	"time"

	"qvet/internal/compare"
	"qvet/internal/config"
	"qvet/internal/db"
	"qvet/internal/dialect"
	"qvet/internal/rewrite"
	"qvet/internal/util"
)

// SampledOutcome is what the sampled logic tier learned about one candidate.
type SampledOutcome struct {
	Passed       bool
	Uncertain    bool
	Errors       []rewrite.CheckError
	RowCountDiff *rewrite.RowCountDiff
	ValueDiffs   []rewrite.ValueDiff
	Elapsed      time.Duration
}

// SampledChecker runs the sampled logic tier: original and candidates execute
// against the same deterministic sample of the result multiset, inside
// rollback-only snapshot transactions.
type SampledChecker struct {
	DB      *db.DB
	Dialect dialect.Dialect
	Cfg     config.ValidationConfig
	Cmp     *compare.Comparator

	// PinnedTimestamp freezes time-of-day functions for queries that need it.
	PinnedTimestamp int64
	// NeedsPin is set by the determinism scan of the original query.
	NeedsPin bool
}

// FetchSampled executes the original query's sample exactly once per session.
// The returned elapsed time doubles as the runtime estimate input for the
// benchmark strategy choice.
func (s *SampledChecker) FetchSampled(ctx context.Context, originalSQL string, columns []string) (*compare.Rows, time.Duration, error) {
	sampled := s.Dialect.SampleWrap(originalSQL, columns, s.Cfg.SampleFraction, s.Cfg.SampleSeed)
	rows, elapsed, err := s.runSampled(ctx, sampled, 0)
	if err != nil {
		return nil, elapsed, err
	}
	return rows, elapsed, nil
}

// Check executes one candidate's sample and compares it with the original's.
// columns must be the original's resolved projection, the same list handed to
// FetchSampled: both predicates hash the same columns in the same order, so
// equivalent queries keep identical subsets. A candidate that does not expose
// one of those columns fails with ER_BAD_FIELD_ERROR, which is whitelisted as
// inconclusive. Row counts are compared first; reading stops as soon as the
// candidate exceeds the original's count.
func (s *SampledChecker) Check(ctx context.Context, original *compare.Rows, candidateSQL string, columns []string) SampledOutcome {
	sampled := s.Dialect.SampleWrap(candidateSQL, columns, s.Cfg.SampleFraction, s.Cfg.SampleSeed)
	candRows, elapsed, err := s.runSampled(ctx, sampled, len(original.Data)+1)
	out := SampledOutcome{Elapsed: elapsed}
	if err != nil {
		return s.outcomeForErr(out, candidateSQL, err)
	}
	origCount := int64(len(original.Data))
	candCount := int64(len(candRows.Data))
	if candCount != origCount {
		out.RowCountDiff = &rewrite.RowCountDiff{
			OriginalCount:  origCount,
			CandidateCount: candCount,
			Diff:           candCount - origCount,
			SampleFraction: s.Cfg.SampleFraction,
		}
		out.Errors = append(out.Errors, rewrite.CheckError{
			Kind: rewrite.RowCountError,
			Msg:  fmt.Sprintf("sampled row count %d, want %d", candCount, origCount),
		})
		return out
	}
	equal, diffs := s.Cmp.RowsEqual(original, candRows)
	if !equal {
		out.ValueDiffs = diffs
		out.Errors = append(out.Errors, rewrite.CheckError{
			Kind: rewrite.ValueMismatchError,
			Msg:  fmt.Sprintf("%d sampled cell(s) differ", len(diffs)),
		})
		return out
	}
	out.Passed = true
	return out
}

func (s *SampledChecker) outcomeForErr(out SampledOutcome, sqlText string, err error) SampledOutcome {
	if db.IsTimeoutErr(err) {
		out.Uncertain = true
		out.Errors = append(out.Errors, rewrite.CheckError{
			Kind: rewrite.TimeoutError,
			Msg:  fmt.Sprintf("sampled check exceeded %dms", s.Cfg.TimeoutMs),
		})
		return out
	}
	if code, ok := db.IsInconclusiveErr(err); ok {
		util.Detailf("sampled check inconclusive code=%d sql=%s err=%v", code, sqlText, err)
		out.Uncertain = true
		out.Errors = append(out.Errors, rewrite.CheckError{
			Kind: rewrite.ExecutionError,
			Msg:  fmt.Sprintf("inconclusive engine error %d: %v", code, err),
		})
		return out
	}
	out.Errors = append(out.Errors, rewrite.CheckError{
		Kind: rewrite.ExecutionError,
		Msg:  err.Error(),
	})
	return out
}

// runSampled executes one sampled query in its own snapshot transaction with
// the tier timeout and a server-side kill watchdog.
func (s *SampledChecker) runSampled(ctx context.Context, sqlText string, rowCap int) (*compare.Rows, time.Duration, error) {
	qctx, cancel := context.WithTimeout(ctx, time.Duration(s.Cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	tx, err := s.DB.BeginValidation(qctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Close()
	stop := s.watch(qctx, tx.ConnID)
	defer stop()

	if s.NeedsPin {
		for _, stmtText := range s.Dialect.PinStatements(s.PinnedTimestamp) {
			if _, err := tx.ExecContext(qctx, stmtText); err != nil {
				return nil, 0, err
			}
		}
	}

	start := time.Now()
	rows, err := tx.QueryContext(qctx, sqlText)
	if err != nil {
		return nil, time.Since(start), err
	}
	defer util.CloseWithErr(rows, "rows")
	result, err := s.Cmp.ReadRows(rows, rowCap)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	return result, elapsed, nil
}

// watch kills the running query server-side if the tier deadline expires.
// The returned stop function must be called once the query has finished.
func (s *SampledChecker) watch(qctx context.Context, connID uint64) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-qctx.Done():
			kctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Dialect.CancelQuery(kctx, s.DB, connID); err != nil {
				util.Warnf("kill query conn=%d: %v", connID, err)
			}
		}
	}()
	return func() { close(done) }
}
