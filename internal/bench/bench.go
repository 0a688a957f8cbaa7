// Package bench measures candidate rewrites against the original query,
// either head-to-head in a synchronized race or with repeated timed runs.
package bench

import (
	"context"
	"sort"
	"time"

	"qvet/internal/compare"
	"qvet/internal/config"
	"qvet/internal/db"
	"qvet/internal/dialect"
	"qvet/internal/rewrite"
	"qvet/internal/util"
)

// Benchmark strategies.
const (
	StrategyRace        = "race"
	StrategyTrimmedMean = "trimmed_mean"
)

// Runner executes the benchmark tier.
type Runner struct {
	DB      *db.DB
	Dialect dialect.Dialect
	Cfg     config.BenchmarkConfig
	Cmp     *compare.Comparator

	// NeedsPin freezes time-of-day functions during measured runs.
	NeedsPin bool
	// PinnedTimestamp is the epoch second used when NeedsPin is set.
	PinnedTimestamp int64
}

// Run benchmarks every candidate against the original. The estimate, usually
// the original's sampled-tier runtime, selects the strategy: slow queries
// race once, fast queries get repeated timed runs.
func (r *Runner) Run(ctx context.Context, originalSQL string, candidates []rewrite.Candidate, estimate time.Duration) []rewrite.BenchmarkOutcome {
	if len(candidates) == 0 {
		return nil
	}
	if estimate >= time.Duration(r.Cfg.RaceThresholdMs)*time.Millisecond {
		util.Infof("benchmark strategy=%s estimate=%s candidates=%d", StrategyRace, estimate, len(candidates))
		return r.runRace(ctx, originalSQL, candidates)
	}
	util.Infof("benchmark strategy=%s estimate=%s candidates=%d", StrategyTrimmedMean, estimate, len(candidates))
	return r.runTrimmed(ctx, originalSQL, candidates)
}

// runTrimmed measures each query with repeated runs, discarding the extremes
// and averaging the rest.
func (r *Runner) runTrimmed(ctx context.Context, originalSQL string, candidates []rewrite.Candidate) []rewrite.BenchmarkOutcome {
	origMean, origSig, err := r.trimmedRuns(ctx, originalSQL)
	outcomes := make([]rewrite.BenchmarkOutcome, len(candidates))
	if err != nil {
		for i, cand := range candidates {
			outcomes[i] = erroredOutcome(cand.ID, StrategyTrimmedMean, "original query failed: "+err.Error())
		}
		return outcomes
	}
	for i, cand := range candidates {
		out := rewrite.BenchmarkOutcome{
			CandidateID:  cand.ID,
			State:        rewrite.BenchRunning,
			Strategy:     StrategyTrimmedMean,
			OriginalTime: origMean,
			RowCount:     origSig.Count,
		}
		mean, sig, err := r.trimmedRuns(ctx, cand.SQL)
		switch {
		case err != nil && db.IsTimeoutErr(err):
			out.State = rewrite.BenchTimedOut
			out.Err = err.Error()
		case err != nil:
			out.State = rewrite.BenchErrored
			out.Err = err.Error()
		default:
			out.State = rewrite.BenchCompleted
			out.CandidateTime = mean
			out.ChecksumMatch = sig == origSig
		}
		outcomes[i] = out
	}
	return outcomes
}

// trimmedRuns measures one query Cfg.TrimmedRuns times and returns the
// trimmed mean and the signature of the first run.
func (r *Runner) trimmedRuns(ctx context.Context, sqlText string) (time.Duration, compare.Signature, error) {
	runs := r.Cfg.TrimmedRuns
	times := make([]time.Duration, 0, runs)
	var firstSig compare.Signature
	for i := 0; i < runs; i++ {
		elapsed, sig, err := r.runOnce(ctx, sqlText)
		if err != nil {
			return 0, compare.Signature{}, err
		}
		if i == 0 {
			firstSig = sig
		}
		times = append(times, elapsed)
	}
	return trimmedMean(times, r.Cfg.TrimCount), firstSig, nil
}

func trimmedMean(times []time.Duration, trim int) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if trim*2 >= len(sorted) {
		trim = 0
	}
	kept := sorted[trim : len(sorted)-trim]
	var total time.Duration
	for _, t := range kept {
		total += t
	}
	return total / time.Duration(len(kept))
}

// runOnce executes one measured run in a fresh snapshot transaction. The
// result is streamed into an order-insensitive signature; rows beyond the
// configured cap still count but are read through the capped query.
func (r *Runner) runOnce(ctx context.Context, sqlText string) (time.Duration, compare.Signature, error) {
	qctx, cancel := context.WithTimeout(ctx, time.Duration(r.Cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	tx, err := r.DB.BeginValidation(qctx)
	if err != nil {
		return 0, compare.Signature{}, err
	}
	defer tx.Close()
	stop := r.watch(qctx, tx.ConnID)
	defer stop()

	if err := r.pin(qctx, tx); err != nil {
		return 0, compare.Signature{}, err
	}

	capped := r.Dialect.LimitWrap(sqlText, r.Cfg.RowCap)
	start := time.Now()
	rows, err := tx.QueryContext(qctx, capped)
	if err != nil {
		return time.Since(start), compare.Signature{}, err
	}
	defer util.CloseWithErr(rows, "rows")
	sig, err := r.Cmp.SignatureFromRows(rows)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, compare.Signature{}, err
	}
	return elapsed, sig, nil
}

func (r *Runner) pin(ctx context.Context, tx *db.Tx) error {
	if !r.NeedsPin {
		return nil
	}
	for _, stmtText := range r.Dialect.PinStatements(r.PinnedTimestamp) {
		if _, err := tx.ExecContext(ctx, stmtText); err != nil {
			return err
		}
	}
	return nil
}

// watch kills the running query server-side once the context expires.
func (r *Runner) watch(qctx context.Context, connID uint64) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-qctx.Done():
			kctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.Dialect.CancelQuery(kctx, r.DB, connID); err != nil {
				util.Warnf("kill query conn=%d: %v", connID, err)
			}
		}
	}()
	return func() { close(done) }
}

func erroredOutcome(candidateID, strategy, msg string) rewrite.BenchmarkOutcome {
	return rewrite.BenchmarkOutcome{
		CandidateID: candidateID,
		State:       rewrite.BenchErrored,
		Strategy:    strategy,
		Err:         msg,
	}
}
