package bench

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"qvet/internal/compare"
	"qvet/internal/db"
	"qvet/internal/rewrite"
	"qvet/internal/util"
)

// originalIdx marks the original query's slot in race results.
const originalIdx = -1

type raceParticipant struct {
	idx    int
	sql    string
	ctx    context.Context
	cancel context.CancelFunc
	tx     *db.Tx
	stop   func()
}

type raceResult struct {
	idx     int
	elapsed time.Duration
	sig     compare.Signature
	err     error
	// ctxErr is the participant context's state when the query failed.
	// Drivers word cancellation errors differently; the context is the
	// reliable signal that the straggler was cut off.
	ctxErr error
}

// runRace runs the original and every candidate simultaneously, one dedicated
// connection each, released from a common barrier. Once the original
// finishes, stragglers get a grace window proportional to the original's
// runtime and are then killed.
func (r *Runner) runRace(ctx context.Context, originalSQL string, candidates []rewrite.Candidate) []rewrite.BenchmarkOutcome {
	outcomes := make([]rewrite.BenchmarkOutcome, len(candidates))
	for i, cand := range candidates {
		outcomes[i] = rewrite.BenchmarkOutcome{
			CandidateID: cand.ID,
			State:       rewrite.BenchPending,
			Strategy:    StrategyRace,
		}
	}

	hardTimeout := time.Duration(r.Cfg.TimeoutMs) * time.Millisecond

	if r.Cfg.WarmupBeforeRace {
		if _, _, err := r.runOnce(ctx, originalSQL); err != nil {
			util.Warnf("warm-up run failed: %v", err)
		}
	}

	participants := make([]*raceParticipant, 0, len(candidates)+1)
	setup := func(idx int, sqlText string) (*raceParticipant, error) {
		pctx, cancel := context.WithTimeout(ctx, hardTimeout)
		tx, err := r.DB.BeginValidation(pctx)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := r.pin(pctx, tx); err != nil {
			tx.Close()
			cancel()
			return nil, err
		}
		return &raceParticipant{
			idx:    idx,
			sql:    r.Dialect.LimitWrap(sqlText, r.Cfg.RowCap),
			ctx:    pctx,
			cancel: cancel,
			tx:     tx,
			stop:   r.watch(pctx, tx.ConnID),
		}, nil
	}

	orig, err := setup(originalIdx, originalSQL)
	if err != nil {
		for i := range outcomes {
			outcomes[i] = erroredOutcome(candidates[i].ID, StrategyRace, "original setup failed: "+err.Error())
		}
		return outcomes
	}
	participants = append(participants, orig)
	for i, cand := range candidates {
		p, err := setup(i, cand.SQL)
		if err != nil {
			outcomes[i] = erroredOutcome(cand.ID, StrategyRace, "setup failed: "+err.Error())
			continue
		}
		participants = append(participants, p)
	}

	var arrive sync.WaitGroup
	arrive.Add(len(participants))
	release := make(chan struct{})
	results := make(chan raceResult, len(participants))

	for _, p := range participants {
		go func(p *raceParticipant) {
			defer p.stop()
			defer p.tx.Close()
			defer p.cancel()
			arrive.Done()
			<-release
			start := time.Now()
			rows, err := p.tx.QueryContext(p.ctx, p.sql)
			if err != nil {
				results <- raceResult{idx: p.idx, elapsed: time.Since(start), err: err, ctxErr: p.ctx.Err()}
				return
			}
			sig, err := r.Cmp.SignatureFromRows(rows)
			elapsed := time.Since(start)
			util.CloseWithErr(rows, "rows")
			results <- raceResult{idx: p.idx, elapsed: elapsed, sig: sig, err: err, ctxErr: p.ctx.Err()}
		}(p)
	}

	arrive.Wait()
	close(release)

	var (
		origDone     bool
		origErr      error
		origElapsed  time.Duration
		origSig      compare.Signature
		graceExpired atomic.Bool
		graceTimer   *time.Timer
	)
	candSigs := make([]compare.Signature, len(candidates))
	cancelStragglers := func() {
		for _, p := range participants {
			if p.idx != originalIdx {
				p.cancel()
			}
		}
	}

	for received := 0; received < len(participants); received++ {
		res := <-results
		if res.idx == originalIdx {
			origDone = true
			origErr = res.err
			origElapsed = res.elapsed
			origSig = res.sig
			if origErr != nil {
				cancelStragglers()
				continue
			}
			grace := time.Duration(float64(origElapsed) * r.Cfg.RaceGrace)
			graceTimer = time.AfterFunc(grace, func() {
				graceExpired.Store(true)
				cancelStragglers()
			})
			continue
		}
		out := &outcomes[res.idx]
		out.State = rewrite.BenchRunning
		switch {
		case res.err != nil && graceExpired.Load() && (res.ctxErr != nil || db.IsTimeoutErr(res.err)):
			out.State = rewrite.BenchDidNotFinish
			out.Err = res.err.Error()
		case res.err != nil && (db.IsTimeoutErr(res.err) || errors.Is(res.ctxErr, context.DeadlineExceeded)):
			out.State = rewrite.BenchTimedOut
			out.Err = res.err.Error()
		case res.err != nil:
			out.State = rewrite.BenchErrored
			out.Err = res.err.Error()
		default:
			out.State = rewrite.BenchCompleted
			out.CandidateTime = res.elapsed
			candSigs[res.idx] = res.sig
		}
	}
	if graceTimer != nil {
		graceTimer.Stop()
	}

	for i := range outcomes {
		out := &outcomes[i]
		if !origDone || origErr != nil {
			msg := "original did not finish"
			if origErr != nil {
				msg = "original failed: " + origErr.Error()
			}
			*out = erroredOutcome(out.CandidateID, StrategyRace, msg)
			continue
		}
		out.OriginalTime = origElapsed
		// RowCount reports the original's row count, as in the trimmed strategy.
		out.RowCount = origSig.Count
		if out.State == rewrite.BenchCompleted {
			out.ChecksumMatch = candSigs[i] == origSig
		}
	}
	return outcomes
}
