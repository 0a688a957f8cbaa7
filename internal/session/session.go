// Package session orchestrates the full validation pipeline for one original
// query and its candidate rewrites: structural check, sampled logic check,
// dialect check, benchmark, and classification.
package session

import (
	"context"
	"fmt"
	"time"

	"qvet/internal/bench"
	"qvet/internal/check"
	"qvet/internal/classify"
	"qvet/internal/compare"
	"qvet/internal/config"
	"qvet/internal/db"
	"qvet/internal/dialect"
	"qvet/internal/rewrite"
	"qvet/internal/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// SemanticChecker is the sampled logic tier as the orchestrator sees it.
type SemanticChecker interface {
	FetchSampled(ctx context.Context, originalSQL string, columns []string) (*compare.Rows, time.Duration, error)
	Check(ctx context.Context, original *compare.Rows, candidateSQL string, columns []string) check.SampledOutcome
}

// BenchRunner is the benchmark tier as the orchestrator sees it.
type BenchRunner interface {
	Run(ctx context.Context, originalSQL string, candidates []rewrite.Candidate, estimate time.Duration) []rewrite.BenchmarkOutcome
}

// Reporter persists a finished session.
type Reporter interface {
	Write(ctx context.Context, originalSQL string, reports []rewrite.CandidateReport) error
}

// Session runs validation sessions against one database.
type Session struct {
	cfg  config.Config
	dial dialect.Dialect
	cmp  *compare.Comparator

	dialectChecker check.DialectChecker
	newSampled     func(needsPin bool) SemanticChecker
	newBench       func(needsPin bool) BenchRunner
	reporter       Reporter
}

// New wires a session against an open database.
func New(cfg config.Config, database *db.DB) (*Session, error) {
	dial, err := dialect.ForEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	cmp := &compare.Comparator{
		RoundScale:        cfg.Validation.FloatPrecision,
		MaxDiffsPerColumn: cfg.Validation.MaxDiffsPerColumn,
	}
	s := &Session{
		cfg:            cfg,
		dial:           dial,
		cmp:            cmp,
		dialectChecker: check.NoopDialectChecker{},
	}
	s.newSampled = func(needsPin bool) SemanticChecker {
		return &check.SampledChecker{
			DB:              database,
			Dialect:         dial,
			Cfg:             cfg.Validation,
			Cmp:             cmp,
			PinnedTimestamp: cfg.Benchmark.PinnedTimestamp,
			NeedsPin:        needsPin,
		}
	}
	s.newBench = func(needsPin bool) BenchRunner {
		return &bench.Runner{
			DB:              database,
			Dialect:         dial,
			Cfg:             cfg.Benchmark,
			Cmp:             cmp,
			NeedsPin:        needsPin,
			PinnedTimestamp: cfg.Benchmark.PinnedTimestamp,
		}
	}
	return s, nil
}

// SetDialectChecker installs the optional tier-3 checker.
func (s *Session) SetDialectChecker(dc check.DialectChecker) {
	if dc != nil {
		s.dialectChecker = dc
	}
}

// SetReporter installs a report writer for finished sessions.
func (s *Session) SetReporter(rep Reporter) { s.reporter = rep }

// Validate runs the whole pipeline. The returned reports keep the input
// candidate order; every candidate gets exactly one terminal record.
func (s *Session) Validate(ctx context.Context, originalSQL string, candidates []rewrite.Candidate) ([]rewrite.CandidateReport, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	origStmt, err := check.Parse(originalSQL)
	if err != nil {
		return nil, errors.Wrap(err, "parse original query")
	}
	origDet := check.ScanDeterminism(origStmt)
	if len(origDet.Blocked) > 0 {
		return nil, errors.Errorf("original query uses unpinnable functions %v", origDet.Blocked)
	}
	structural, err := check.NewStructural(originalSQL)
	if err != nil {
		return nil, errors.Wrap(err, "parse original query")
	}

	reports := make([]rewrite.CandidateReport, len(candidates))
	needsPin := origDet.NeedsPin
	for i, cand := range candidates {
		if cand.ID == "" {
			cand.ID = uuid.NewString()
		}
		reports[i] = rewrite.CandidateReport{Candidate: cand}
	}

	// Tier 1: structural column contract plus determinism screening.
	for i := range reports {
		cand := &reports[i].Candidate
		sem := &reports[i].Semantic
		res := structural.Check(cand.SQL)
		if res.Err != nil {
			sem.TierReached = tierFor(res.Err.Kind)
			sem.Verdict = rewrite.VerdictNotEquivalent
			sem.Errors = append(sem.Errors, *res.Err)
			sem.ColumnMismatch = res.Mismatch
			sem.SQLDiff = sqlDiff(originalSQL, cand.SQL)
			continue
		}
		stmt, perr := check.Parse(cand.SQL)
		if perr != nil {
			sem.Verdict = rewrite.VerdictNotEquivalent
			sem.Errors = append(sem.Errors, rewrite.CheckError{Kind: rewrite.ParseError, Msg: perr.Error()})
			continue
		}
		det := check.ScanDeterminism(stmt)
		if len(det.Blocked) > 0 {
			sem.TierReached = 1
			sem.Verdict = rewrite.VerdictNotEquivalent
			sem.Errors = append(sem.Errors, rewrite.CheckError{
				Kind: rewrite.NonDeterminismError,
				Msg:  fmt.Sprintf("unpinnable functions %v", det.Blocked),
			})
			continue
		}
		needsPin = needsPin || det.NeedsPin
		sem.TierReached = 1
		sem.Verdict = rewrite.VerdictEquivalent
		if res.Uncertain {
			sem.Verdict = rewrite.VerdictUncertain
		}
		if len(cand.DeclaredColumns) == 0 {
			cand.DeclaredColumns = res.Columns
		}
		sem.Passed = true
	}

	// Tier 2: sampled logic check. The original's sample is fetched once and
	// shared across workers. The original's resolved columns drive the sample
	// predicate on both sides; when the original is a wildcard the predicate
	// degrades to a full comparison for everyone, never for one side only.
	sampleCols, _ := structural.OriginalColumns()
	checker := s.newSampled(needsPin)
	origRows, origElapsed, err := checker.FetchSampled(ctx, originalSQL, sampleCols)
	if err != nil {
		return nil, errors.Wrap(err, "sample original query")
	}
	util.Infof("sampled original rows=%d elapsed=%s fraction=%.4f", len(origRows.Data), origElapsed, s.cfg.Validation.SampleFraction)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Validation.Workers)
	for i := range reports {
		if !reports[i].Semantic.Passed {
			continue
		}
		i := i
		g.Go(func() error {
			cand := reports[i].Candidate
			sem := &reports[i].Semantic
			out := checker.Check(gctx, origRows, cand.SQL, sampleCols)
			sem.TierReached = 2
			sem.Elapsed = out.Elapsed
			sem.Errors = append(sem.Errors, out.Errors...)
			sem.RowCountDiff = out.RowCountDiff
			sem.ValueDiffs = out.ValueDiffs
			switch {
			case out.Passed:
				sem.Passed = true
				if sem.Verdict != rewrite.VerdictUncertain {
					sem.Verdict = rewrite.VerdictEquivalent
				}
			case out.Uncertain:
				sem.Passed = false
				sem.Verdict = rewrite.VerdictUncertain
			default:
				sem.Passed = false
				sem.Verdict = rewrite.VerdictNotEquivalent
				sem.SQLDiff = sqlDiff(originalSQL, cand.SQL)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Tier 3: optional dialect compatibility.
	if _, noop := s.dialectChecker.(check.NoopDialectChecker); !noop {
		for i := range reports {
			sem := &reports[i].Semantic
			if !sem.EligibleForBenchmark() {
				continue
			}
			stmt, perr := check.Parse(reports[i].Candidate.SQL)
			if perr != nil {
				continue
			}
			sem.TierReached = 3
			if cerr := s.dialectChecker.Check(stmt); cerr != nil {
				sem.Passed = false
				sem.Verdict = rewrite.VerdictNotEquivalent
				sem.Errors = append(sem.Errors, *cerr)
			}
		}
	}

	// Benchmark the survivors.
	var eligible []rewrite.Candidate
	idxByID := make(map[string]int)
	for i := range reports {
		if reports[i].Semantic.EligibleForBenchmark() {
			eligible = append(eligible, reports[i].Candidate)
			idxByID[reports[i].Candidate.ID] = i
		}
	}
	if len(eligible) > 0 {
		estimate := s.estimate(origElapsed)
		runner := s.newBench(needsPin)
		outcomes := runner.Run(ctx, originalSQL, eligible, estimate)
		for _, out := range outcomes {
			i, ok := idxByID[out.CandidateID]
			if !ok {
				continue
			}
			out := out
			out.Classification = classify.FromOutcome(out, s.cfg.Classify)
			reports[i].Outcome = &out
			reports[i].Classification = out.Classification
		}
	}

	for i := range reports {
		if reports[i].Outcome == nil {
			reports[i].Classification = classifyRejected(reports[i].Semantic)
		}
		util.Highlightf("candidate=%s tier=%d verdict=%s class=%s",
			reports[i].Candidate.ID, reports[i].Semantic.TierReached,
			reports[i].Semantic.Verdict, reports[i].Classification)
	}

	if s.reporter != nil {
		if err := s.reporter.Write(ctx, originalSQL, reports); err != nil {
			util.Errorf("write session report: %v", err)
		}
	}
	return reports, nil
}

// estimate picks the runtime estimate that selects the benchmark strategy.
// The sample predicate filters a derived table, so the inner query still runs
// in full and the sampled elapsed time already approximates the full runtime.
// An explicit configured estimate wins.
func (s *Session) estimate(sampledElapsed time.Duration) time.Duration {
	if s.cfg.Benchmark.EstimateMs > 0 {
		return time.Duration(s.cfg.Benchmark.EstimateMs) * time.Millisecond
	}
	return sampledElapsed
}

// classifyRejected maps a semantic rejection to its terminal classification:
// a tier-2 result difference is a correctness regression, everything that
// stopped before executing (parse, contract, determinism, dialect) is an
// error.
func classifyRejected(sem rewrite.SemanticValidationResult) rewrite.Classification {
	for _, cerr := range sem.Errors {
		switch cerr.Kind {
		case rewrite.RowCountError, rewrite.ValueMismatchError:
			return rewrite.ClassRegression
		}
	}
	return rewrite.ClassError
}

// sqlDiff renders a definitive rejection as a two-line diff for the report.
func sqlDiff(original, candidate string) string {
	return "- " + original + "\n+ " + candidate
}

func tierFor(kind rewrite.ErrorKind) int {
	if kind == rewrite.ParseError {
		return 0
	}
	return 1
}
