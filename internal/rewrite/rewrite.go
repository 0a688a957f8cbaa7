// Package rewrite defines the shared data model of the validation pipeline:
// candidates coming in from the generator, the per-tier semantic verdicts,
// and the final benchmark outcome handed back to the retry collaborator.
package rewrite

import (
	"fmt"
	"time"
)

// Candidate is one proposed rewrite of the original query. It is immutable
// once received; every pipeline stage appends a new result object instead of
// mutating the candidate.
type Candidate struct {
	ID              string   `yaml:"id" json:"id"`
	WorkerTag       string   `yaml:"worker" json:"worker"`
	SQL             string   `yaml:"sql" json:"sql"`
	DeclaredColumns []string `yaml:"columns" json:"columns"`
}

// Verdict is the semantic judgement of a validation tier.
type Verdict string

// Semantic verdicts.
const (
	VerdictEquivalent    Verdict = "EQUIVALENT"
	VerdictNotEquivalent Verdict = "NOT_EQUIVALENT"
	VerdictUncertain     Verdict = "UNCERTAIN"
)

// ErrorKind classifies validation and benchmark failures.
type ErrorKind string

// Error taxonomy.
const (
	ParseError          ErrorKind = "parse_error"
	ColumnContractError ErrorKind = "column_contract_error"
	RowCountError       ErrorKind = "row_count_error"
	ValueMismatchError  ErrorKind = "value_mismatch_error"
	ExecutionError      ErrorKind = "execution_error"
	TimeoutError        ErrorKind = "timeout_error"
	NonDeterminismError ErrorKind = "non_determinism_error"
)

// CheckError is a structured validation error attached to a candidate result.
type CheckError struct {
	Kind ErrorKind `json:"kind"`
	Msg  string    `json:"msg"`
}

func (e CheckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// ColumnMismatch records an output-schema difference found by the structural
// checker. Missing holds columns the candidate dropped, Extra columns it added.
type ColumnMismatch struct {
	OriginalColumns  []string `json:"original_columns"`
	CandidateColumns []string `json:"candidate_columns"`
	Missing          []string `json:"missing"`
	Extra            []string `json:"extra"`
}

// RowCountDiff records a sampled row-count divergence.
type RowCountDiff struct {
	OriginalCount  int64   `json:"original_count"`
	CandidateCount int64   `json:"candidate_count"`
	Diff           int64   `json:"diff"`
	SampleFraction float64 `json:"sample_fraction"`
}

// ValueDiff records one cell-level divergence found after row counts matched.
type ValueDiff struct {
	RowIndex  int    `json:"row_index"`
	Column    string `json:"column"`
	Original  string `json:"original_value"`
	Candidate string `json:"candidate_value"`
}

// SemanticValidationResult is the immutable outcome of the tiered semantic
// check for one candidate. TierReached is 0 when the candidate failed to
// parse, 1 after the structural tier, 2 after the sampled logic tier, and 3
// after the dialect tier.
type SemanticValidationResult struct {
	TierReached    int             `json:"tier_reached"`
	Passed         bool            `json:"passed"`
	Verdict        Verdict         `json:"verdict"`
	Errors         []CheckError    `json:"errors,omitempty"`
	ColumnMismatch *ColumnMismatch `json:"column_mismatch,omitempty"`
	RowCountDiff   *RowCountDiff   `json:"row_count_diff,omitempty"`
	ValueDiffs     []ValueDiff     `json:"value_diffs,omitempty"`
	SQLDiff        string          `json:"sql_diff,omitempty"`
	Elapsed        time.Duration   `json:"elapsed_ns"`
}

// EligibleForBenchmark reports whether a candidate with this semantic result
// may proceed to the benchmark tier. Definitive structural or logic failures
// never proceed; an UNCERTAIN tier-2 verdict does, because the benchmark's
// full-result checksum is the authoritative equivalence gate.
func (r SemanticValidationResult) EligibleForBenchmark() bool {
	if r.TierReached < 2 {
		return false
	}
	return r.Passed || r.Verdict == VerdictUncertain
}

// BenchState is the per-candidate benchmark state machine.
type BenchState string

// Benchmark execution states.
const (
	BenchPending      BenchState = "PENDING"
	BenchRunning      BenchState = "RUNNING"
	BenchCompleted    BenchState = "COMPLETED"
	BenchTimedOut     BenchState = "TIMED_OUT"
	BenchErrored      BenchState = "ERRORED"
	BenchDidNotFinish BenchState = "DID_NOT_FINISH"
)

// Classification is the final verdict for a candidate.
type Classification string

// Final classifications.
const (
	ClassWin        Classification = "WIN"
	ClassImproved   Classification = "IMPROVED"
	ClassNeutral    Classification = "NEUTRAL"
	ClassRegression Classification = "REGRESSION"
	ClassError      Classification = "ERROR"
)

// BenchmarkOutcome is the terminal benchmark record for one candidate.
type BenchmarkOutcome struct {
	CandidateID    string         `json:"candidate_id"`
	State          BenchState     `json:"state"`
	Strategy       string         `json:"strategy"`
	OriginalTime   time.Duration  `json:"original_time_ns"`
	CandidateTime  time.Duration  `json:"candidate_time_ns"`
	RowCount       int64          `json:"row_count"`
	ChecksumMatch  bool           `json:"checksum_match"`
	Classification Classification `json:"classification"`
	Err            string         `json:"error,omitempty"`
}

// CandidateReport is the orchestrator's final per-candidate record: either a
// semantic rejection or a full benchmark outcome, never neither.
type CandidateReport struct {
	Candidate      Candidate                `json:"candidate"`
	Semantic       SemanticValidationResult `json:"semantic"`
	Outcome        *BenchmarkOutcome        `json:"outcome,omitempty"`
	Classification Classification           `json:"classification"`
}
