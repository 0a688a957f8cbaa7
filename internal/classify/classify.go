// Package classify turns benchmark measurements into final verdicts.
package classify

import (
	"time"

	"qvet/internal/config"
	"qvet/internal/rewrite"
)

// Classify maps a benchmark measurement to a final classification.
// A checksum mismatch is REGRESSION no matter how fast the candidate ran.
// Ratio is originalTime/candidateTime, so higher means faster; boundaries
// are inclusive on the winning side.
func Classify(originalTime, candidateTime time.Duration, checksumMatch bool, cfg config.ClassifyConfig) rewrite.Classification {
	if !checksumMatch {
		return rewrite.ClassRegression
	}
	if candidateTime <= 0 {
		if originalTime <= 0 {
			return rewrite.ClassNeutral
		}
		return rewrite.ClassWin
	}
	ratio := float64(originalTime) / float64(candidateTime)
	switch {
	case ratio >= cfg.WinRatio:
		return rewrite.ClassWin
	case ratio >= cfg.ImprovedRatio:
		return rewrite.ClassImproved
	case ratio >= cfg.NeutralRatio:
		return rewrite.ClassNeutral
	default:
		return rewrite.ClassRegression
	}
}

// FromOutcome classifies a finished benchmark outcome, folding terminal
// states into their fixed verdicts.
func FromOutcome(out rewrite.BenchmarkOutcome, cfg config.ClassifyConfig) rewrite.Classification {
	switch out.State {
	case rewrite.BenchCompleted:
		return Classify(out.OriginalTime, out.CandidateTime, out.ChecksumMatch, cfg)
	case rewrite.BenchDidNotFinish, rewrite.BenchTimedOut:
		return rewrite.ClassRegression
	default:
		return rewrite.ClassError
	}
}
