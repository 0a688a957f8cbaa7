package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qvet/internal/rewrite"
)

func sampleReports() []rewrite.CandidateReport {
	return []rewrite.CandidateReport{
		{
			Candidate: rewrite.Candidate{ID: "c1", SQL: "SELECT id FROM t USE INDEX (idx)"},
			Semantic:  rewrite.SemanticValidationResult{TierReached: 2, Passed: true, Verdict: rewrite.VerdictEquivalent},
			Outcome: &rewrite.BenchmarkOutcome{
				CandidateID:    "c1",
				State:          rewrite.BenchCompleted,
				Strategy:       "trimmed_mean",
				OriginalTime:   time.Second,
				CandidateTime:  400 * time.Millisecond,
				ChecksumMatch:  true,
				Classification: rewrite.ClassWin,
			},
			Classification: rewrite.ClassWin,
		},
		{
			Candidate:      rewrite.Candidate{ID: "c2", SQL: "SELECT id FROM t WHERE 0"},
			Semantic:       rewrite.SemanticValidationResult{TierReached: 2, Verdict: rewrite.VerdictNotEquivalent},
			Classification: rewrite.ClassRegression,
		},
	}
}

func TestWriteSessionArtifacts(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, true)
	if err := r.Write(context.Background(), "SELECT id FROM t", sampleReports()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d session dirs, want 1", len(entries))
	}
	sessionDir := filepath.Join(dir, entries[0].Name())

	for _, name := range []string{"original.sql", "summary.json", SessionArchiveName,
		"candidate_00_WIN.sql", "candidate_01_REGRESSION.sql"} {
		if _, err := os.Stat(filepath.Join(sessionDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(sessionDir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.OriginalSQL != "SELECT id FROM t" {
		t.Fatalf("original sql = %q", summary.OriginalSQL)
	}
	if len(summary.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(summary.Candidates))
	}
	if summary.Counts["WIN"] != 1 || summary.Counts["REGRESSION"] != 1 {
		t.Fatalf("counts = %v", summary.Counts)
	}
	if summary.ArchiveName != SessionArchiveName || summary.ArchiveCodec != SessionArchiveCodec {
		t.Fatalf("archive metadata = %q/%q", summary.ArchiveName, summary.ArchiveCodec)
	}
}

func TestWriteWithoutArchive(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, false)
	if err := r.Write(context.Background(), "SELECT 1", sampleReports()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	sessionDir := filepath.Join(dir, entries[0].Name())
	if _, err := os.Stat(filepath.Join(sessionDir, SessionArchiveName)); !os.IsNotExist(err) {
		t.Fatalf("archive written despite Archive=false: %v", err)
	}
}

type recordingUploader struct {
	sessionID string
	dir       string
}

func (u *recordingUploader) UploadDir(_ context.Context, sessionID string, dir string) (string, error) {
	u.sessionID = sessionID
	u.dir = dir
	return "s3://bucket/" + sessionID + "/", nil
}

func TestWritePassesArchiveToUploader(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, true)
	up := &recordingUploader{}
	r.Uploader = up
	if err := r.Write(context.Background(), "SELECT 1", sampleReports()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if up.sessionID == "" || up.dir == "" {
		t.Fatal("uploader not invoked")
	}
	data, err := os.ReadFile(filepath.Join(up.dir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.UploadLocation != "s3://bucket/"+up.sessionID+"/" {
		t.Fatalf("upload location = %q", summary.UploadLocation)
	}
}
