package config

import (
	"testing"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{}
	Normalize(&cfg)
	if cfg.Engine != "mysql" {
		t.Fatalf("engine = %q, want mysql", cfg.Engine)
	}
	if cfg.Validation.SampleFraction != sampleFractionDefault {
		t.Fatalf("sample fraction = %v, want %v", cfg.Validation.SampleFraction, sampleFractionDefault)
	}
	if cfg.Validation.Workers != tier2WorkersDefault {
		t.Fatalf("workers = %d, want %d", cfg.Validation.Workers, tier2WorkersDefault)
	}
	if cfg.Benchmark.TrimmedRuns != trimmedRunsDefault {
		t.Fatalf("trimmed runs = %d, want %d", cfg.Benchmark.TrimmedRuns, trimmedRunsDefault)
	}
	if cfg.Classify.WinRatio != winRatioDefault {
		t.Fatalf("win ratio = %v, want %v", cfg.Classify.WinRatio, winRatioDefault)
	}
	if cfg.Report.OutputDir != "reports" {
		t.Fatalf("output dir = %q, want reports", cfg.Report.OutputDir)
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	cfg := Config{}
	cfg.Validation.SampleFraction = 1.5
	cfg.Benchmark.TrimmedRuns = 3
	cfg.Benchmark.TrimCount = 2
	Normalize(&cfg)
	if cfg.Validation.SampleFraction != sampleFractionDefault {
		t.Fatalf("sample fraction = %v, want default for out-of-range input", cfg.Validation.SampleFraction)
	}
	if cfg.Benchmark.TrimCount != trimCountDefault {
		t.Fatalf("trim count = %d, want %d when trimming would discard everything", cfg.Benchmark.TrimCount, trimCountDefault)
	}
}

func TestNormalizeFoldsDatabaseIntoDSN(t *testing.T) {
	cfg := Default()
	cfg.Database = "bench"
	Normalize(&cfg)
	want := "root:@tcp(127.0.0.1:4000)/bench"
	if cfg.DSN != want {
		t.Fatalf("dsn = %q, want %q", cfg.DSN, want)
	}
}

func TestNormalizeDatabaseOverridesDSNSchema(t *testing.T) {
	cfg := Default()
	cfg.DSN = "root:@tcp(127.0.0.1:4000)/other?parseTime=true"
	cfg.Database = "bench"
	Normalize(&cfg)
	want := "root:@tcp(127.0.0.1:4000)/bench?parseTime=true"
	if cfg.DSN != want {
		t.Fatalf("dsn = %q, want %q", cfg.DSN, want)
	}
}

func TestUpdateDatabaseInDSN(t *testing.T) {
	cases := []struct {
		dsn    string
		dbName string
		want   string
	}{
		{"root:@tcp(127.0.0.1:4000)/old", "new", "root:@tcp(127.0.0.1:4000)/new"},
		{"root:@tcp(127.0.0.1:4000)/old?parseTime=true", "new", "root:@tcp(127.0.0.1:4000)/new?parseTime=true"},
		{"root:@tcp(127.0.0.1:4000)/", "new", "root:@tcp(127.0.0.1:4000)/new"},
		{"", "new", ""},
	}
	for _, tc := range cases {
		if got := UpdateDatabaseInDSN(tc.dsn, tc.dbName); got != tc.want {
			t.Fatalf("UpdateDatabaseInDSN(%q, %q) = %q, want %q", tc.dsn, tc.dbName, got, tc.want)
		}
	}
}
