package dialect

import (
	"strings"
	"testing"
)

func TestForEngine(t *testing.T) {
	for _, engine := range []string{"mysql", "tidb", "MySQL", ""} {
		d, err := ForEngine(engine)
		if err != nil {
			t.Fatalf("ForEngine(%q): %v", engine, err)
		}
		if d == nil {
			t.Fatalf("ForEngine(%q) returned nil dialect", engine)
		}
	}
	if _, err := ForEngine("oracle"); err == nil {
		t.Fatal("ForEngine(oracle) succeeded, want error")
	}
}

func TestSampleWrapDeterministicPredicate(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	got := d.SampleWrap("SELECT id, name FROM t", []string{"id", "name"}, 0.02, 42)
	for _, want := range []string{"CRC32", "CONCAT_WS('#', '42', `id`, `name`)", "MOD", "< 200", "qv_sample"} {
		if !strings.Contains(got, want) {
			t.Fatalf("SampleWrap output missing %q:\n%s", want, got)
		}
	}
}

func TestSampleWrapFullFractionPassthrough(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	query := "SELECT id FROM t"
	if got := d.SampleWrap(query, []string{"id"}, 1.0, 1); got != query {
		t.Fatalf("SampleWrap with fraction 1.0 = %q, want passthrough", got)
	}
	if got := d.SampleWrap(query, nil, 0.02, 1); got != query {
		t.Fatalf("SampleWrap with no columns = %q, want passthrough", got)
	}
}

func TestSampleWrapTinyFractionKeepsPredicate(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	got := d.SampleWrap("SELECT id FROM t", []string{"id"}, 0.00001, 1)
	if !strings.Contains(got, "< 1") {
		t.Fatalf("tiny fraction should clamp threshold to 1:\n%s", got)
	}
}

func TestSampleWrapQuotesIdentifiers(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	got := d.SampleWrap("SELECT 1", []string{"we`ird"}, 0.5, 0)
	if !strings.Contains(got, "`we``ird`") {
		t.Fatalf("identifier not escaped:\n%s", got)
	}
}

func TestLimitWrap(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	got := d.LimitWrap("SELECT id FROM t", 100)
	want := "SELECT * FROM (SELECT id FROM t) qv_cap LIMIT 100"
	if got != want {
		t.Fatalf("LimitWrap = %q, want %q", got, want)
	}
	if got := d.LimitWrap("SELECT id FROM t", 0); got != "SELECT id FROM t" {
		t.Fatalf("LimitWrap with zero cap = %q, want passthrough", got)
	}
}

func TestPinStatements(t *testing.T) {
	d := &MySQL{engine: "mysql"}
	stmts := d.PinStatements(1704067200)
	if len(stmts) != 1 || stmts[0] != "SET TIMESTAMP = 1704067200" {
		t.Fatalf("PinStatements = %v", stmts)
	}
	if stmts := d.PinStatements(0); stmts != nil {
		t.Fatalf("PinStatements(0) = %v, want nil", stmts)
	}
}
