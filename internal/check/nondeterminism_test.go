package check

import (
	"reflect"
	"testing"
)

func TestScanDeterminismPinnable(t *testing.T) {
	stmt, err := Parse("SELECT id FROM t WHERE created_at > NOW() - INTERVAL 1 DAY")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	det := ScanDeterminism(stmt)
	if !det.NeedsPin {
		t.Fatal("NOW() not flagged as needing a pin")
	}
	if len(det.Blocked) != 0 {
		t.Fatalf("blocked = %v, want none", det.Blocked)
	}
}

func TestScanDeterminismBlocked(t *testing.T) {
	stmt, err := Parse("SELECT id FROM t WHERE score > RAND() ORDER BY UUID()")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	det := ScanDeterminism(stmt)
	if !reflect.DeepEqual(det.Blocked, []string{"rand", "uuid"}) {
		t.Fatalf("blocked = %v, want [rand uuid]", det.Blocked)
	}
}

func TestScanDeterminismClean(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(*), MAX(score) FROM t WHERE id IN (1, 2, 3)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	det := ScanDeterminism(stmt)
	if det.NeedsPin || len(det.Blocked) != 0 {
		t.Fatalf("clean query flagged: %+v", det)
	}
}

func TestFunctionDenylist(t *testing.T) {
	dc := NewFunctionDenylist("mysql57", []string{"JSON_TABLE", "regexp_like"})
	stmt, err := Parse("SELECT id FROM t WHERE REGEXP_LIKE(name, 'a.*')")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cerr := dc.Check(stmt)
	if cerr == nil {
		t.Fatal("denylisted function accepted")
	}
	clean, err := Parse("SELECT id FROM t WHERE name LIKE 'a%'")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cerr := dc.Check(clean); cerr != nil {
		t.Fatalf("clean query rejected: %v", cerr)
	}
}

func TestNoopDialectChecker(t *testing.T) {
	stmt, err := Parse("SELECT SLEEP(1)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cerr := (NoopDialectChecker{}).Check(stmt); cerr != nil {
		t.Fatalf("noop checker rejected: %v", cerr)
	}
}
