package compare

import (
	"testing"
)

func TestNormalizeValueRounding(t *testing.T) {
	cmp := &Comparator{RoundScale: 4}
	cases := []struct {
		in   string
		want string
	}{
		{"1.00004999", "1.0000"},
		{"1.00005001", "1.0001"},
		{"-2.5", "-2.5000"},
		{"abc", "abc"},
		{"1e2", "100.0000"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := cmp.NormalizeValue([]byte(tc.in)); got != tc.want {
			t.Fatalf("NormalizeValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := cmp.NormalizeValue(nil); got != "NULL" {
		t.Fatalf("NormalizeValue(nil) = %q, want NULL", got)
	}
}

func TestNormalizeValueDisabled(t *testing.T) {
	cmp := &Comparator{}
	if got := cmp.NormalizeValue([]byte("1.23456789")); got != "1.23456789" {
		t.Fatalf("rounding disabled but value changed: %q", got)
	}
}

func TestLooksNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123", true},
		{"-1.5", true},
		{"1e10", true},
		{"1.5e-3", true},
		{"abc", false},
		{"1a", false},
		{"e5", false},
		{"1e", false},
		{"", false},
		{"2024-01-01", false},
	}
	for _, tc := range cases {
		if got := looksNumeric(tc.in); got != tc.want {
			t.Fatalf("looksNumeric(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRowsEqualIgnoresOrder(t *testing.T) {
	cmp := &Comparator{MaxDiffsPerColumn: 5}
	a := &Rows{Columns: []string{"id", "name"}, Data: [][]string{{"1", "x"}, {"2", "y"}, {"3", "z"}}}
	b := &Rows{Columns: []string{"id", "name"}, Data: [][]string{{"3", "z"}, {"1", "x"}, {"2", "y"}}}
	equal, diffs := cmp.RowsEqual(a, b)
	if !equal {
		t.Fatalf("reordered rows reported unequal, diffs=%v", diffs)
	}
}

func TestRowsEqualBoundsDiffs(t *testing.T) {
	cmp := &Comparator{MaxDiffsPerColumn: 2}
	var aData, bData [][]string
	for i := 0; i < 10; i++ {
		aData = append(aData, []string{"same", "a"})
		bData = append(bData, []string{"same", "b"})
	}
	a := &Rows{Columns: []string{"k", "v"}, Data: aData}
	b := &Rows{Columns: []string{"k", "v"}, Data: bData}
	equal, diffs := cmp.RowsEqual(a, b)
	if equal {
		t.Fatal("differing rows reported equal")
	}
	if len(diffs) != 2 {
		t.Fatalf("got %d diffs, want 2 (bounded per column)", len(diffs))
	}
	if diffs[0].Column != "v" {
		t.Fatalf("diff column = %q, want v", diffs[0].Column)
	}
}

func TestSignatureOrderInsensitive(t *testing.T) {
	// XOR of per-row checksums must not depend on row order; exercise via the
	// checksum math directly on two permutations of the same multiset.
	cmp := &Comparator{}
	a := signatureOf(cmp, [][]string{{"1", "x"}, {"2", "y"}})
	b := signatureOf(cmp, [][]string{{"2", "y"}, {"1", "x"}})
	if a != b {
		t.Fatalf("signatures differ across permutations: %+v vs %+v", a, b)
	}
	c := signatureOf(cmp, [][]string{{"1", "x"}, {"2", "z"}})
	if a == c {
		t.Fatal("signatures collide for different multisets")
	}
}

func signatureOf(cmp *Comparator, rows [][]string) Signature {
	sig := Signature{}
	for _, row := range rows {
		sig.Count++
		sig.Checksum ^= cmp.rowChecksum(row)
	}
	return sig
}
