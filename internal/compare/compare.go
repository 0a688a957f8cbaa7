// Package compare holds result-set comparison: value normalization, order
// insensitive row equality with bounded diffs, and streaming checksums.
package compare

import (
	"database/sql"
	"hash/crc32"
	"math"
	"sort"
	"strconv"
	"strings"

	"qvet/internal/rewrite"
)

// rowSep joins normalized cell values when a whole row is hashed or sorted.
// It cannot occur in normalized values coming off the wire as text.
const rowSep = "\x1f"

// Comparator normalizes and compares result sets.
type Comparator struct {
	// RoundScale is the number of decimal digits floats are rounded to
	// before comparison. Zero disables rounding.
	RoundScale int
	// MaxDiffsPerColumn bounds the value diffs reported per column.
	MaxDiffsPerColumn int
}

// Signature is an order-insensitive digest of a result multiset.
type Signature struct {
	Count    int64
	Checksum int64
}

// Rows is a fully materialized, normalized result set.
type Rows struct {
	Columns []string
	Data    [][]string
}

// ReadRows drains a *sql.Rows into normalized string cells. A non-positive
// cap reads everything; otherwise reading stops after cap rows.
func (c *Comparator) ReadRows(rows *sql.Rows, rowCap int) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]any, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		if rowCap > 0 && len(out.Data) >= rowCap {
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = c.NormalizeValue(v)
		}
		out.Data = append(out.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SignatureFromRows streams a *sql.Rows into a Signature without
// materializing the result. Row order does not affect the checksum.
func (c *Comparator) SignatureFromRows(rows *sql.Rows) (Signature, error) {
	cols, err := rows.Columns()
	if err != nil {
		return Signature{}, err
	}
	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]any, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	sig := Signature{}
	cells := make([]string, len(values))
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return Signature{}, err
		}
		sig.Count++
		for i, v := range values {
			cells[i] = c.NormalizeValue(v)
		}
		sig.Checksum ^= c.rowChecksum(cells)
	}
	if err := rows.Err(); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// rowChecksum hashes one row of normalized cells. Rows are joined with '#'
// before hashing; the per-row checksums are XORed into the signature, so row
// order never matters.
func (c *Comparator) rowChecksum(cells []string) int64 {
	return int64(crc32.ChecksumIEEE([]byte(strings.Join(cells, "#"))))
}

// RowsEqual compares two normalized result sets as multisets. Both inputs
// must have the same row count; the caller checks counts first. The returned
// diffs are bounded by MaxDiffsPerColumn per column.
func (c *Comparator) RowsEqual(original, candidate *Rows) (bool, []rewrite.ValueDiff) {
	a := sortedCopy(original.Data)
	b := sortedCopy(candidate.Data)
	maxPerCol := c.MaxDiffsPerColumn
	if maxPerCol <= 0 {
		maxPerCol = 1
	}
	perColumn := make(map[int]int)
	var diffs []rewrite.ValueDiff
	equal := true
	for i := range a {
		for j := range a[i] {
			if j >= len(b[i]) || a[i][j] != b[i][j] {
				equal = false
				if perColumn[j] >= maxPerCol {
					continue
				}
				perColumn[j]++
				candVal := ""
				if j < len(b[i]) {
					candVal = b[i][j]
				}
				diffs = append(diffs, rewrite.ValueDiff{
					RowIndex:  i,
					Column:    columnName(original.Columns, j),
					Original:  a[i][j],
					Candidate: candVal,
				})
			}
		}
	}
	return equal, diffs
}

func columnName(cols []string, idx int) string {
	if idx < len(cols) {
		return cols[idx]
	}
	return strconv.Itoa(idx)
}

func sortedCopy(data [][]string) [][]string {
	out := make([][]string, len(data))
	copy(out, data)
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], rowSep) < strings.Join(out[j], rowSep)
	})
	return out
}

// NormalizeValue canonicalizes one cell: NULL for nil, and numeric-looking
// text rounded to RoundScale digits so float noise does not flag real diffs.
func (c *Comparator) NormalizeValue(raw []byte) string {
	if raw == nil {
		return "NULL"
	}
	text := string(raw)
	if c.RoundScale <= 0 {
		return text
	}
	if !looksNumeric(text) {
		return text
	}
	val, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return text
	}
	scale := math.Pow10(c.RoundScale)
	val = math.Round(val*scale) / scale
	return strconv.FormatFloat(val, 'f', c.RoundScale, 64)
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	hasDigit := false
	for i, r := range s {
		if r >= '0' && r <= '9' {
			hasDigit = true
			continue
		}
		switch r {
		case '+', '-', '.', 'e', 'E':
			if (r == 'e' || r == 'E') && !hasDigit {
				return false
			}
			if (r == '+' || r == '-') && i > 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		default:
			return false
		}
	}
	last := s[len(s)-1]
	if last == 'e' || last == 'E' || last == '+' || last == '-' {
		return false
	}
	return hasDigit
}
