package check

import (
	"fmt"
	"strings"

	"qvet/internal/rewrite"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
)

// StructuralResult is the outcome of the column-contract tier for one query.
type StructuralResult struct {
	OK        bool
	Uncertain bool
	Columns   []string
	Mismatch  *rewrite.ColumnMismatch
	Err       *rewrite.CheckError
}

// Structural checks candidate output schemas against the original query.
// The original is parsed once at construction.
type Structural struct {
	originalSQL       string
	originalCols      []string
	originalUncertain bool
}

// NewStructural parses the original query and extracts its output columns.
// A parse failure on the original aborts the whole session.
func NewStructural(originalSQL string) (*Structural, error) {
	stmt, err := Parse(originalSQL)
	if err != nil {
		return nil, err
	}
	cols, uncertain := outputColumns(stmt)
	return &Structural{
		originalSQL:       originalSQL,
		originalCols:      cols,
		originalUncertain: uncertain,
	}, nil
}

// OriginalColumns returns the original query's parsed output columns. The
// second result is false when the column list could not be resolved.
func (s *Structural) OriginalColumns() ([]string, bool) {
	return s.originalCols, !s.originalUncertain
}

// Check parses one candidate and compares its output schema with the
// original's. A wildcard projection on either side makes the result
// uncertain; resolution then falls to the sampled tier.
func (s *Structural) Check(candidateSQL string) StructuralResult {
	stmt, err := Parse(candidateSQL)
	if err != nil {
		return StructuralResult{
			Err: &rewrite.CheckError{Kind: rewrite.ParseError, Msg: err.Error()},
		}
	}
	cols, uncertain := outputColumns(stmt)
	if uncertain || s.originalUncertain {
		return StructuralResult{OK: true, Uncertain: true, Columns: cols}
	}
	if mismatch := compareColumns(s.originalCols, cols); mismatch != nil {
		return StructuralResult{
			Columns:  cols,
			Mismatch: mismatch,
			Err: &rewrite.CheckError{
				Kind: rewrite.ColumnContractError,
				Msg: fmt.Sprintf("output columns differ: missing=%v extra=%v",
					mismatch.Missing, mismatch.Extra),
			},
		}
	}
	return StructuralResult{OK: true, Columns: cols}
}

// compareColumns treats projections as sets: ordering is the engine's
// business, only missing or extra columns break the contract.
func compareColumns(original, candidate []string) *rewrite.ColumnMismatch {
	candSet := make(map[string]struct{}, len(candidate))
	for _, c := range candidate {
		candSet[strings.ToLower(c)] = struct{}{}
	}
	origSet := make(map[string]struct{}, len(original))
	for _, c := range original {
		origSet[strings.ToLower(c)] = struct{}{}
	}
	var missing, extra []string
	for _, c := range original {
		if _, ok := candSet[strings.ToLower(c)]; !ok {
			missing = append(missing, c)
		}
	}
	for _, c := range candidate {
		if _, ok := origSet[strings.ToLower(c)]; !ok {
			extra = append(extra, c)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	return &rewrite.ColumnMismatch{
		OriginalColumns:  original,
		CandidateColumns: candidate,
		Missing:          missing,
		Extra:            extra,
	}
}

// outputColumns resolves the projection of a parsed statement into column
// names. The second result is true when resolution is impossible, which
// happens for wildcard projections and non-SELECT statements.
func outputColumns(stmt ast.StmtNode) ([]string, bool) {
	switch node := stmt.(type) {
	case *ast.SelectStmt:
		return selectColumns(node)
	case *ast.SetOprStmt:
		// A set operation's schema is its first branch's schema.
		if node.SelectList != nil {
			for _, sel := range node.SelectList.Selects {
				if branch, ok := sel.(*ast.SelectStmt); ok {
					return selectColumns(branch)
				}
			}
		}
		return nil, true
	default:
		return nil, true
	}
}

func selectColumns(sel *ast.SelectStmt) ([]string, bool) {
	if sel == nil || sel.Fields == nil {
		return nil, true
	}
	cols := make([]string, 0, len(sel.Fields.Fields))
	for _, field := range sel.Fields.Fields {
		if field.WildCard != nil {
			return nil, true
		}
		cols = append(cols, fieldName(field))
	}
	return cols, false
}

func fieldName(field *ast.SelectField) string {
	if field.AsName.O != "" {
		return field.AsName.O
	}
	if col, ok := field.Expr.(*ast.ColumnNameExpr); ok {
		return col.Name.Name.O
	}
	var sb strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)
	if err := field.Expr.Restore(ctx); err != nil {
		return strings.TrimSpace(field.Text())
	}
	return sb.String()
}
