package check

import (
	"sort"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

// pinnableFuncs are time-of-day functions that become deterministic once the
// session timestamp is pinned.
var pinnableFuncs = map[string]struct{}{
	"now":               {},
	"current_timestamp": {},
	"curdate":           {},
	"current_date":      {},
	"curtime":           {},
	"current_time":      {},
	"localtime":         {},
	"localtimestamp":    {},
	"sysdate":           {},
	"utc_date":          {},
	"utc_time":          {},
	"utc_timestamp":     {},
	"unix_timestamp":    {},
}

// blockedFuncs cannot be made deterministic at all; a query using one is
// rejected before any execution.
var blockedFuncs = map[string]struct{}{
	"rand":           {},
	"uuid":           {},
	"uuid_short":     {},
	"sleep":          {},
	"last_insert_id": {},
	"connection_id":  {},
	"found_rows":     {},
	"row_count":      {},
}

// Determinism is the result of scanning one statement for volatile functions.
type Determinism struct {
	// NeedsPin is set when the statement calls a time-of-day function.
	NeedsPin bool
	// Blocked lists volatile functions that cannot be pinned, sorted.
	Blocked []string
}

// ScanDeterminism walks a parsed statement and reports volatile functions.
func ScanDeterminism(stmt ast.StmtNode) Determinism {
	v := &determinismVisitor{blocked: map[string]struct{}{}}
	stmt.Accept(v)
	det := Determinism{NeedsPin: v.needsPin}
	for name := range v.blocked {
		det.Blocked = append(det.Blocked, name)
	}
	sort.Strings(det.Blocked)
	return det
}

type determinismVisitor struct {
	needsPin bool
	blocked  map[string]struct{}
}

func (v *determinismVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if fn, ok := n.(*ast.FuncCallExpr); ok {
		name := strings.ToLower(fn.FnName.O)
		if _, ok := pinnableFuncs[name]; ok {
			v.needsPin = true
		}
		if _, ok := blockedFuncs[name]; ok {
			v.blocked[name] = struct{}{}
		}
	}
	return n, false
}

func (v *determinismVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}
