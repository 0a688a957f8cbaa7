// Package check implements the semantic validation tiers: structural column
// contract, determinism screening, sampled logic equivalence, and dialect
// compatibility.
package check

import (
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver" // Register TiDB parser driver.
)

var parserPool = sync.Pool{
	New: func() any {
		return parser.New()
	},
}

// Parse parses a single SQL statement.
func Parse(sqlText string) (ast.StmtNode, error) {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)
	return p.ParseOneStmt(sqlText, "", "")
}
