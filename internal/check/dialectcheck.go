package check

import (
	"fmt"
	"strings"

	"qvet/internal/rewrite"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

// DialectChecker is the optional third tier: it rejects candidates that use
// constructs the deployment target cannot execute.
type DialectChecker interface {
	Name() string
	Check(stmt ast.StmtNode) *rewrite.CheckError
}

// NoopDialectChecker accepts everything. Used when no dialect constraints
// are configured.
type NoopDialectChecker struct{}

// Name implements DialectChecker.
func (NoopDialectChecker) Name() string { return "noop" }

// Check implements DialectChecker.
func (NoopDialectChecker) Check(ast.StmtNode) *rewrite.CheckError { return nil }

// FunctionDenylist rejects candidates calling any of a set of functions.
type FunctionDenylist struct {
	name string
	deny map[string]struct{}
}

// NewFunctionDenylist builds a denylist checker. Function names are matched
// case-insensitively.
func NewFunctionDenylist(name string, funcs []string) *FunctionDenylist {
	deny := make(map[string]struct{}, len(funcs))
	for _, fn := range funcs {
		deny[strings.ToLower(strings.TrimSpace(fn))] = struct{}{}
	}
	return &FunctionDenylist{name: name, deny: deny}
}

// Name implements DialectChecker.
func (f *FunctionDenylist) Name() string { return f.name }

// Check implements DialectChecker.
func (f *FunctionDenylist) Check(stmt ast.StmtNode) *rewrite.CheckError {
	v := &denylistVisitor{deny: f.deny}
	stmt.Accept(v)
	if v.hit == "" {
		return nil
	}
	return &rewrite.CheckError{
		Kind: rewrite.ExecutionError,
		Msg:  fmt.Sprintf("function %s is not available on dialect %s", v.hit, f.name),
	}
}

type denylistVisitor struct {
	deny map[string]struct{}
	hit  string
}

func (v *denylistVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if v.hit != "" {
		return n, true
	}
	if fn, ok := n.(*ast.FuncCallExpr); ok {
		name := strings.ToLower(fn.FnName.O)
		if _, ok := v.deny[name]; ok {
			v.hit = name
			return n, true
		}
	}
	return n, false
}

func (v *denylistVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, v.hit == ""
}
