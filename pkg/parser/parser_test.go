package parser

import (
	"testing"

	"github.com/kristofer/policyvm/pkg/ast"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := New(src)
	program, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	return program
}

func TestParseAssignAndReturn(t *testing.T) {
	program := mustParse(t, `x = 1 + 2
return x`)
	if len(program.Statements) != 2 {
		t.Fatalf("want 2 statements, got %d", len(program.Statements))
	}
	if _, ok := program.Statements[0].(*ast.AssignStatement); !ok {
		t.Fatalf("want AssignStatement, got %T", program.Statements[0])
	}
	if _, ok := program.Statements[1].(*ast.ReturnStatement); !ok {
		t.Fatalf("want ReturnStatement, got %T", program.Statements[1])
	}
}

func TestParseLvalueChain(t *testing.T) {
	program := mustParse(t, `u["team"]["lead"] := "alice"`)
	stmt, ok := program.Statements[0].(*ast.LvalueAssignStatement)
	if !ok {
		t.Fatalf("want LvalueAssignStatement, got %T", program.Statements[0])
	}
	if stmt.Base != "u" || len(stmt.Hops) != 2 {
		t.Fatalf("unexpected lvalue shape: %+v", stmt)
	}
}

func TestParseIfElifElse(t *testing.T) {
	program := mustParse(t, `
if x == 1:
    print "one"
elif x == 2:
    print "two"
else
    print "other"
end
`)
	stmt, ok := program.Statements[0].(*ast.IfStatement)
	if !ok {
		t.Fatalf("want IfStatement, got %T", program.Statements[0])
	}
	if len(stmt.Clauses) != 2 {
		t.Fatalf("want 2 clauses (if+elif), got %d", len(stmt.Clauses))
	}
	if len(stmt.Else) != 1 {
		t.Fatalf("want 1 else statement, got %d", len(stmt.Else))
	}
}

func TestParseSingleParamLambdaShorthand(t *testing.T) {
	program := mustParse(t, `f = x => x + 1`)
	assign := program.Statements[0].(*ast.AssignStatement)
	lam, ok := assign.Value.(*ast.Lambda)
	if !ok {
		t.Fatalf("want Lambda, got %T", assign.Value)
	}
	if len(lam.Params) != 1 || lam.Params[0] != "x" {
		t.Fatalf("unexpected lambda params: %v", lam.Params)
	}
}

func TestParseParenLambdaExpressionForm(t *testing.T) {
	program := mustParse(t, `f = (x, n) => x + n`)
	assign := program.Statements[0].(*ast.AssignStatement)
	lam, ok := assign.Value.(*ast.Lambda)
	if !ok {
		t.Fatalf("want Lambda, got %T", assign.Value)
	}
	if len(lam.Params) != 2 {
		t.Fatalf("want 2 params, got %d", len(lam.Params))
	}
	if len(lam.Body) != 1 {
		t.Fatalf("want single implicit-return body statement, got %d", len(lam.Body))
	}
	if _, ok := lam.Body[0].(*ast.ReturnStatement); !ok {
		t.Fatalf("want implicit ReturnStatement, got %T", lam.Body[0])
	}
}

func TestParseParenLambdaBlockForm(t *testing.T) {
	program := mustParse(t, `
f = (x, n) =>
    y = x + n
    return y
end
`)
	assign := program.Statements[0].(*ast.AssignStatement)
	lam, ok := assign.Value.(*ast.Lambda)
	if !ok {
		t.Fatalf("want Lambda, got %T", assign.Value)
	}
	if len(lam.Body) != 2 {
		t.Fatalf("want 2 body statements, got %d", len(lam.Body))
	}
}

func TestParseGroupedExpressionNotLambda(t *testing.T) {
	program := mustParse(t, `return (1 + 2) * 3`)
	ret := program.Statements[0].(*ast.ReturnStatement)
	if _, ok := ret.Value.(*ast.Lambda); ok {
		t.Fatal("grouped expression misparsed as lambda")
	}
}

func TestParsePostfixChain(t *testing.T) {
	program := mustParse(t, `return a.b[0](1, 2)`)
	ret := program.Statements[0].(*ast.ReturnStatement)
	pf, ok := ret.Value.(*ast.PostfixExpr)
	if !ok {
		t.Fatalf("want PostfixExpr, got %T", ret.Value)
	}
	if len(pf.Suffixes) != 3 {
		t.Fatalf("want 3 chained suffixes, got %d", len(pf.Suffixes))
	}
}

func TestParseErrorsAccumulate(t *testing.T) {
	p := New(`x = `)
	_, err := p.Parse()
	if err == nil {
		t.Fatal("expected a parse error for a dangling assignment")
	}
}
