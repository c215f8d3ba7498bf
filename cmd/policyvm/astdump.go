package main

import (
	"fmt"
	"strings"

	"github.com/kristofer/policyvm/pkg/ast"
)

// dumpProgram renders a parsed Program as an indented tree, good enough
// for the -a/-ast CLI flag to let a policy author eyeball what parsed.
func dumpProgram(program *ast.Program) string {
	var b strings.Builder
	for _, stmt := range program.Statements {
		dumpStatement(&b, stmt, 0)
	}
	return b.String()
}

func indent(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
}

func dumpStatement(b *strings.Builder, stmt ast.Statement, depth int) {
	indent(b, depth)
	switch s := stmt.(type) {
	case *ast.AssignStatement:
		fmt.Fprintf(b, "Assign %s =\n", s.Name)
		dumpExpr(b, s.Value, depth+1)
	case *ast.LvalueAssignStatement:
		fmt.Fprintf(b, "LvalueAssign %s (%d hops) :=\n", s.Base, len(s.Hops))
		dumpExpr(b, s.Value, depth+1)
	case *ast.PrintStatement:
		b.WriteString("Print\n")
		dumpExpr(b, s.Value, depth+1)
	case *ast.ReturnStatement:
		b.WriteString("Return\n")
		if s.Value != nil {
			dumpExpr(b, s.Value, depth+1)
		}
	case *ast.IfStatement:
		b.WriteString("If\n")
		for _, clause := range s.Clauses {
			indent(b, depth+1)
			b.WriteString("Clause\n")
			dumpExpr(b, clause.Condition, depth+2)
			for _, sub := range clause.Body {
				dumpStatement(b, sub, depth+2)
			}
		}
		if len(s.Else) > 0 {
			indent(b, depth+1)
			b.WriteString("Else\n")
			for _, sub := range s.Else {
				dumpStatement(b, sub, depth+2)
			}
		}
	case *ast.ForStatement:
		fmt.Fprintf(b, "For %s in\n", s.Var)
		dumpExpr(b, s.Iterable, depth+1)
		for _, sub := range s.Body {
			dumpStatement(b, sub, depth+1)
		}
	case *ast.FuncDefStatement:
		fmt.Fprintf(b, "FuncDef %s(%s)\n", s.Name, strings.Join(s.Params, ", "))
		for _, sub := range s.Body {
			dumpStatement(b, sub, depth+1)
		}
	case *ast.ExpressionStatement:
		b.WriteString("Expr\n")
		dumpExpr(b, s.Value, depth+1)
	default:
		fmt.Fprintf(b, "<unknown statement %T>\n", stmt)
	}
}

func dumpExpr(b *strings.Builder, expr ast.Expression, depth int) {
	indent(b, depth)
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		fmt.Fprintf(b, "Int %d\n", e.Value)
	case *ast.StringLiteral:
		fmt.Fprintf(b, "Str %q\n", e.Value)
	case *ast.BoolLiteral:
		fmt.Fprintf(b, "Bool %t\n", e.Value)
	case *ast.NilLiteral:
		b.WriteString("Nil\n")
	case *ast.Identifier:
		fmt.Fprintf(b, "Ident %s\n", e.Name)
	case *ast.ListLiteral:
		fmt.Fprintf(b, "List (%d elements)\n", len(e.Elements))
		for _, el := range e.Elements {
			dumpExpr(b, el, depth+1)
		}
	case *ast.DictLiteral:
		fmt.Fprintf(b, "Dict (%d entries)\n", len(e.Entries))
		for _, entry := range e.Entries {
			indent(b, depth+1)
			fmt.Fprintf(b, "%s:\n", entry.Key)
			dumpExpr(b, entry.Value, depth+2)
		}
	case *ast.BinaryExpr:
		fmt.Fprintf(b, "Binary %s\n", e.Op)
		dumpExpr(b, e.Left, depth+1)
		dumpExpr(b, e.Right, depth+1)
	case *ast.UnaryMinus:
		b.WriteString("UnaryMinus\n")
		dumpExpr(b, e.Value, depth+1)
	case *ast.LogicalExpr:
		fmt.Fprintf(b, "Logical %s\n", e.Op)
		dumpExpr(b, e.Left, depth+1)
		dumpExpr(b, e.Right, depth+1)
	case *ast.NotExpr:
		b.WriteString("Not\n")
		dumpExpr(b, e.Value, depth+1)
	case *ast.PostfixExpr:
		b.WriteString("Postfix\n")
		dumpExpr(b, e.Atom, depth+1)
		for _, suf := range e.Suffixes {
			indent(b, depth+1)
			switch s := suf.(type) {
			case *ast.CallSuffix:
				fmt.Fprintf(b, "Call (%d args)\n", len(s.Args))
				for _, arg := range s.Args {
					dumpExpr(b, arg, depth+2)
				}
			case *ast.IndexSuffix:
				b.WriteString("Index\n")
				dumpExpr(b, s.Index, depth+2)
			case *ast.AttrSuffix:
				fmt.Fprintf(b, "Attr %s\n", s.Name)
			}
		}
	case *ast.Lambda:
		fmt.Fprintf(b, "Lambda(%s)\n", strings.Join(e.Params, ", "))
		for _, sub := range e.Body {
			dumpStatement(b, sub, depth+1)
		}
	default:
		fmt.Fprintf(b, "<unknown expr %T>\n", expr)
	}
}
