// Package compiler lowers policy-language AST nodes into bytecode: a
// tree-walk code generator that resolves lexical scope (locals vs.
// globals), patches jumps for control flow, and handles postfix chains
// and lvalue assignment over arbitrary receivers.
package compiler

import (
	"fmt"

	"github.com/kristofer/policyvm/pkg/ast"
	"github.com/kristofer/policyvm/pkg/bytecode"
	"github.com/kristofer/policyvm/pkg/value"
)

// scope is the set of local names declared within one function/lambda body.
type scope map[string]bool

// Compiler holds the state of one compilation pass: the instruction
// stream under construction and a LIFO stack of local scopes. Top-level
// code has no local scope (the scopes stack is empty).
type Compiler struct {
	code   bytecode.Code
	scopes []scope
}

// New creates a compiler ready to compile top-level code.
func New() *Compiler {
	return &Compiler{}
}

// Compile lowers a full program to an instruction stream. The result
// always ends in PUSH Nil; RETURN, guaranteeing fallthrough yields Nil
// and the operand stack empties when a program's last statement isn't
// itself a `return`.
func Compile(program *ast.Program) (bytecode.Code, error) {
	c := New()
	if err := c.compileStatements(program.Statements); err != nil {
		return nil, err
	}
	c.emit(bytecode.OpPush, value.Nil{})
	c.emit(bytecode.OpReturn, nil)
	return c.code, nil
}

func (c *Compiler) emit(op bytecode.Opcode, arg value.Value) int {
	c.code = append(c.code, bytecode.Instruction{Op: op, Arg: arg})
	return len(c.code) - 1
}

// patchJump rewrites the jump instruction at idx to target the current
// end of the instruction stream, using a pc-relative offset.
func (c *Compiler) patchJump(idx int) {
	offset := len(c.code) - idx
	c.code[idx].Arg = value.Integer(offset)
}

// emitJumpBack emits a jump whose target is an earlier instruction
// index (used to close `for` loops).
func (c *Compiler) emitJumpBack(op bytecode.Opcode, target int) {
	idx := len(c.code)
	c.emit(op, value.Integer(target-idx))
}

func (c *Compiler) pushScope(names []string) {
	s := make(scope, len(names))
	for _, n := range names {
		s[n] = true
	}
	c.scopes = append(c.scopes, s)
}

func (c *Compiler) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

func (c *Compiler) inFunction() bool { return len(c.scopes) > 0 }

func (c *Compiler) topScope() scope { return c.scopes[len(c.scopes)-1] }

// compileStatements compiles a statement list in order. Per the surface grammar, once a
// `return` has been compiled, the remaining statements of THIS list are
// unreachable and are not emitted (nested blocks have their own lists
// and are unaffected).
func (c *Compiler) compileStatements(stmts []ast.Statement) error {
	for _, stmt := range stmts {
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
		if _, ok := stmt.(*ast.ReturnStatement); ok {
			break
		}
	}
	return nil
}

func (c *Compiler) compileStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.AssignStatement:
		return c.compileAssign(s)
	case *ast.LvalueAssignStatement:
		return c.compileLvalueAssign(s)
	case *ast.PrintStatement:
		if err := c.compileExpr(s.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpPrint, nil)
		return nil
	case *ast.ReturnStatement:
		if s.Value != nil {
			if err := c.compileExpr(s.Value); err != nil {
				return err
			}
		} else {
			c.emit(bytecode.OpPush, value.Nil{})
		}
		c.emit(bytecode.OpReturn, nil)
		return nil
	case *ast.IfStatement:
		return c.compileIf(s)
	case *ast.ForStatement:
		return c.compileFor(s)
	case *ast.FuncDefStatement:
		return c.compileFuncDef(s)
	case *ast.ExpressionStatement:
		if err := c.compileExpr(s.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpPop, nil)
		return nil
	default:
		return fmt.Errorf("compiler: unknown statement node %T", stmt)
	}
}

// compileAssign implements bare `NAME = expr`: a local-or-global store
// resolved by the implicit-declaration rule (assigning inside a
// function declares a new local unless the name is already local there).
func (c *Compiler) compileAssign(s *ast.AssignStatement) error {
	if err := c.compileExpr(s.Value); err != nil {
		return err
	}
	if c.inFunction() {
		c.topScope()[s.Name] = true // declares it local if not already
		c.emit(bytecode.OpStoreLocal, value.String(s.Name))
	} else {
		c.emit(bytecode.OpStore, value.String(s.Name))
	}
	return nil
}

// compileLvalueAssign lowers `NAME (.name | [expr])+ := expr`: push the
// base (local-preferring), walk every hop but the last via GETATTR/INDEX
// to bring the penultimate container to the top, then emit the final
// setter with the value pushed last.
func (c *Compiler) compileLvalueAssign(s *ast.LvalueAssignStatement) error {
	c.pushNameRead(s.Base)

	for i, hop := range s.Hops {
		last := i == len(s.Hops)-1
		if hop.Attr != "" {
			if last {
				if err := c.compileExpr(s.Value); err != nil {
					return err
				}
				c.emit(bytecode.OpSetAttr, value.String(hop.Attr))
			} else {
				c.emit(bytecode.OpGetAttr, value.String(hop.Attr))
			}
		} else {
			if last {
				if err := c.compileExpr(hop.Index); err != nil {
					return err
				}
				if err := c.compileExpr(s.Value); err != nil {
					return err
				}
				c.emit(bytecode.OpSetIndex, nil)
			} else {
				if err := c.compileExpr(hop.Index); err != nil {
					return err
				}
				c.emit(bytecode.OpIndex, nil)
			}
		}
	}
	return nil
}

func (c *Compiler) compileIf(s *ast.IfStatement) error {
	var endJumps []int
	var prevFalseJump = -1

	for _, clause := range s.Clauses {
		if prevFalseJump >= 0 {
			c.patchJump(prevFalseJump)
		}
		if err := c.compileExpr(clause.Condition); err != nil {
			return err
		}
		prevFalseJump = c.emit(bytecode.OpJumpIfFalse, value.Integer(0))
		if err := c.compileStatements(clause.Body); err != nil {
			return err
		}
		endJumps = append(endJumps, c.emit(bytecode.OpJump, value.Integer(0)))
	}

	if prevFalseJump >= 0 {
		c.patchJump(prevFalseJump)
	}
	if len(s.Else) > 0 {
		if err := c.compileStatements(s.Else); err != nil {
			return err
		}
	}
	for _, idx := range endJumps {
		c.patchJump(idx)
	}
	return nil
}

// compileFor lowers `for NAME in expr ... end` using the iterator
// protocol: ITER_INIT, then a loop of ITER_NEXT / JUMP_IF_FALSE(exit) /
// STORE(_LOCAL) / body / JUMP(loop_top). ITER_NEXT always pushes the
// iterator handle back followed by an item (Nil on exhaustion): the
// continuing path consumes the item via STORE and leaves the iterator
// for the next ITER_NEXT, while the exit path still has both the
// iterator and the exhausted item on the stack, so it needs two POPs.
func (c *Compiler) compileFor(s *ast.ForStatement) error {
	if err := c.compileExpr(s.Iterable); err != nil {
		return err
	}
	c.emit(bytecode.OpIterInit, nil)

	loopTop := len(c.code)
	c.emit(bytecode.OpIterNext, nil)
	exitJump := c.emit(bytecode.OpJumpIfFalse, value.Integer(0))

	if c.inFunction() {
		c.topScope()[s.Var] = true
		c.emit(bytecode.OpStoreLocal, value.String(s.Var))
	} else {
		c.emit(bytecode.OpStore, value.String(s.Var))
	}

	if err := c.compileStatements(s.Body); err != nil {
		return err
	}
	c.emitJumpBack(bytecode.OpJump, loopTop)

	c.patchJump(exitJump)
	c.emit(bytecode.OpPop, nil) // exhausted item (Nil)
	c.emit(bytecode.OpPop, nil) // iterator handle
	return nil
}

// compileFuncDef compiles the nested function body and stores the
// resulting Function constant as a global. There is no syntax to assign
// to an outer name from within a function, so this stays well defined
// even for a def nested inside another function's body.
func (c *Compiler) compileFuncDef(s *ast.FuncDefStatement) error {
	fn, err := c.compileFunction(s.Params, s.Body)
	if err != nil {
		return err
	}
	c.emit(bytecode.OpPush, fn)
	c.emit(bytecode.OpStore, value.String(s.Name))
	return nil
}

// compileFunction compiles a function/lambda body in a fresh nested
// compiler seeded with a local scope containing only the declared
// parameters. There are no closures: free names resolve as globals at
// call time.
func (c *Compiler) compileFunction(params []string, body []ast.Statement) (*bytecode.Function, error) {
	nested := New()
	nested.pushScope(params)
	if err := nested.compileStatements(body); err != nil {
		return nil, err
	}
	nested.emit(bytecode.OpPush, value.Nil{})
	nested.emit(bytecode.OpReturn, nil)
	return &bytecode.Function{
		Code:       nested.code,
		Arity:      len(params),
		ParamNames: params,
	}, nil
}

// pushNameRead emits the read of a bare identifier, local-preferring.
func (c *Compiler) pushNameRead(name string) {
	if c.inFunction() && c.topScope()[name] {
		c.emit(bytecode.OpPushLocal, value.String(name))
	} else {
		c.emit(bytecode.OpPushGlobal, value.String(name))
	}
}

func (c *Compiler) compileExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		c.emit(bytecode.OpPush, value.Integer(e.Value))
		return nil
	case *ast.StringLiteral:
		c.emit(bytecode.OpPush, value.String(e.Value))
		return nil
	case *ast.BoolLiteral:
		c.emit(bytecode.OpPush, value.Bool(e.Value))
		return nil
	case *ast.NilLiteral:
		c.emit(bytecode.OpPush, value.Nil{})
		return nil
	case *ast.Identifier:
		c.pushNameRead(e.Name)
		return nil
	case *ast.ListLiteral:
		for _, el := range e.Elements {
			if err := c.compileExpr(el); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpMakeList, value.Integer(int64(len(e.Elements))))
		return nil
	case *ast.DictLiteral:
		for _, entry := range e.Entries {
			c.emit(bytecode.OpPush, value.String(entry.Key))
			if err := c.compileExpr(entry.Value); err != nil {
				return err
			}
		}
		c.emit(bytecode.OpMakeDict, value.Integer(int64(len(e.Entries))))
		return nil
	case *ast.BinaryExpr:
		return c.compileBinary(e)
	case *ast.UnaryMinus:
		c.emit(bytecode.OpPush, value.Integer(0))
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpBinSub, nil)
		return nil
	case *ast.LogicalExpr:
		return c.compileLogical(e)
	case *ast.NotExpr:
		if err := c.compileExpr(e.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpNot, nil)
		return nil
	case *ast.PostfixExpr:
		return c.compilePostfix(e)
	case *ast.Lambda:
		fn, err := c.compileFunction(e.Params, e.Body)
		if err != nil {
			return err
		}
		c.emit(bytecode.OpPush, fn)
		return nil
	default:
		return fmt.Errorf("compiler: unknown expression node %T", expr)
	}
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) error {
	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	op, ok := binaryOpcodes[e.Op]
	if !ok {
		return fmt.Errorf("compiler: unknown binary operator %q", e.Op)
	}
	c.emit(op, nil)
	return nil
}

var binaryOpcodes = map[string]bytecode.Opcode{
	"+":  bytecode.OpBinAdd,
	"-":  bytecode.OpBinSub,
	"*":  bytecode.OpBinMul,
	"/":  bytecode.OpBinDiv,
	"%":  bytecode.OpBinMod,
	"==": bytecode.OpEq,
	"!=": bytecode.OpNeq,
	"<":  bytecode.OpLt,
	"<=": bytecode.OpLte,
	">":  bytecode.OpGt,
	">=": bytecode.OpGte,
	"in": bytecode.OpBinIn,
}

// compileLogical lowers short-circuit `and`/`or` so the final result is
// always a Bool regardless of operand types.
func (c *Compiler) compileLogical(e *ast.LogicalExpr) error {
	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	var shortCircuit int
	if e.Op == "and" {
		shortCircuit = c.emit(bytecode.OpJumpIfFalse, value.Integer(0))
	} else {
		shortCircuit = c.emit(bytecode.OpJumpIfTrue, value.Integer(0))
	}
	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	secondJump := 0
	if e.Op == "and" {
		secondJump = c.emit(bytecode.OpJumpIfFalse, value.Integer(0))
	} else {
		secondJump = c.emit(bytecode.OpJumpIfTrue, value.Integer(0))
	}

	if e.Op == "and" {
		c.emit(bytecode.OpPush, value.Bool(true))
	} else {
		c.emit(bytecode.OpPush, value.Bool(false))
	}
	endJump := c.emit(bytecode.OpJump, value.Integer(0))

	c.patchJump(shortCircuit)
	c.patchJump(secondJump)
	if e.Op == "and" {
		c.emit(bytecode.OpPush, value.Bool(false))
	} else {
		c.emit(bytecode.OpPush, value.Bool(true))
	}
	c.patchJump(endJump)
	return nil
}

// compilePostfix lowers an atom followed by suffixes left-to-right,
// composing freely (e.g. `a.b[0](x)`).
func (c *Compiler) compilePostfix(e *ast.PostfixExpr) error {
	if err := c.compileExpr(e.Atom); err != nil {
		return err
	}
	for _, suf := range e.Suffixes {
		switch s := suf.(type) {
		case *ast.CallSuffix:
			for _, arg := range s.Args {
				if err := c.compileExpr(arg); err != nil {
					return err
				}
			}
			c.emit(bytecode.OpCallFn, value.Integer(int64(len(s.Args))))
		case *ast.IndexSuffix:
			if err := c.compileExpr(s.Index); err != nil {
				return err
			}
			c.emit(bytecode.OpIndex, nil)
		case *ast.AttrSuffix:
			c.emit(bytecode.OpGetAttr, value.String(s.Name))
		default:
			return fmt.Errorf("compiler: unknown postfix suffix %T", suf)
		}
	}
	return nil
}
