// Package parser implements the policy language parser.
//
// The parser is responsible for converting a stream of tokens (from the
// lexer) into an Abstract Syntax Tree (AST). It performs syntactic
// analysis to ensure the source follows the grammar spelled out in the
// surface-language section: statements, lvalue chains, control flow,
// function/lambda literals, and the full expression grammar including
// short-circuit `and`/`or` and postfix chains.
//
// Token Management:
//
// Unlike a pure two-token-lookahead recursive descent parser, this
// parser tokenizes the entire input up front into a slice and walks it
// with an index. The grammar's lambda forms are genuinely ambiguous
// with a single token of lookahead: `(x) => x + 1` and a parenthesized
// group `(x) + 1` share a prefix, and the block-bodied lambda form
// `(x) => ... end` can only be told apart from the single-expression
// form by scanning ahead for a trailing `end`. Buffering the full token
// stream lets the parser snapshot and restore its position to attempt
// a parse and backtrack cleanly, rather than re-lexing substrings.
//
// Error Handling:
//
// The parser accumulates errors in the `errors` slice rather than
// stopping at the first error, so a single pass can report multiple
// syntax problems.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/policyvm/pkg/ast"
	"github.com/kristofer/policyvm/pkg/lexer"
)

// Parser holds parser state over a pre-tokenized input.
type Parser struct {
	toks   []lexer.Token
	pos    int
	errors []string
}

// New creates a new Parser for the given source code.
func New(input string) *Parser {
	return &Parser{
		toks:   lexer.Tokenize(input),
		errors: []string{},
	}
}

// Errors returns the accumulated parse errors, if any.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) cur() lexer.Token  { return p.at(p.pos) }
func (p *Parser) peek() lexer.Token { return p.at(p.pos + 1) }

func (p *Parser) at(i int) lexer.Token {
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[i]
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errorf(format string, args ...interface{}) {
	t := p.cur()
	msg := fmt.Sprintf(format, args...)
	p.errors = append(p.errors, fmt.Sprintf("line %d, column %d: %s", t.Line, t.Column, msg))
}

func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, bool) {
	if p.cur().Type != tt {
		p.errorf("expected %s, got %s %q", tt, p.cur().Type, p.cur().Literal)
		return p.cur(), false
	}
	return p.advance(), true
}

// Parse parses the whole input and returns the Program AST, or an error
// summarizing every accumulated syntax problem.
func (p *Parser) Parse() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.cur().Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		if len(p.errors) > 0 && p.pos == 0 {
			break // failed to make any progress; avoid an infinite loop
		}
	}
	if len(p.errors) > 0 {
		return prog, fmt.Errorf("parse errors:\n%s", joinErrors(p.errors))
	}
	return prog, nil
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "\n"
		}
		out += "  " + e
	}
	return out
}

// --- Statements ---

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur().Type {
	case lexer.TokenPrint:
		return p.parsePrint()
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenDef:
		return p.parseFuncDef()
	case lexer.TokenIdentifier:
		if stmt := p.tryParseAssignOrLvalue(); stmt != nil {
			return stmt
		}
		return p.parseExpressionStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parsePrint() ast.Statement {
	p.advance() // print
	val := p.parseExpression()
	return &ast.PrintStatement{Value: val}
}

func (p *Parser) parseReturn() ast.Statement {
	p.advance() // return
	if p.atBlockTerminator() {
		return &ast.ReturnStatement{Value: nil}
	}
	val := p.parseExpression()
	return &ast.ReturnStatement{Value: val}
}

// atBlockTerminator reports whether the current token ends a statement
// sequence (used to detect a bare `return` with no expression).
func (p *Parser) atBlockTerminator() bool {
	switch p.cur().Type {
	case lexer.TokenEnd, lexer.TokenElif, lexer.TokenElse, lexer.TokenEOF:
		return true
	}
	return false
}

func (p *Parser) parseBlock(terminators ...lexer.TokenType) []ast.Statement {
	var stmts []ast.Statement
	for !p.atTerminator(terminators) && p.cur().Type != lexer.TokenEOF {
		before := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		if p.pos == before {
			// parseStatement failed to consume anything; force progress
			// so a malformed block cannot loop forever.
			p.advance()
		}
	}
	return stmts
}

func (p *Parser) atTerminator(terminators []lexer.TokenType) bool {
	for _, tt := range terminators {
		if p.cur().Type == tt {
			return true
		}
	}
	return false
}

func (p *Parser) parseIf() ast.Statement {
	p.advance() // if
	stmt := &ast.IfStatement{}
	cond := p.parseExpression()
	p.skipOptionalColon()
	body := p.parseBlock(lexer.TokenElif, lexer.TokenElse, lexer.TokenEnd)
	stmt.Clauses = append(stmt.Clauses, ast.IfClause{Condition: cond, Body: body})

	for p.cur().Type == lexer.TokenElif {
		p.advance()
		cond := p.parseExpression()
		p.skipOptionalColon()
		body := p.parseBlock(lexer.TokenElif, lexer.TokenElse, lexer.TokenEnd)
		stmt.Clauses = append(stmt.Clauses, ast.IfClause{Condition: cond, Body: body})
	}

	if p.cur().Type == lexer.TokenElse {
		p.advance()
		p.skipOptionalColon()
		stmt.Else = p.parseBlock(lexer.TokenEnd)
	}

	p.expect(lexer.TokenEnd)
	return stmt
}

func (p *Parser) parseFor() ast.Statement {
	p.advance() // for
	name, _ := p.expect(lexer.TokenIdentifier)
	p.expect(lexer.TokenIn)
	iterable := p.parseExpression()
	p.skipOptionalColon()
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.ForStatement{Var: name.Literal, Iterable: iterable, Body: body}
}

func (p *Parser) parseFuncDef() ast.Statement {
	p.advance() // def
	name, _ := p.expect(lexer.TokenIdentifier)
	params := p.parseParamList()
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.FuncDefStatement{Name: name.Literal, Params: params, Body: body}
}

func (p *Parser) parseParamList() []string {
	p.expect(lexer.TokenLParen)
	var params []string
	for p.cur().Type != lexer.TokenRParen && p.cur().Type != lexer.TokenEOF {
		name, ok := p.expect(lexer.TokenIdentifier)
		if !ok {
			break
		}
		params = append(params, name.Literal)
		if p.cur().Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

// skipOptionalColon consumes a trailing `:` that some block headers
// allow per the language's `[:]` grammar notation.
func (p *Parser) skipOptionalColon() {
	if p.cur().Type == lexer.TokenColon {
		p.advance()
	}
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	val := p.parseExpression()
	return &ast.ExpressionStatement{Value: val}
}

// tryParseAssignOrLvalue attempts to parse `NAME = expr` or
// `NAME (.NAME | [expr])+ := expr` starting at an identifier. On
// failure to match either shape it restores the parser position and
// returns nil so the caller falls back to a general expression
// statement (e.g. a bare call `foo()` or `a.b + 1`).
func (p *Parser) tryParseAssignOrLvalue() ast.Statement {
	save := p.pos
	savedErrs := len(p.errors)
	name, _ := p.expect(lexer.TokenIdentifier)

	if p.cur().Type == lexer.TokenEquals {
		p.advance()
		val := p.parseExpression()
		return &ast.AssignStatement{Name: name.Literal, Value: val}
	}

	var hops []ast.LvalueHop
	for p.cur().Type == lexer.TokenDot || p.cur().Type == lexer.TokenLBracket {
		if p.cur().Type == lexer.TokenDot {
			p.advance()
			attr, ok := p.expect(lexer.TokenIdentifier)
			if !ok {
				p.pos = save
				p.truncateErrorsTo(savedErrs)
				return nil
			}
			hops = append(hops, ast.LvalueHop{Attr: attr.Literal})
		} else {
			p.advance()
			idx := p.parseExpression()
			p.expect(lexer.TokenRBracket)
			hops = append(hops, ast.LvalueHop{Index: idx})
		}
	}

	if len(hops) > 0 && p.cur().Type == lexer.TokenAssign {
		p.advance()
		val := p.parseExpression()
		return &ast.LvalueAssignStatement{Base: name.Literal, Hops: hops, Value: val}
	}

	// Not an assignment after all (e.g. `a.b(x)` as a bare expression
	// statement, or `a.b + 1`): rewind and let expression parsing handle it.
	p.pos = save
	p.truncateErrorsTo(savedErrs)
	return nil
}

// truncateErrorsTo drops any errors recorded during a failed speculative
// parse so a clean retry doesn't leave stale diagnostics behind.
func (p *Parser) truncateErrorsTo(n int) {
	if n < len(p.errors) {
		p.errors = p.errors[:n]
	}
}

// --- Expressions, by precedence (loosest to tightest) ---

func (p *Parser) parseExpression() ast.Expression {
	return p.parseOr()
}

func (p *Parser) parseOr() ast.Expression {
	left := p.parseAnd()
	for p.cur().Type == lexer.TokenOr {
		p.advance()
		right := p.parseAnd()
		left = &ast.LogicalExpr{Op: "or", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expression {
	left := p.parseNot()
	for p.cur().Type == lexer.TokenAnd {
		p.advance()
		right := p.parseNot()
		left = &ast.LogicalExpr{Op: "and", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseNot() ast.Expression {
	if p.cur().Type == lexer.TokenNot {
		p.advance()
		return &ast.NotExpr{Value: p.parseNot()}
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() ast.Expression {
	left := p.parseIn()
	for isComparisonOp(p.cur().Type) {
		op := p.advance()
		right := p.parseIn()
		left = &ast.BinaryExpr{Op: opLiteral(op.Type), Left: left, Right: right}
	}
	return left
}

func isComparisonOp(tt lexer.TokenType) bool {
	switch tt {
	case lexer.TokenEq, lexer.TokenNeq, lexer.TokenLt, lexer.TokenLte, lexer.TokenGt, lexer.TokenGte:
		return true
	}
	return false
}

func (p *Parser) parseIn() ast.Expression {
	left := p.parseAdditive()
	for p.cur().Type == lexer.TokenIn {
		p.advance()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{Op: "in", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expression {
	left := p.parseTerm()
	for p.cur().Type == lexer.TokenPlus || p.cur().Type == lexer.TokenMinus {
		op := p.advance()
		right := p.parseTerm()
		left = &ast.BinaryExpr{Op: opLiteral(op.Type), Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseTerm() ast.Expression {
	left := p.parseUnary()
	for p.cur().Type == lexer.TokenStar || p.cur().Type == lexer.TokenSlash || p.cur().Type == lexer.TokenPercent {
		op := p.advance()
		right := p.parseUnary()
		left = &ast.BinaryExpr{Op: opLiteral(op.Type), Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expression {
	if p.cur().Type == lexer.TokenMinus {
		p.advance()
		return &ast.UnaryMinus{Value: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expression {
	atom := p.parseAtom()
	expr := &ast.PostfixExpr{Atom: atom}
	for {
		switch p.cur().Type {
		case lexer.TokenLParen:
			p.advance()
			var args []ast.Expression
			for p.cur().Type != lexer.TokenRParen && p.cur().Type != lexer.TokenEOF {
				args = append(args, p.parseExpression())
				if p.cur().Type == lexer.TokenComma {
					p.advance()
				}
			}
			p.expect(lexer.TokenRParen)
			expr.Suffixes = append(expr.Suffixes, &ast.CallSuffix{Args: args})
		case lexer.TokenLBracket:
			p.advance()
			idx := p.parseExpression()
			p.expect(lexer.TokenRBracket)
			expr.Suffixes = append(expr.Suffixes, &ast.IndexSuffix{Index: idx})
		case lexer.TokenDot:
			p.advance()
			name, _ := p.expect(lexer.TokenIdentifier)
			expr.Suffixes = append(expr.Suffixes, &ast.AttrSuffix{Name: name.Literal})
		default:
			if len(expr.Suffixes) == 0 {
				return atom
			}
			return expr
		}
	}
}

func (p *Parser) parseAtom() ast.Expression {
	switch p.cur().Type {
	case lexer.TokenInteger:
		t := p.advance()
		n, err := strconv.ParseInt(t.Literal, 10, 64)
		if err != nil {
			p.errorf("invalid integer literal %q", t.Literal)
		}
		return &ast.IntegerLiteral{Value: n}
	case lexer.TokenString:
		t := p.advance()
		return &ast.StringLiteral{Value: t.Literal}
	case lexer.TokenTrue:
		p.advance()
		return &ast.BoolLiteral{Value: true}
	case lexer.TokenFalse:
		p.advance()
		return &ast.BoolLiteral{Value: false}
	case lexer.TokenNil:
		p.advance()
		return &ast.NilLiteral{}
	case lexer.TokenLBracket:
		return p.parseListLiteral()
	case lexer.TokenLBrace:
		return p.parseDictLiteral()
	case lexer.TokenIdentifier:
		if p.peek().Type == lexer.TokenArrow {
			name := p.advance()
			p.advance() // =>
			return &ast.Lambda{Params: []string{name.Literal}, Body: p.parseLambdaBody()}
		}
		t := p.advance()
		return &ast.Identifier{Name: t.Literal}
	case lexer.TokenLParen:
		if lam, ok := p.tryParseParenLambda(); ok {
			return lam
		}
		p.advance() // (
		expr := p.parseExpression()
		p.expect(lexer.TokenRParen)
		return expr
	default:
		t := p.advance()
		p.errorf("unexpected token %s %q in expression", t.Type, t.Literal)
		return &ast.NilLiteral{}
	}
}

// tryParseParenLambda attempts `(params) => ...` starting at a `(`. It
// scans ahead for a matching `)` followed immediately by `=>`; if the
// shape doesn't hold (or the parenthesized contents aren't a plain
// comma-separated name list) it reports no match without consuming
// anything, leaving the `(` for grouped-expression parsing.
func (p *Parser) tryParseParenLambda() (ast.Expression, bool) {
	depth := 0
	i := p.pos
	for {
		t := p.at(i)
		if t.Type == lexer.TokenEOF {
			return nil, false
		}
		if t.Type == lexer.TokenLParen {
			depth++
		} else if t.Type == lexer.TokenRParen {
			depth--
			if depth == 0 {
				break
			}
		} else if depth == 1 && t.Type != lexer.TokenIdentifier && t.Type != lexer.TokenComma {
			return nil, false
		}
		i++
	}
	if p.at(i+1).Type != lexer.TokenArrow {
		return nil, false
	}
	params := p.parseParamList()
	p.advance() // =>
	return &ast.Lambda{Params: params, Body: p.parseLambdaBody()}, true
}

// parseLambdaBody parses either `expr` or `block end` following `=>`,
// per the language's two lambda-body forms. It speculatively tries the
// block form first (statements terminated by `end`); if that doesn't
// cleanly consume an `end`, it backtracks and treats the body as a
// single expression wrapped in an implicit return.
func (p *Parser) parseLambdaBody() []ast.Statement {
	save := p.pos
	savedErrs := len(p.errors)

	body := p.parseBlock(lexer.TokenEnd)
	if p.cur().Type == lexer.TokenEnd && len(p.errors) == savedErrs {
		p.advance() // end
		return body
	}

	p.pos = save
	p.truncateErrorsTo(savedErrs)
	expr := p.parseExpression()
	return []ast.Statement{&ast.ReturnStatement{Value: expr}}
}

func (p *Parser) parseListLiteral() ast.Expression {
	p.advance() // [
	lit := &ast.ListLiteral{}
	for p.cur().Type != lexer.TokenRBracket && p.cur().Type != lexer.TokenEOF {
		lit.Elements = append(lit.Elements, p.parseExpression())
		if p.cur().Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBracket)
	return lit
}

func (p *Parser) parseDictLiteral() ast.Expression {
	p.advance() // {
	lit := &ast.DictLiteral{}
	for p.cur().Type != lexer.TokenRBrace && p.cur().Type != lexer.TokenEOF {
		var key string
		switch p.cur().Type {
		case lexer.TokenIdentifier:
			key = p.advance().Literal
		case lexer.TokenString:
			key = p.advance().Literal
		default:
			p.errorf("expected dict key, got %s %q", p.cur().Type, p.cur().Literal)
			p.advance()
		}
		p.expect(lexer.TokenColon)
		val := p.parseExpression()
		lit.Entries = append(lit.Entries, ast.DictEntry{Key: key, Value: val})
		if p.cur().Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBrace)
	return lit
}

func opLiteral(tt lexer.TokenType) string {
	switch tt {
	case lexer.TokenPlus:
		return "+"
	case lexer.TokenMinus:
		return "-"
	case lexer.TokenStar:
		return "*"
	case lexer.TokenSlash:
		return "/"
	case lexer.TokenPercent:
		return "%"
	case lexer.TokenEq:
		return "=="
	case lexer.TokenNeq:
		return "!="
	case lexer.TokenLt:
		return "<"
	case lexer.TokenLte:
		return "<="
	case lexer.TokenGt:
		return ">"
	case lexer.TokenGte:
		return ">="
	default:
		return tt.String()
	}
}
