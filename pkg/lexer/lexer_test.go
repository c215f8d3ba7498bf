package lexer

import "testing"

func TestNextTokenDelimitersAndOperators(t *testing.T) {
	input := `x := 5 == 5 != 6 <= 7 >= 2 => a.b[c] {d: 1}`
	want := []TokenType{
		TokenIdentifier, TokenAssign, TokenInteger, TokenEq, TokenInteger,
		TokenNeq, TokenInteger, TokenLte, TokenInteger, TokenGte, TokenInteger,
		TokenArrow, TokenIdentifier, TokenDot, TokenIdentifier, TokenLBracket,
		TokenIdentifier, TokenRBracket, TokenLBrace, TokenIdentifier, TokenColon,
		TokenInteger, TokenRBrace, TokenEOF,
	}
	l := New(input)
	for i, tt := range want {
		tok := l.NextToken()
		if tok.Type != tt {
			t.Fatalf("token %d: want %s, got %s (%q)", i, tt, tok.Type, tok.Literal)
		}
	}
}

func TestNextTokenKeywords(t *testing.T) {
	l := New("def if elif else end for in and or not return print true false nil")
	want := []TokenType{
		TokenDef, TokenIf, TokenElif, TokenElse, TokenEnd, TokenFor, TokenIn,
		TokenAnd, TokenOr, TokenNot, TokenReturn, TokenPrint, TokenTrue,
		TokenFalse, TokenNil, TokenEOF,
	}
	for i, tt := range want {
		tok := l.NextToken()
		if tok.Type != tt {
			t.Fatalf("token %d: want %s, got %s", i, tt, tok.Type)
		}
	}
}

func TestStringEscapesAndComments(t *testing.T) {
	l := New("\"a\\nb\" # trailing comment\n'c\\td'")
	tok := l.NextToken()
	if tok.Type != TokenString || tok.Literal != "a\nb" {
		t.Fatalf("want escaped string %q, got %q", "a\nb", tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != TokenString || tok.Literal != "c\td" {
		t.Fatalf("want escaped string %q, got %q", "c\td", tok.Literal)
	}
}

func TestIllegalToken(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	if tok.Type != TokenIllegal {
		t.Fatalf("want ILLEGAL, got %s", tok.Type)
	}
	if ErrIllegal(tok) == nil {
		t.Fatal("expected non-nil error from ErrIllegal")
	}
}

func TestTokenizeIncludesEOF(t *testing.T) {
	toks := Tokenize("x = 1")
	if len(toks) == 0 || toks[len(toks)-1].Type != TokenEOF {
		t.Fatalf("expected trailing EOF token, got %v", toks)
	}
}
