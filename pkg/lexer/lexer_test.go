package lexer

import (
	"testing"

	"x0d/pkg/token"
)

func TestNextToken(t *testing.T) {
	input := `handler main {
	if req.path == "/ping" {
		x = 1 + 2 * 3;
	} else {
		x = 0;
	}
}
`

	tests := []struct {
		expectedType    token.Type
		expectedLiteral string
	}{
		{token.HANDLER, "handler"},
		{token.IDENT, "main"},
		{token.LBRACE, "{"},
		{token.IF, "if"},
		{token.IDENT, "req"},
		{token.DOT, "."},
		{token.IDENT, "path"},
		{token.EQ, "=="},
		{token.STRING, "/ping"},
		{token.LBRACE, "{"},
		{token.IDENT, "x"},
		{token.ASSIGN, "="},
		{token.INT, "1"},
		{token.PLUS, "+"},
		{token.INT, "2"},
		{token.ASTERISK, "*"},
		{token.INT, "3"},
		{token.SEMICOLON, ";"},
		{token.RBRACE, "}"},
		{token.ELSE, "else"},
		{token.LBRACE, "{"},
		{token.IDENT, "x"},
		{token.ASSIGN, "="},
		{token.INT, "0"},
		{token.SEMICOLON, ";"},
		{token.RBRACE, "}"},
		{token.RBRACE, "}"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q, literal=%q",
				i, tt.expectedType, tok.Type, tok.Literal)
		}

		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestComments(t *testing.T) {
	input := `# a comment
x = 1 # trailing comment
`
	l := New(input)
	want := []token.Type{token.IDENT, token.ASSIGN, token.INT, token.EOF}
	for i, wantType := range want {
		tok := l.NextToken()
		if tok.Type != wantType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, wantType, tok.Type)
		}
	}
}

func TestOperators(t *testing.T) {
	input := `<= >= << >> && || != => ~ ^ & | %`
	tests := []token.Type{
		token.LE, token.GE, token.SHL, token.SHR, token.LOGAND, token.LOGOR,
		token.NEQ, token.ARROW, token.TILDE, token.CARET, token.AMP, token.PIPE, token.PERCENT,
		token.EOF,
	}
	l := New(input)
	for i, want := range tests {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (%q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestIPAddrLiteral(t *testing.T) {
	input := `192.168.0.1 ::1 10.0.0.0/8`
	l := New(input)

	tok := l.NextToken()
	if tok.Type != token.IPADDR || tok.Literal != "192.168.0.1" {
		t.Fatalf("expected IPADDR 192.168.0.1, got %q %q", tok.Type, tok.Literal)
	}

	tok = l.NextToken()
	if tok.Type != token.IPADDR || tok.Literal != "::1" {
		t.Fatalf("expected IPADDR ::1, got %q %q", tok.Type, tok.Literal)
	}

	tok = l.NextToken()
	if tok.Type != token.CIDR || tok.Literal != "10.0.0.0/8" {
		t.Fatalf("expected CIDR 10.0.0.0/8, got %q %q", tok.Type, tok.Literal)
	}
}

func TestRegexLiteral(t *testing.T) {
	input := `/^foo.*bar$/`
	l := New(input)
	tok := l.NextToken()
	if tok.Type != token.REGEX {
		t.Fatalf("expected REGEX, got %q", tok.Type)
	}
	if tok.Literal != "^foo.*bar$" {
		t.Fatalf("expected literal %q, got %q", "^foo.*bar$", tok.Literal)
	}
}

func TestDivisionNotRegex(t *testing.T) {
	input := `a / b`
	l := New(input)
	want := []token.Type{token.IDENT, token.SLASH, token.IDENT, token.EOF}
	for i, wantType := range want {
		tok := l.NextToken()
		if tok.Type != wantType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, wantType, tok.Type)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	input := `"line1\nline2\t\"quoted\""`
	l := New(input)
	tok := l.NextToken()
	if tok.Type != token.STRING {
		t.Fatalf("expected STRING, got %q", tok.Type)
	}
	want := "line1\nline2\t\"quoted\""
	if tok.Literal != want {
		t.Fatalf("expected %q, got %q", want, tok.Literal)
	}
}
