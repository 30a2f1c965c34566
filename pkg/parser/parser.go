// Package parser implements Flow's recursive-descent parser, per
// spec.md §4.1. Grounded on flowa's pkg/parser/parser.go Pratt-parsing
// shape (prefixParseFn/infixParseFn maps keyed by token type, precedence
// climbing via parseExpression(precedence)), reworked for Flow's
// brace-delimited grammar, diag.Report-based diagnostics instead of a
// bare []string, and a scope stack that resolves and types every
// identifier at parse time.
package parser

import (
	"strconv"

	"x0d/pkg/ast"
	"x0d/pkg/diag"
	"x0d/pkg/lexer"
	"x0d/pkg/token"
	"x0d/pkg/types"
)

const (
	_ int = iota
	LOWEST
	LOGOR
	LOGAND
	EQUALS
	RELATIONAL
	BITOR
	BITXOR
	BITAND
	SHIFT
	SUM
	PRODUCT
	PREFIX
	CALL
)

var precedences = map[token.Type]int{
	token.LOGOR:    LOGOR,
	token.LOGAND:   LOGAND,
	token.EQ:       EQUALS,
	token.NEQ:      EQUALS,
	token.LT:       RELATIONAL,
	token.GT:       RELATIONAL,
	token.LE:       RELATIONAL,
	token.GE:       RELATIONAL,
	token.PIPE:     BITOR,
	token.CARET:    BITXOR,
	token.AMP:      BITAND,
	token.SHL:      SHIFT,
	token.SHR:      SHIFT,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.PERCENT:  PRODUCT,
	token.LPAREN:   CALL,
}

// castTargets maps a cast's callee-position identifier to the Flow type
// it casts to, per spec.md §4.6.
var castTargets = map[string]types.Type{
	"string": types.String,
	"number": types.Number,
	"int":    types.Number,
}

// scope is one lexical level of variable bindings, per spec.md §4.1
// ("resolves names through a stack of scopes").
type scope struct {
	vars map[string]types.Type
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Context restricts which native callbacks are callable from the
// current handler, per spec.md §4.1 Exports ("a configuration context
// (setup vs. main) restricts which native callbacks are callable").
type Context int

const (
	ContextSetup Context = iota
	ContextMain
)

type Parser struct {
	l      *lexer.Lexer
	report *diag.Report

	curToken  token.Token
	peekToken token.Token

	scopes  []*scope
	context Context

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:      l,
		report: &diag.Report{},
	}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifierOrCallOrCast)
	p.registerPrefix(token.INT, p.parseNumberLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.IPADDR, p.parseIPAddrLiteral)
	p.registerPrefix(token.CIDR, p.parseCidrLiteral)
	p.registerPrefix(token.REGEX, p.parseRegExpLiteral)
	p.registerPrefix(token.TRUE, p.parseBooleanLiteral)
	p.registerPrefix(token.FALSE, p.parseBooleanLiteral)
	p.registerPrefix(token.BANG, p.parsePrefixExpression)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.TILDE, p.parsePrefixExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	for _, t := range []token.Type{
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.PERCENT,
		token.EQ, token.NEQ, token.LT, token.GT, token.LE, token.GE,
		token.LOGAND, token.LOGOR, token.AMP, token.PIPE, token.CARET,
		token.SHL, token.SHR,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}

	p.nextToken()
	p.nextToken()

	return p
}

func (p *Parser) Report() *diag.Report { return p.report }

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)   { p.infixParseFns[t] = fn }

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t token.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.Type) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf(diag.SyntaxError, "expected next token to be %s, got %s instead", t, p.peekToken.Type)
	return false
}

func (p *Parser) rangeHere() diag.Range {
	pos := diag.Position{Line: p.curToken.Line, Column: p.curToken.Column}
	return diag.Range{Begin: pos, End: pos}
}

func (p *Parser) errorf(kind diag.Kind, format string, args ...interface{}) {
	p.report.Add(kind, p.rangeHere(), format, args...)
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// Scope management

func (p *Parser) pushScope() { p.scopes = append(p.scopes, &scope{vars: map[string]types.Type{}}) }
func (p *Parser) popScope()  { p.scopes = p.scopes[:len(p.scopes)-1] }

func (p *Parser) define(name string, ty types.Type) {
	p.scopes[len(p.scopes)-1].vars[name] = ty
}

func (p *Parser) resolve(name string) (types.Type, bool) {
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if ty, ok := p.scopes[i].vars[name]; ok {
			return ty, true
		}
	}
	return types.Void, false
}

// ParseUnit parses a whole Flow source file into a Unit, per spec.md
// §4.1. It does not abort on the first error: statement-level parse
// failures are recorded in the Report and parsing recovers at the next
// statement boundary.
func (p *Parser) ParseUnit() *ast.Unit {
	unit := &ast.Unit{}
	p.pushScope()

	hasSetup, hasMain := false, false

	for !p.curTokenIs(token.EOF) {
		if !p.curTokenIs(token.HANDLER) {
			p.errorf(diag.SyntaxError, "expected 'handler' declaration, got %s", p.curToken.Type)
			p.nextToken()
			continue
		}
		h := p.parseHandlerDecl()
		if h != nil {
			unit.Handlers = append(unit.Handlers, h)
			if h.Name == "setup" {
				hasSetup = true
			}
			if h.Name == "main" {
				hasMain = true
			}
		}
		p.nextToken()
	}

	if !hasSetup {
		p.report.Add(diag.TypeError, diag.Range{}, "unit must declare handler 'setup'")
	}
	if !hasMain {
		p.report.Add(diag.TypeError, diag.Range{}, "unit must declare handler 'main'")
	}

	p.popScope()
	return unit
}

func (p *Parser) parseHandlerDecl() *ast.HandlerDecl {
	h := &ast.HandlerDecl{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	h.Name = p.curToken.Literal

	if h.Name == "setup" {
		p.context = ContextSetup
	} else {
		p.context = ContextMain
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}

	p.pushScope()
	h.Body = p.parseBlockStatement()
	p.popScope()

	return h
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}

	p.nextToken()
	for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}

	return block
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.IF:
		return p.parseConditionalStatement()
	case token.MATCH:
		return p.parseMatchStatement()
	case token.IDENT:
		if p.peekTokenIs(token.ASSIGN) {
			return p.parseAssignmentStatement()
		}
		return p.parseExpressionStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseAssignmentStatement() *ast.AssignmentStatement {
	stmt := &ast.AssignmentStatement{Token: p.curToken, Name: p.curToken.Literal}

	if !p.expectPeek(token.ASSIGN) {
		return nil
	}
	p.nextToken()
	stmt.Value = p.parseExpression(LOWEST)
	if stmt.Value == nil {
		return nil
	}

	p.define(stmt.Name, stmt.Value.ExprType())

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseConditionalStatement() *ast.ConditionalStatement {
	stmt := &ast.ConditionalStatement{Token: p.curToken}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Condition = p.parseExpression(LOWEST)
	if stmt.Condition != nil && stmt.Condition.ExprType() != types.Boolean {
		p.errorf(diag.TypeError, "if condition must be boolean, got %s", stmt.Condition.ExprType())
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	p.pushScope()
	stmt.Then = p.parseBlockStatement()
	p.popScope()

	if p.peekTokenIs(token.ELSE) {
		p.nextToken()
		if !p.expectPeek(token.LBRACE) {
			return nil
		}
		p.pushScope()
		stmt.Else = p.parseBlockStatement()
		p.popScope()
	}

	return stmt
}

func (p *Parser) parseMatchStatement() *ast.MatchStatement {
	stmt := &ast.MatchStatement{Token: p.curToken, Op: "=="}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Subject = p.parseExpression(LOWEST)

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	p.nextToken()

	for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
		switch p.curToken.Type {
		case token.ON:
			p.nextToken()
			value := p.parseExpression(LOWEST)
			var body *ast.BlockStatement
			if p.peekTokenIs(token.ARROW) {
				p.nextToken()
				body = p.parseMatchArmStatementBody()
			} else {
				if !p.expectPeek(token.COLON) {
					return nil
				}
				if !p.expectPeek(token.LBRACE) {
					return nil
				}
				p.pushScope()
				body = p.parseBlockStatement()
				p.popScope()
			}
			stmt.Cases = append(stmt.Cases, ast.MatchCase{Value: value, Body: body})
		case token.ELSE:
			switch {
			case p.peekTokenIs(token.ARROW):
				p.nextToken()
				stmt.Default = p.parseMatchArmStatementBody()
			case p.peekTokenIs(token.COLON):
				p.nextToken()
				if !p.expectPeek(token.LBRACE) {
					return nil
				}
				p.pushScope()
				stmt.Default = p.parseBlockStatement()
				p.popScope()
			default:
				// spec.md §4.1's bare "else STMT" form: no separator at
				// all between 'else' and its single statement.
				stmt.Default = p.parseMatchArmStatementBody()
			}
		default:
			p.errorf(diag.SyntaxError, "expected 'on' or 'else' in match body, got %s", p.curToken.Type)
			return nil
		}
		p.nextToken()
	}

	return stmt
}

// parseMatchArmStatementBody parses spec.md §4.1's "on LIT => STMT" /
// "else STMT" arrow form: a single statement with no enclosing braces,
// wrapped in a BlockStatement so match arms stay uniform regardless of
// which surface syntax produced them. Called with curToken still on the
// token preceding the arm's first token ('=>', or 'else' itself for the
// bare-statement default arm); it advances past that token itself.
func (p *Parser) parseMatchArmStatementBody() *ast.BlockStatement {
	p.nextToken()
	tok := p.curToken
	p.pushScope()
	s := p.parseStatement()
	p.popScope()
	return &ast.BlockStatement{Token: tok, Statements: []ast.Statement{s}}
}

func (p *Parser) parseExpressionStatement() *ast.ExpressionStatement {
	stmt := &ast.ExpressionStatement{Token: p.curToken}
	stmt.Expr = p.parseExpression(LOWEST)

	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorf(diag.SyntaxError, "no prefix parse function for %s found", p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}

	return left
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	exp := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return exp
}

// parseIdentifierOrCallOrCast handles three shapes that all begin with
// an IDENT: a dotted variable/context reference ("req.path"), a cast
// ("string(n)"), and a native call ("log.info(\"x\")"). Per spec.md §6
// the call form is NAME(ARG, …).
func (p *Parser) parseIdentifierOrCallOrCast() ast.Expression {
	tok := p.curToken
	name := p.parseDottedName()

	if p.curTokenIs(token.LPAREN) {
		if target, ok := castTargets[name]; ok {
			return p.finishCast(tok, target)
		}
		return p.finishCall(tok, name)
	}

	if ty, ok := p.resolve(name); ok {
		return &ast.Identifier{Token: tok, Value: name, Typ: ty}
	}

	// Unresolved bare identifiers name a zero-argument native accessor
	// exposed by the host (e.g. "req.path"); its exact return type is
	// only known once pkg/verify links against the host's Runtime, so
	// the parser records it as a 0-arg Call typed String. pkg/verify
	// changes the type only of calls to native handlers (to Boolean).
	// See DESIGN.md for this Open Question resolution.
	return &ast.CallExpression{Token: tok, Callee: name, Typ: types.String}
}

// parseDottedName consumes an IDENT ('.' IDENT)* sequence and leaves
// curToken on the last token consumed (the final IDENT, or '(' if the
// caller should see a call/cast). It does not advance past '(' itself.
func (p *Parser) parseDottedName() string {
	name := p.curToken.Literal
	for p.peekTokenIs(token.DOT) {
		p.nextToken() // consume '.'
		if !p.expectPeek(token.IDENT) {
			return name
		}
		name += "." + p.curToken.Literal
	}
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
	}
	return name
}

func (p *Parser) finishCast(tok token.Token, target types.Type) ast.Expression {
	p.nextToken()
	value := p.parseExpression(LOWEST)
	if value != nil && !value.ExprType().CastableTo(target) {
		p.errorf(diag.TypeError, "cannot cast %s to %s", value.ExprType(), target)
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return &ast.CastExpression{Token: tok, Target: target, Value: value}
}

func (p *Parser) finishCall(tok token.Token, name string) ast.Expression {
	call := &ast.CallExpression{Token: tok, Callee: name, Typ: types.String}
	call.Arguments = p.parseCallArguments()
	return call
}

func (p *Parser) parseCallArguments() []ast.Expression {
	var args []ast.Expression

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return args
	}

	p.nextToken()
	args = append(args, p.parseExpression(LOWEST))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		args = append(args, p.parseExpression(LOWEST))
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return args
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	lit := &ast.NumberLiteral{Token: p.curToken}
	v, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil {
		p.errorf(diag.TokenError, "could not parse %q as integer", p.curToken.Literal)
		return nil
	}
	lit.Value = v
	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBooleanLiteral() ast.Expression {
	return &ast.BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseIPAddrLiteral() ast.Expression {
	addr, err := types.ParseIPAddr(p.curToken.Literal)
	if err != nil {
		p.errorf(diag.TokenError, "%v", err)
		return nil
	}
	return &ast.IPAddrLiteral{Token: p.curToken, Value: addr}
}

func (p *Parser) parseCidrLiteral() ast.Expression {
	cidr, err := types.ParseCidr(p.curToken.Literal)
	if err != nil {
		p.errorf(diag.TokenError, "%v", err)
		return nil
	}
	return &ast.CidrLiteral{Token: p.curToken, Value: cidr}
}

func (p *Parser) parseRegExpLiteral() ast.Expression {
	re, err := types.CompileRegex(p.curToken.Literal)
	if err != nil {
		p.errorf(diag.TokenError, "%v", err)
		return nil
	}
	return &ast.RegExpLiteral{Token: p.curToken, Value: re}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.curToken
	lit := &ast.ArrayLiteral{Token: tok}

	if p.peekTokenIs(token.RBRACKET) {
		p.nextToken()
		lit.Typ = types.IntArray
		return lit
	}

	p.nextToken()
	lit.Elements = append(lit.Elements, p.parseExpression(LOWEST))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		lit.Elements = append(lit.Elements, p.parseExpression(LOWEST))
	}

	if !p.expectPeek(token.RBRACKET) {
		return nil
	}

	lit.Typ = arrayTypeOf(lit.Elements)
	for _, e := range lit.Elements {
		if e.ExprType() != lit.Typ.ElementType() {
			p.errorf(diag.TypeError, "array literal elements must share a type")
			break
		}
	}
	return lit
}

func arrayTypeOf(elems []ast.Expression) types.Type {
	if len(elems) == 0 {
		return types.IntArray
	}
	switch elems[0].ExprType() {
	case types.String:
		return types.StringArray
	case types.IPAddress:
		return types.IPAddrArray
	case types.Cidr:
		return types.CidrArray
	default:
		return types.IntArray
	}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.PrefixExpression{Token: p.curToken, Operator: p.curToken.Literal}
	p.nextToken()
	expr.Right = p.parseExpression(PREFIX)
	expr.Typ = prefixResultType(expr.Operator, expr.Right)
	return expr
}

func prefixResultType(op string, right ast.Expression) types.Type {
	if right == nil {
		return types.Void
	}
	switch op {
	case "!":
		return types.Boolean
	default:
		return right.ExprType()
	}
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expr := &ast.InfixExpression{Token: p.curToken, Left: left, Operator: p.curToken.Literal}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	expr.Typ = infixResultType(expr.Operator, left, expr.Right)
	return expr
}

func infixResultType(op string, left, right ast.Expression) types.Type {
	if left == nil || right == nil {
		return types.Void
	}
	switch op {
	case "==", "!=", "<", ">", "<=", ">=", "&&", "||":
		return types.Boolean
	case "+":
		if left.ExprType() == types.String {
			return types.String
		}
		return types.Number
	default:
		return types.Number
	}
}
