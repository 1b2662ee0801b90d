// Package parser implements the Sheep grammar.
//
// The parser is syntax-directed: it builds no tree. Each construct is handed to a
// builder.Builder the moment it is recognised, so when parsing succeeds the whole
// script has already been emitted. Lexical and syntax errors abort the parse
// immediately; semantic problems are recorded by the builder and parsing goes on.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/compiler/builder"
	"github.com/kromenak/gengine-sub002/pkg/compiler/lexer"
	"github.com/kromenak/gengine-sub002/pkg/compiler/token"
)

// Precedence levels for operators.
const (
	_ int = iota
	LOWEST
	OR          // ||
	AND         // &&
	EQUALS      // == or !=
	LESSGREATER // > or <
	SUM         // +
	PRODUCT     // *
	PREFIX      // -X or !X
)

var precedences = map[token.Type]int{
	token.OR:      OR,
	token.AND:     AND,
	token.EQ:      EQUALS,
	token.NEQ:     EQUALS,
	token.LT:      LESSGREATER,
	token.LTE:     LESSGREATER,
	token.GT:      LESSGREATER,
	token.GTE:     LESSGREATER,
	token.PLUS:    SUM,
	token.MINUS:   SUM,
	token.STAR:    PRODUCT,
	token.SLASH:   PRODUCT,
	token.PERCENT: PRODUCT,
}

var binaryOperators = map[token.Type]builder.Operator{
	token.OR:      builder.OpOr,
	token.AND:     builder.OpAnd,
	token.EQ:      builder.OpEq,
	token.NEQ:     builder.OpNe,
	token.LT:      builder.OpLt,
	token.LTE:     builder.OpLe,
	token.GT:      builder.OpGt,
	token.GTE:     builder.OpGe,
	token.PLUS:    builder.OpAdd,
	token.MINUS:   builder.OpSub,
	token.STAR:    builder.OpMul,
	token.SLASH:   builder.OpDiv,
	token.PERCENT: builder.OpMod,
}

// Section names the part of the script being parsed.
type Section string

const (
	SectionNone    Section = ""
	SectionSymbols Section = "Symbols"
	SectionCode    Section = "Code"
)

// Error is a lexical or syntax error. Either one aborts parsing.
type Error struct {
	// Phase is "lexer" or "parser".
	Phase   string
	Section Section
	Line    int
	Column  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	where := ""
	if e.Section != SectionNone {
		where = " in " + string(e.Section) + " section"
	}
	return fmt.Sprintf("%s error at line %d, column %d%s: %s", e.Phase, e.Line, e.Column, where, e.Message)
}

// bailout unwinds the parser after the first lexical or syntax error.
type bailout struct{}

// Parser drives a builder.Builder from a token stream.
type Parser struct {
	l *lexer.Lexer
	b *builder.Builder

	curToken  token.Token
	peekToken token.Token

	section  Section
	evaluate bool
	err      *Error

	prefixParseFns map[token.Type]prefixParseFn
	infixParseFns  map[token.Type]infixParseFn
}

type (
	prefixParseFn func() bytecode.Kind
	infixParseFn  func(bytecode.Kind) bytecode.Kind
)

// New creates a new Parser emitting into b.
func New(l *lexer.Lexer, b *builder.Builder) *Parser {
	p := &Parser{l: l, b: b}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.FLOAT, p.parseFloatLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.NOT, p.parsePrefixExpression)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.WAIT, p.parseWaitExpression)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	for t := range binaryOperators {
		p.registerInfix(t, p.parseInfixExpression)
	}
	return p
}

// ParseScript parses a complete script: optional symbols and code sections.
func (p *Parser) ParseScript() (err error) {
	defer p.recoverBailout(&err)

	p.nextToken()
	p.nextToken()

	for !p.curTokenIs(token.EOF) {
		switch p.curToken.Type {
		case token.SYMBOLS:
			p.section = SectionSymbols
			p.parseSymbols()
		case token.CODE:
			p.section = SectionCode
			p.parseCode()
		default:
			p.syntaxError(p.curToken, "expected symbols or code section, got %s", describe(p.curToken))
		}
		p.nextToken()
	}
	p.section = SectionNone
	return nil
}

// ParseEvaluate parses an evaluate-mode expression. The expression is compiled
// into a single function with the implicit int globals n$ and v$ in scope, and
// its value is left on the stack as the result.
func (p *Parser) ParseEvaluate(function string) (err error) {
	defer p.recoverBailout(&err)

	p.evaluate = true
	p.section = SectionCode
	p.b.DeclareVariable("n$", bytecode.Int, nil)
	p.b.DeclareVariable("v$", bytecode.Int, nil)
	p.b.BeginFunction(function)

	p.nextToken()
	p.nextToken()

	p.b.EvaluateResult(p.parseExpression(LOWEST))
	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
	}
	if !p.peekTokenIs(token.EOF) {
		p.nextToken()
		p.syntaxError(p.curToken, "unexpected %s after expression", describe(p.curToken))
	}
	p.b.EndFunction()
	return nil
}

func (p *Parser) recoverBailout(err *error) {
	if r := recover(); r != nil {
		if _, ok := r.(bailout); !ok {
			panic(r)
		}
		*err = p.err
	}
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

// parseSymbols parses `symbols { decl* }`.
func (p *Parser) parseSymbols() {
	p.expectPeek(token.LBRACE)
	p.nextToken()
	for !p.curTokenIs(token.RBRACE) {
		p.parseVarDeclaration()
		p.nextToken()
	}
}

// parseVarDeclaration parses `type name [= literal] {, name [= literal]} ;`.
func (p *Parser) parseVarDeclaration() {
	var kind bytecode.Kind
	switch p.curToken.Type {
	case token.INT_TYPE:
		kind = bytecode.Int
	case token.FLOAT_TYPE:
		kind = bytecode.Float
	case token.STR_TYPE:
		kind = bytecode.String
	default:
		p.syntaxError(p.curToken, "expected variable type, got %s", describe(p.curToken))
	}

	for {
		p.expectPeek(token.IDENT)
		name := p.curToken

		var def *builder.Constant
		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken()
			p.nextToken()
			def = p.parseConstant()
		}
		p.at(name)
		p.b.DeclareVariable(name.Literal, kind, def)

		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}
	p.expectPeek(token.SEMICOLON)
}

// parseConstant parses a literal initializer, allowing a leading minus on numbers.
func (p *Parser) parseConstant() *builder.Constant {
	negative := false
	if p.curTokenIs(token.MINUS) {
		negative = true
		p.nextToken()
	}

	switch p.curToken.Type {
	case token.INT:
		return &builder.Constant{Kind: bytecode.Int, Int: p.intValue(p.curToken, negative)}
	case token.FLOAT:
		v := p.floatValue(p.curToken)
		if negative {
			v = -v
		}
		return &builder.Constant{Kind: bytecode.Float, Float: v}
	case token.STRING:
		if !negative {
			return &builder.Constant{Kind: bytecode.String, String: p.curToken.Literal}
		}
	}
	p.syntaxError(p.curToken, "expected literal initializer, got %s", describe(p.curToken))
	return nil
}

// parseCode parses `code { function* }`.
func (p *Parser) parseCode() {
	p.expectPeek(token.LBRACE)
	p.nextToken()
	for !p.curTokenIs(token.RBRACE) {
		p.parseFunctionDeclaration()
		p.nextToken()
	}
}

// parseFunctionDeclaration parses `name() { statements }`.
func (p *Parser) parseFunctionDeclaration() {
	if !p.curTokenIs(token.IDENT) {
		p.syntaxError(p.curToken, "expected function name, got %s", describe(p.curToken))
	}
	name := p.curToken
	p.expectPeek(token.LPAREN)
	p.expectPeek(token.RPAREN)
	p.expectPeek(token.LBRACE)

	p.at(name)
	p.b.BeginFunction(name.Literal)
	p.parseBlockStatement()
	p.at(p.curToken)
	p.b.EndFunction()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseStatement parses one statement. It starts on the statement's first token
// and ends on its last (the ';' or '}').
func (p *Parser) parseStatement() {
	switch p.curToken.Type {
	case token.SEMICOLON:
	case token.LBRACE:
		p.parseBlockStatement()
	case token.IF:
		p.parseIfStatement()
	case token.RETURN:
		p.b.Return()
		p.expectPeek(token.SEMICOLON)
	case token.BREAKPOINT:
		p.b.Breakpoint()
		p.expectPeek(token.SEMICOLON)
	case token.SITNSPIN:
		p.b.SitnSpin()
		p.expectPeek(token.SEMICOLON)
	case token.GOTO:
		p.expectPeek(token.IDENT)
		p.b.Goto(p.curToken.Literal)
		p.expectPeek(token.SEMICOLON)
	case token.WAIT:
		p.parseWaitStatement()
	case token.IDENT:
		switch {
		case p.peekTokenIs(token.ASSIGN):
			p.parseAssignStatement()
		case p.peekTokenIs(token.COLON):
			p.b.Label(p.curToken.Literal)
			p.nextToken()
		default:
			p.parseExpressionStatement()
		}
	default:
		p.parseExpressionStatement()
	}
}

func (p *Parser) parseAssignStatement() {
	name := p.curToken
	p.nextToken() // '='
	p.nextToken()
	kind := p.parseExpression(LOWEST)
	p.at(name)
	p.b.Store(name.Literal, kind)
	p.expectPeek(token.SEMICOLON)
}

func (p *Parser) parseExpressionStatement() {
	p.b.ExprStatement(p.parseExpression(LOWEST))
	p.expectPeek(token.SEMICOLON)
}

// parseBlockStatement parses `{ statements }`, starting on '{'.
func (p *Parser) parseBlockStatement() {
	p.nextToken()
	for !p.curTokenIs(token.RBRACE) {
		if p.curTokenIs(token.EOF) {
			p.syntaxError(p.curToken, "unexpected end of input, expected }")
		}
		p.parseStatement()
		p.nextToken()
	}
}

// parseIfStatement parses an if / else if / else chain.
func (p *Parser) parseIfStatement() {
	p.b.BeginIf()
	for {
		p.expectPeek(token.LPAREN)
		p.nextToken()
		kind := p.parseExpression(LOWEST)
		p.expectPeek(token.RPAREN)
		p.b.Condition(kind)

		p.nextToken()
		p.parseStatement()

		if !p.peekTokenIs(token.ELSE) {
			break
		}
		p.nextToken()
		p.b.Else()
		if p.peekTokenIs(token.IF) {
			p.nextToken()
			continue
		}
		p.nextToken()
		p.parseStatement()
		break
	}
	p.b.EndIf()
}

// parseWaitStatement parses `wait expr;` and `wait { statements }`.
func (p *Parser) parseWaitStatement() {
	p.b.BeginWait()
	p.nextToken()
	if p.curTokenIs(token.LBRACE) {
		p.parseBlockStatement()
	} else {
		p.parseExpressionStatement()
	}
	p.b.EndWait()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpression(precedence int) bytecode.Kind {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
	}
	kind := prefix()

	for !p.peekTokenIs(token.EOF) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return kind
		}

		p.nextToken()
		kind = infix(kind)
	}

	return kind
}

// parseIdentifier parses a variable load or a host call.
func (p *Parser) parseIdentifier() bytecode.Kind {
	name := p.curToken
	if !p.peekTokenIs(token.LPAREN) {
		p.at(name)
		return p.b.Load(name.Literal)
	}
	p.nextToken()
	args := p.parseExpressionList(token.RPAREN)
	p.at(name)
	return p.b.Call(name.Literal, args)
}

func (p *Parser) parseIntegerLiteral() bytecode.Kind {
	return p.b.PushInt(p.intValue(p.curToken, false))
}

func (p *Parser) parseFloatLiteral() bytecode.Kind {
	return p.b.PushFloat(p.floatValue(p.curToken))
}

func (p *Parser) parseStringLiteral() bytecode.Kind {
	return p.b.PushString(p.curToken.Literal)
}

func (p *Parser) parsePrefixExpression() bytecode.Kind {
	op := p.curToken
	p.nextToken()
	if op.Type == token.MINUS && p.curTokenIs(token.INT) && isMinIntMagnitude(p.curToken.Literal) {
		// 2147483648 only fits once negated.
		return p.b.PushInt(math.MinInt32)
	}
	operand := p.parseExpression(PREFIX)
	p.at(op)
	if op.Type == token.NOT {
		return p.b.Unary(builder.OpNot, operand)
	}
	return p.b.Unary(builder.OpNeg, operand)
}

func (p *Parser) parseInfixExpression(left bytecode.Kind) bytecode.Kind {
	op := p.curToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	p.at(op)
	return p.b.Binary(binaryOperators[op.Type], left, right)
}

func (p *Parser) parseGroupedExpression() bytecode.Kind {
	p.nextToken()
	kind := p.parseExpression(LOWEST)
	p.expectPeek(token.RPAREN)
	return kind
}

// parseWaitExpression handles a wait in expression position, which only occurs in
// evaluate mode; elsewhere it is a syntax error.
func (p *Parser) parseWaitExpression() bytecode.Kind {
	if !p.evaluate {
		p.syntaxError(p.curToken, "wait must start a statement")
	}
	p.at(p.curToken)
	p.b.Errorf("wait is not allowed in evaluate mode")
	p.nextToken()
	return p.parseExpression(LOWEST)
}

// parseExpressionList parses call arguments, starting on '(' and ending on end.
func (p *Parser) parseExpressionList(end token.Type) []bytecode.Kind {
	list := []bytecode.Kind{}

	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}

	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}

	p.expectPeek(end)
	return list
}

// intValue converts an INT literal, negated when negative is set. Hex literals
// may use all 32 bits.
func (p *Parser) intValue(tok token.Token, negative bool) int32 {
	lit := tok.Literal
	if isHex(lit) {
		v, err := strconv.ParseUint(lit[2:], 16, 32)
		if err != nil {
			p.syntaxError(tok, "invalid integer literal %s", lit)
		}
		if negative {
			return -int32(uint32(v))
		}
		return int32(uint32(v))
	}
	v, err := strconv.ParseInt(lit, 10, 64)
	if negative {
		v = -v
		lit = "-" + lit
	}
	if err != nil || v < math.MinInt32 || v > math.MaxInt32 {
		p.syntaxError(tok, "integer literal %s out of range", lit)
	}
	return int32(v)
}

func isHex(lit string) bool {
	return strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X")
}

// isMinIntMagnitude reports whether a decimal literal is exactly 2147483648.
func isMinIntMagnitude(lit string) bool {
	if isHex(lit) {
		return false
	}
	v, err := strconv.ParseUint(lit, 10, 64)
	return err == nil && v == 1<<31
}

func (p *Parser) floatValue(tok token.Token) float32 {
	v, err := strconv.ParseFloat(tok.Literal, 32)
	if err != nil {
		p.syntaxError(tok, "invalid float literal %s", tok.Literal)
	}
	return float32(v)
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *Parser) curTokenIs(t token.Type) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.Type) bool {
	return p.peekToken.Type == t
}

// expectPeek advances when the next token has type t and aborts otherwise.
func (p *Parser) expectPeek(t token.Type) {
	if p.peekTokenIs(t) {
		p.nextToken()
		return
	}
	p.peekError(t)
}

// nextToken advances one token. Reaching an ILLEGAL token aborts with the
// lexer's message.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()

	if p.curToken.Type == token.ILLEGAL {
		p.fail("lexer", p.curToken, p.curToken.Literal)
	}
	p.at(p.curToken)
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return LOWEST
}

// at points builder diagnostics at tok.
func (p *Parser) at(tok token.Token) {
	p.b.SetPosition(tok.Line, tok.Column)
}

func (p *Parser) peekError(t token.Type) {
	if p.peekTokenIs(token.ILLEGAL) {
		p.fail("lexer", p.peekToken, p.peekToken.Literal)
	}
	p.syntaxError(p.peekToken, "expected %s, got %s", t, describe(p.peekToken))
}

func (p *Parser) noPrefixParseFnError(tok token.Token) {
	p.syntaxError(tok, "unexpected %s in expression", describe(tok))
}

func (p *Parser) syntaxError(tok token.Token, format string, args ...any) {
	p.fail("parser", tok, fmt.Sprintf(format, args...))
}

// fail records the first error and unwinds to the parse entry point.
func (p *Parser) fail(phase string, tok token.Token, msg string) {
	p.err = &Error{
		Phase:   phase,
		Section: p.section,
		Line:    tok.Line,
		Column:  tok.Column,
		Message: msg,
	}
	panic(bailout{})
}

func (p *Parser) registerPrefix(tokenType token.Type, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.Type, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

// describe renders a token for error messages.
func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of input"
	case token.IDENT, token.INT, token.FLOAT:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	case token.STRING:
		return fmt.Sprintf("string %q", tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Type.String())
}
