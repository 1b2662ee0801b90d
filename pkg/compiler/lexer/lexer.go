// Package lexer provides lexical analysis for Sheep scripts.
package lexer

import (
	"fmt"
	"strings"

	"github.com/kromenak/gengine-sub002/pkg/compiler/token"
)

// Lexer tokenizes Sheep source code.
// Comments are skipped; lexical errors are reported as ILLEGAL tokens whose
// Literal holds the error message.
type Lexer struct {
	input        string
	position     int  // current position in input
	readPosition int  // current reading position (after current char)
	ch           byte // current char
	line         int  // current line number
	column       int  // current column number
}

// New creates a new Lexer.
func New(input string) *Lexer {
	l := &Lexer{
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

// NextToken returns the next token.
func (l *Lexer) NextToken() token.Token {
	if msg, ok := l.skipWhitespaceAndComments(); !ok {
		return token.Token{Type: token.ILLEGAL, Literal: msg, Line: l.line, Column: l.column}
	}

	tok := token.Token{Line: l.line, Column: l.column}

	switch l.ch {
	case '=':
		tok = l.oneOrTwo(token.ASSIGN, '=', token.EQ)
	case '!':
		tok = l.oneOrTwo(token.NOT, '=', token.NEQ)
	case '<':
		tok = l.oneOrTwo(token.LT, '=', token.LTE)
	case '>':
		tok = l.oneOrTwo(token.GT, '=', token.GTE)
	case '&':
		tok = l.oneOrTwo(token.ILLEGAL, '&', token.AND)
	case '|':
		tok = l.oneOrTwo(token.ILLEGAL, '|', token.OR)
	case '+':
		tok = l.newToken(token.PLUS, l.ch)
	case '-':
		tok = l.newToken(token.MINUS, l.ch)
	case '*':
		tok = l.newToken(token.STAR, l.ch)
	case '/':
		tok = l.newToken(token.SLASH, l.ch)
	case '%':
		tok = l.newToken(token.PERCENT, l.ch)
	case '(':
		tok = l.newToken(token.LPAREN, l.ch)
	case ')':
		tok = l.newToken(token.RPAREN, l.ch)
	case '{':
		tok = l.newToken(token.LBRACE, l.ch)
	case '}':
		tok = l.newToken(token.RBRACE, l.ch)
	case ',':
		tok = l.newToken(token.COMMA, l.ch)
	case ';':
		tok = l.newToken(token.SEMICOLON, l.ch)
	case ':':
		tok = l.newToken(token.COLON, l.ch)
	case '"':
		lit, err := l.readString()
		if err != "" {
			return token.Token{Type: token.ILLEGAL, Literal: err, Line: tok.Line, Column: tok.Column}
		}
		tok.Type = token.STRING
		tok.Literal = lit
	case 0:
		tok.Literal = ""
		tok.Type = token.EOF
		return tok
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(tok.Literal)
			return tok
		} else if isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())) {
			return l.readNumber(tok.Line, tok.Column)
		}
		tok = token.Token{
			Type:    token.ILLEGAL,
			Literal: fmt.Sprintf("illegal character %q", l.ch),
			Line:    tok.Line,
			Column:  tok.Column,
		}
	}

	if tok.Type == token.ILLEGAL && tok.Literal != "" && len(tok.Literal) == 1 {
		tok.Literal = fmt.Sprintf("illegal character %q", tok.Literal[0])
	}

	l.readChar()
	return tok
}

// oneOrTwo returns a two-character token when the next char is second,
// otherwise the single-character token.
func (l *Lexer) oneOrTwo(single token.Type, second byte, double token.Type) token.Token {
	line, col := l.line, l.column
	if l.peekChar() == second {
		ch := l.ch
		l.readChar()
		return token.Token{Type: double, Literal: string(ch) + string(l.ch), Line: line, Column: col}
	}
	return token.Token{Type: single, Literal: string(l.ch), Line: line, Column: col}
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// readIdentifier reads an identifier, including an optional trailing '$'.
func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '$' {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readNumber reads a number (integer, float, or hexadecimal).
func (l *Lexer) readNumber(line, column int) token.Token {
	position := l.position

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar() // consume '0'
		l.readChar() // consume 'x' or 'X'
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return token.Token{Type: token.INT, Literal: l.input[position:l.position], Line: line, Column: column}
	}

	isFloat := false
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	literal := l.input[position:l.position]

	// Trailing 'f' marks a float literal and is not part of the value.
	if l.ch == 'f' || l.ch == 'F' {
		isFloat = true
		l.readChar()
	}

	if isFloat {
		return token.Token{Type: token.FLOAT, Literal: literal, Line: line, Column: column}
	}
	return token.Token{Type: token.INT, Literal: literal, Line: line, Column: column}
}

// readString reads a string literal with C-style escapes.
// On return l.ch is the closing quote. A non-empty second result is an error message.
func (l *Lexer) readString() (string, string) {
	var b strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case '"':
			return b.String(), ""
		case 0, '\n':
			return "", "unterminated string literal"
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"', '\\':
				b.WriteByte(l.ch)
			case 0:
				return "", "unterminated string literal"
			default:
				b.WriteByte('\\')
				b.WriteByte(l.ch)
			}
		default:
			b.WriteByte(l.ch)
		}
	}
}

// skipWhitespaceAndComments skips whitespace, // comments and /* */ comments.
// It returns false with a message when a block comment is unterminated.
func (l *Lexer) skipWhitespaceAndComments() (string, bool) {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar() // consume /
			l.readChar() // consume *
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.ch == 0 {
					return "unterminated block comment", false
				}
				l.readChar()
			}
			l.readChar() // consume *
			l.readChar() // consume /
		default:
			return "", true
		}
	}
}

// newToken creates a new token.
func (l *Lexer) newToken(tokenType token.Type, ch byte) token.Token {
	return token.Token{Type: tokenType, Literal: string(ch), Line: l.line, Column: l.column}
}

// isLetter checks if a character can start an identifier.
func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch >= 0x80
}

// isDigit checks if a character is a digit.
func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// isHexDigit checks if a character is a hexadecimal digit.
func isHexDigit(ch byte) bool {
	return ('0' <= ch && ch <= '9') || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}

// Source returns the source code being tokenized.
func (l *Lexer) Source() string {
	return l.input
}
