// Package token defines the lexical tokens of the Sheep language.
package token

import "strings"

// Type represents the type of a token.
type Type int

// Token types
const (
	_ Type = iota

	// Special tokens
	ILLEGAL
	EOF

	// Literals
	IDENT  // identifier, optionally with a trailing $
	INT    // integer literal
	FLOAT  // floating point literal
	STRING // string literal

	// Operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %
	ASSIGN  // =
	EQ      // ==
	NEQ     // !=
	LT      // <
	GT      // >
	LTE     // <=
	GTE     // >=
	AND     // &&
	OR      // ||
	NOT     // !

	// Delimiters
	LPAREN    // (
	RPAREN    // )
	LBRACE    // {
	RBRACE    // }
	COMMA     // ,
	SEMICOLON // ;
	COLON     // :

	// Keywords
	SYMBOLS    // symbols
	CODE       // code
	INT_TYPE   // int
	FLOAT_TYPE // float
	STR_TYPE   // string
	IF         // if
	ELSE       // else
	GOTO       // goto
	RETURN     // return
	WAIT       // wait
	BREAKPOINT // breakpoint
	SITNSPIN   // sitnspin
)

var names = map[Type]string{
	ILLEGAL:    "ILLEGAL",
	EOF:        "EOF",
	IDENT:      "IDENT",
	INT:        "INT",
	FLOAT:      "FLOAT",
	STRING:     "STRING",
	PLUS:       "+",
	MINUS:      "-",
	STAR:       "*",
	SLASH:      "/",
	PERCENT:    "%",
	ASSIGN:     "=",
	EQ:         "==",
	NEQ:        "!=",
	LT:         "<",
	GT:         ">",
	LTE:        "<=",
	GTE:        ">=",
	AND:        "&&",
	OR:         "||",
	NOT:        "!",
	LPAREN:     "(",
	RPAREN:     ")",
	LBRACE:     "{",
	RBRACE:     "}",
	COMMA:      ",",
	SEMICOLON:  ";",
	COLON:      ":",
	SYMBOLS:    "symbols",
	CODE:       "code",
	INT_TYPE:   "int",
	FLOAT_TYPE: "float",
	STR_TYPE:   "string",
	IF:         "if",
	ELSE:       "else",
	GOTO:       "goto",
	RETURN:     "return",
	WAIT:       "wait",
	BREAKPOINT: "breakpoint",
	SITNSPIN:   "sitnspin",
}

// String returns the display name of the token type.
func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// Token represents a lexical token.
type Token struct {
	Type    Type
	Literal string
	Line    int
	Column  int
}

var keywords = map[string]Type{
	"symbols":    SYMBOLS,
	"code":       CODE,
	"int":        INT_TYPE,
	"float":      FLOAT_TYPE,
	"string":     STR_TYPE,
	"if":         IF,
	"else":       ELSE,
	"goto":       GOTO,
	"return":     RETURN,
	"wait":       WAIT,
	"breakpoint": BREAKPOINT,
	"sitnspin":   SITNSPIN,
}

// LookupIdent returns the keyword type for ident, or IDENT.
// Keywords are case-insensitive.
func LookupIdent(ident string) Type {
	if t, ok := keywords[strings.ToLower(ident)]; ok {
		return t
	}
	return IDENT
}
