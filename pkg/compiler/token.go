package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input, repeated on every further call

	// Literals
	IDENTIFIER // variable / function name (also the lone "!" fallback)
	INTEGER    // decimal integer literal
	STRING     // string literal "..." (verbatim, no escapes)

	// Keywords
	LET    // "let"
	FUNC   // "func"
	RETURN // "return"
	IMPORT // "import"
	FROM   // "from"
	USE    // "use"
	IN     // "in"
	RANGE  // "range"
	SET    // "set"
	STRUCT // "struct"
	PRINT  // "print"
	IF     // "if"
	ELSE   // "else"
	THEN   // "then"
	WHILE  // "while"
	FOR    // "for"

	// Paired delimiters
	LBRACE   // {
	RBRACE   // }
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Punctuation
	COMMA     // ,
	COLON     // :
	SEMICOLON // ;
	HASH      // #

	// Arithmetic operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %

	// Assignment / comparison (order matters: ASSIGN before EQUALS)
	ASSIGN     // =
	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

var tokenNames = [...]string{
	EOF:        "EOF",
	IDENTIFIER: "IDENTIFIER",
	INTEGER:    "INTEGER",
	STRING:     "STRING",
	LET:        "LET",
	FUNC:       "FUNC",
	RETURN:     "RETURN",
	IMPORT:     "IMPORT",
	FROM:       "FROM",
	USE:        "USE",
	IN:         "IN",
	RANGE:      "RANGE",
	SET:        "SET",
	STRUCT:     "STRUCT",
	PRINT:      "PRINT",
	IF:         "IF",
	ELSE:       "ELSE",
	THEN:       "THEN",
	WHILE:      "WHILE",
	FOR:        "FOR",
	LBRACE:     "LBRACE",
	RBRACE:     "RBRACE",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	LBRACKET:   "LBRACKET",
	RBRACKET:   "RBRACKET",
	COMMA:      "COMMA",
	COLON:      "COLON",
	SEMICOLON:  "SEMICOLON",
	HASH:       "HASH",
	PLUS:       "PLUS",
	MINUS:      "MINUS",
	STAR:       "STAR",
	SLASH:      "SLASH",
	PERCENT:    "PERCENT",
	ASSIGN:     "ASSIGN",
	EQUALS:     "EQUALS",
	NOT_EQ:     "NOT_EQ",
	LESS:       "LESS",
	GREATER:    "GREATER",
	LESS_EQ:    "LESS_EQ",
	GREATER_EQ: "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // source text; the unquoted contents for STRING
	Value  int64  // INTEGER payload
	Line   int    // 1-based source line
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
