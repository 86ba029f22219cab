package compiler

import "strconv"

// keywords maps source text to its keyword TokenType. Matching is case-sensitive.
var keywords = map[string]TokenType{
	"let":    LET,
	"func":   FUNC,
	"return": RETURN,
	"import": IMPORT,
	"from":   FROM,
	"use":    USE,
	"in":     IN,
	"range":  RANGE,
	"set":    SET,
	"struct": STRUCT,
	"print":  PRINT,
	"if":     IF,
	"else":   ELSE,
	"then":   THEN,
	"while":  WHILE,
	"for":    FOR,
}

// Lexer is a byte cursor over one source buffer. It hands out tokens one at
// a time and keeps no history, so the parser drives it lazily.
type Lexer struct {
	src  string
	pos  int // index of the next byte to consume
	line int // current 1-based source line
}

// NewLexer returns a Lexer positioned at the start of src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) advance() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	b := l.src[l.pos]
	l.pos++
	if b == '\n' {
		l.line++
	}
	return b
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

func isIdentPart(b byte) bool { return isIdentStart(b) || isDigit(b) }

// scanInt consumes a maximal digit run. Values that do not fit in an int64
// become 0; the lexer never reports an error.
func (l *Lexer) scanInt() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peek()) {
		l.advance()
	}
	lexeme := l.src[start:l.pos]
	v, err := strconv.ParseInt(lexeme, 10, 64)
	if err != nil {
		v = 0
	}
	return Token{Type: INTEGER, Lexeme: lexeme, Value: v, Line: line}
}

func (l *Lexer) scanIdent() Token {
	line := l.line
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.peek()) {
		l.advance()
	}
	lexeme := l.src[start:l.pos]
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	return Token{Type: tt, Lexeme: lexeme, Line: line}
}

// scanString consumes bytes verbatim up to the closing quote. An
// unterminated literal runs to end of input.
func (l *Lexer) scanString() Token {
	line := l.line
	l.advance() // opening "
	start := l.pos
	for l.pos < len(l.src) && l.peek() != '"' {
		l.advance()
	}
	val := l.src[start:l.pos]
	if l.peek() == '"' {
		l.advance()
	}
	return Token{Type: STRING, Lexeme: val, Line: line}
}

// Next returns the next token. At end of input it returns EOF, and keeps
// returning EOF on every further call.
func (l *Lexer) Next() Token {
	for l.pos < len(l.src) {
		ch := l.peek()
		line := l.line

		if isSpace(ch) {
			l.advance()
			continue
		}
		if isDigit(ch) {
			return l.scanInt()
		}
		if isIdentStart(ch) {
			return l.scanIdent()
		}
		if ch == '"' {
			return l.scanString()
		}

		l.advance()
		switch ch {
		case '+':
			return Token{Type: PLUS, Lexeme: "+", Line: line}
		case '-':
			return Token{Type: MINUS, Lexeme: "-", Line: line}
		case '*':
			return Token{Type: STAR, Lexeme: "*", Line: line}
		case '/':
			return Token{Type: SLASH, Lexeme: "/", Line: line}
		case '%':
			return Token{Type: PERCENT, Lexeme: "%", Line: line}
		case '(':
			return Token{Type: LPAREN, Lexeme: "(", Line: line}
		case ')':
			return Token{Type: RPAREN, Lexeme: ")", Line: line}
		case '{':
			return Token{Type: LBRACE, Lexeme: "{", Line: line}
		case '}':
			return Token{Type: RBRACE, Lexeme: "}", Line: line}
		case '[':
			return Token{Type: LBRACKET, Lexeme: "[", Line: line}
		case ']':
			return Token{Type: RBRACKET, Lexeme: "]", Line: line}
		case ',':
			return Token{Type: COMMA, Lexeme: ",", Line: line}
		case ':':
			return Token{Type: COLON, Lexeme: ":", Line: line}
		case ';':
			return Token{Type: SEMICOLON, Lexeme: ";", Line: line}
		case '#':
			return Token{Type: HASH, Lexeme: "#", Line: line}
		case '=':
			if l.peek() == '=' { // lookahead: distinguish = vs ==
				l.advance()
				return Token{Type: EQUALS, Lexeme: "==", Line: line}
			}
			return Token{Type: ASSIGN, Lexeme: "=", Line: line}
		case '<':
			if l.peek() == '=' {
				l.advance()
				return Token{Type: LESS_EQ, Lexeme: "<=", Line: line}
			}
			return Token{Type: LESS, Lexeme: "<", Line: line}
		case '>':
			if l.peek() == '=' {
				l.advance()
				return Token{Type: GREATER_EQ, Lexeme: ">=", Line: line}
			}
			return Token{Type: GREATER, Lexeme: ">", Line: line}
		case '!':
			if l.peek() == '=' {
				l.advance()
				return Token{Type: NOT_EQ, Lexeme: "!=", Line: line}
			}
			// A lone "!" has no meaning in the grammar; it surfaces as an
			// identifier so the parser can skip over it.
			return Token{Type: IDENTIFIER, Lexeme: "!", Line: line}
		}
		// Anything else is dropped silently.
	}
	return Token{Type: EOF, Line: l.line}
}

// Lex tokenises src and returns all tokens including the final EOF token.
func Lex(src string) []Token {
	l := NewLexer(src)
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}
