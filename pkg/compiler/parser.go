package compiler

// Parser pulls tokens from a Lexer with one token of lookahead and builds an AST.
//
// Grammar:
//
//	program    = statement* EOF
//	statement  = structDecl | if | while | forRange | import | use | let | func
//	           | return | print | set | assignment | exprStmt
//	structDecl = "struct" IDENT "{" (IDENT ":" type ","?)* "}" ";"?
//	if         = "if" expression "then"? block ("else" (if | block))?
//	while      = "while" expression block
//	forRange   = "for" IDENT "in" "range" "(" expression ("," expression)? ")" block
//	import     = "import" STRING ";"?
//	use        = "use" "#" IDENT ";"?
//	let        = "let" IDENT (":" type)? "=" expression ";"?
//	func       = "func" IDENT "(" (IDENT ","?)* ")" block
//	return     = "return" expression? ";"?
//	print      = "print" "(" expression? ")" ";"?
//	set        = "set" IDENT "=" expression ";"?
//	assignment = IDENT "=" expression ";"?
//	type       = IDENT ("[" INTEGER "]")?
//	expression = additive (("<"|">"|"<="|">="|"=="|"!=") additive)*
//	additive   = multiplicative (("+"|"-") multiplicative)*
//	multiplicative = postfix (("*"|"/") postfix)*
//	postfix    = primary ("[" expression "]")*
//	primary    = INTEGER | STRING | "[" (expression ","?)* "]"
//	           | IDENT ("(" (expression ","?)* ")")? | "(" expression ")"
//
// Nothing here ever fails hard. A statement that cannot be recognised makes
// the caller skip one token and try again, so malformed input yields a
// partial program plus diagnostics.
type Parser struct {
	lex       *Lexer
	lookahead Token
	consumed  int // tokens consumed so far; used to detect lack of progress
	diags     Diagnostics
}

// NewParser primes a parser over src.
func NewParser(src string) *Parser {
	lx := NewLexer(src)
	return &Parser{lex: lx, lookahead: lx.Next()}
}

// Diagnostics returns the problems the parser skipped over.
func (p *Parser) Diagnostics() Diagnostics { return p.diags }

// peek returns the current token without consuming it.
func (p *Parser) peek() Token { return p.lookahead }

func (p *Parser) at(tt TokenType) bool { return p.lookahead.Type == tt }

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.lookahead
	p.lookahead = p.lex.Next()
	p.consumed++
	return tok
}

// accept consumes the current token if it matches tt.
func (p *Parser) accept(tt TokenType) bool {
	if p.at(tt) {
		p.advance()
		return true
	}
	return false
}

// skipToken drops the current token and records why.
func (p *Parser) skipToken() {
	tok := p.advance()
	p.diags.add(StageParser, SeverityWarning, CodeParseSkippedToken, tok.Line,
		"skipped unexpected %s %q", tok.Type, tok.Lexeme)
}

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	for !p.at(EOF) {
		if s := p.parseStmt(); s != nil {
			prog.Stmts = append(prog.Stmts, s)
		} else {
			p.skipToken()
		}
	}
	return prog
}

// Parse is a convenience wrapper returning only the program.
func Parse(src string) *Program {
	return NewParser(src).ParseProgram()
}

// ParseWithDiagnostics returns the program and everything the parser skipped.
func ParseWithDiagnostics(src string) (*Program, Diagnostics) {
	p := NewParser(src)
	prog := p.ParseProgram()
	return prog, p.Diagnostics()
}

// parseBlock parses "{" statement* "}". The caller has checked for "{".
func (p *Parser) parseBlock() []Stmt {
	p.advance() // {
	body := []Stmt{}
	for !p.at(RBRACE) && !p.at(EOF) {
		if s := p.parseStmt(); s != nil {
			body = append(body, s)
		} else {
			p.skipToken()
		}
	}
	p.accept(RBRACE)
	return body
}

// parseType handles  int | str | string | Name  with an optional [N] suffix.
func (p *Parser) parseType() *Type {
	if !p.at(IDENTIFIER) {
		return nil
	}
	baseName := p.advance().Lexeme
	base := namedType(baseName)

	if p.accept(LBRACKET) {
		if p.at(INTEGER) {
			size := p.advance().Value
			if p.accept(RBRACKET) {
				return &Type{Kind: TypeArray, Base: base, Size: int(size)}
			}
		}
		return nil
	}
	return base
}

func namedType(name string) *Type {
	switch name {
	case "int":
		return &Type{Kind: TypeInt}
	case "string", "str":
		return &Type{Kind: TypeStr}
	default:
		return &Type{Kind: TypeStruct, Name: name}
	}
}

func (p *Parser) parseStmt() Stmt {
	switch p.peek().Type {
	case STRUCT:
		return p.parseStruct()
	case IF:
		return p.parseIf()
	case WHILE:
		p.advance()
		cond := p.parseExpr()
		if cond == nil || !p.at(LBRACE) {
			return nil
		}
		return &WhileStmt{Cond: cond, Body: p.parseBlock()}
	case FOR:
		return p.parseForRange()
	case IMPORT:
		p.advance()
		if !p.at(STRING) {
			return nil
		}
		path := p.advance().Lexeme
		p.accept(SEMICOLON)
		return &ImportStmt{Path: path}
	case USE:
		p.advance()
		if !p.accept(HASH) || !p.at(IDENTIFIER) {
			return nil
		}
		lib := p.advance().Lexeme
		p.accept(SEMICOLON)
		return &UseStmt{Lib: lib}
	case LET:
		return p.parseLet()
	case FUNC:
		return p.parseFunc()
	case RETURN:
		p.advance()
		e := p.parseExpr()
		p.accept(SEMICOLON)
		return &ReturnStmt{Expr: e}
	case PRINT:
		p.advance()
		if !p.accept(LPAREN) {
			return nil
		}
		arg := p.parseExpr()
		if arg == nil {
			arg = &IntLit{Value: 0}
		}
		p.accept(RPAREN)
		p.accept(SEMICOLON)
		return &ExprStmt{Expr: &CallExpr{Name: "print", Args: []Expr{arg}}}
	case SET:
		p.advance()
		if !p.at(IDENTIFIER) {
			return nil
		}
		name := p.advance().Lexeme
		if !p.accept(ASSIGN) {
			return nil
		}
		value := p.parseExpr()
		if value == nil {
			return nil
		}
		p.accept(SEMICOLON)
		return &AssignStmt{Name: name, Value: value}
	}
	return p.parseExprOrAssign()
}

// parseExprOrAssign speculatively parses an expression; if it reduced to a
// bare identifier followed by "=", the statement is an assignment.
func (p *Parser) parseExprOrAssign() Stmt {
	if p.at(IDENTIFIER) {
		if e := p.parseExpr(); e != nil {
			if id, ok := e.(*Ident); ok && p.accept(ASSIGN) {
				if value := p.parseExpr(); value != nil {
					p.accept(SEMICOLON)
					return &AssignStmt{Name: id.Name, Value: value}
				}
			}
			p.accept(SEMICOLON)
			return &ExprStmt{Expr: e}
		}
	}

	if e := p.parseExpr(); e != nil {
		p.accept(SEMICOLON)
		return &ExprStmt{Expr: e}
	}
	return nil
}

func (p *Parser) parseStruct() Stmt {
	p.advance() // struct
	if !p.at(IDENTIFIER) {
		return nil
	}
	name := p.advance().Lexeme
	if !p.accept(LBRACE) {
		return nil
	}
	decl := &StructDecl{Name: name}
	for !p.at(RBRACE) && !p.at(EOF) {
		if !p.at(IDENTIFIER) {
			p.advance()
			continue
		}
		fieldName := p.advance().Lexeme
		if p.accept(COLON) {
			if t := p.parseType(); t != nil {
				decl.Fields = append(decl.Fields, Field{Name: fieldName, Type: t})
				p.accept(COMMA)
			}
		}
	}
	p.accept(RBRACE)
	p.accept(SEMICOLON)
	return decl
}

func (p *Parser) parseIf() Stmt {
	p.advance() // if
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	p.accept(THEN)
	if !p.at(LBRACE) {
		return nil
	}
	stmt := &IfStmt{Cond: cond, Then: p.parseBlock()}

	if p.accept(ELSE) {
		switch {
		case p.at(IF):
			if nested := p.parseStmt(); nested != nil {
				stmt.Else = []Stmt{nested}
			}
		case p.at(LBRACE):
			stmt.Else = p.parseBlock()
		}
	}
	return stmt
}

func (p *Parser) parseForRange() Stmt {
	p.advance() // for
	if !p.at(IDENTIFIER) {
		return nil
	}
	v := p.advance().Lexeme
	if !p.accept(IN) || !p.accept(RANGE) || !p.accept(LPAREN) {
		return nil
	}
	first := p.parseExpr()
	if first == nil {
		return nil
	}
	var start, end Expr
	if p.accept(COMMA) {
		second := p.parseExpr()
		if second == nil {
			return nil
		}
		start, end = first, second
	} else {
		// range(n) means 0..n
		start, end = &IntLit{Value: 0}, first
	}
	p.accept(RPAREN)
	if !p.at(LBRACE) {
		return nil
	}
	return &ForRangeStmt{Var: v, Start: start, End: end, Body: p.parseBlock()}
}

func (p *Parser) parseLet() Stmt {
	p.advance() // let
	if !p.at(IDENTIFIER) {
		return nil
	}
	name := p.advance().Lexeme

	var typ *Type
	if p.accept(COLON) {
		typ = p.parseType()
	}

	if !p.accept(ASSIGN) {
		return nil
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	p.accept(SEMICOLON)
	return &LetStmt{Name: name, Type: typ, Value: value}
}

func (p *Parser) parseFunc() Stmt {
	p.advance() // func
	if !p.at(IDENTIFIER) {
		return nil
	}
	name := p.advance().Lexeme
	if !p.accept(LPAREN) {
		return nil
	}
	params := []string{}
	for !p.at(RPAREN) && !p.at(EOF) {
		switch {
		case p.at(IDENTIFIER):
			params = append(params, p.advance().Lexeme)
		case !p.at(COMMA):
			p.skipToken()
		}
		p.accept(COMMA)
	}
	p.accept(RPAREN)
	if !p.at(LBRACE) {
		return nil
	}
	return &FuncDecl{Name: name, Params: params, Body: p.parseBlock()}
}

//  Expressions

// parseExpr is the entry point for expression parsing. It returns nil when
// no expression starts at the current token.
func (p *Parser) parseExpr() Expr {
	return p.parseComparison()
}

var comparisonOps = map[TokenType]BinOp{
	LESS:       OpLt,
	GREATER:    OpGt,
	LESS_EQ:    OpLtEq,
	GREATER_EQ: OpGtEq,
	EQUALS:     OpEqEq,
	NOT_EQ:     OpNotEq,
}

// parseComparison handles < > <= >= == != (loosest binding).
func (p *Parser) parseComparison() Expr {
	left := p.parseAdditive()
	if left == nil {
		return nil
	}
	for {
		op, ok := comparisonOps[p.peek().Type]
		if !ok {
			return left
		}
		p.advance()
		right := p.parseAdditive()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

// parseAdditive handles + and -
func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	if left == nil {
		return nil
	}
	for {
		var op BinOp
		switch p.peek().Type {
		case PLUS:
			op = OpAdd
		case MINUS:
			op = OpSub
		default:
			return left
		}
		p.advance()
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

// parseMultiplicative handles * and /
func (p *Parser) parseMultiplicative() Expr {
	left := p.parsePostfix()
	if left == nil {
		return nil
	}
	for {
		var op BinOp
		switch p.peek().Type {
		case STAR:
			op = OpMul
		case SLASH:
			op = OpDiv
		default:
			return left
		}
		p.advance()
		right := p.parsePostfix()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

// parsePostfix handles repeated  [index]  suffixes.
func (p *Parser) parsePostfix() Expr {
	expr := p.parsePrimary()
	if expr == nil {
		return nil
	}
	for p.accept(LBRACKET) {
		index := p.parseExpr()
		if index == nil {
			return nil
		}
		p.accept(RBRACKET)
		expr = &IndexExpr{Array: expr, Index: index}
	}
	return expr
}

func (p *Parser) parsePrimary() Expr {
	tok := p.peek()
	switch tok.Type {
	case INTEGER:
		p.advance()
		return &IntLit{Value: tok.Value}
	case STRING:
		p.advance()
		return &StrLit{Value: tok.Lexeme}
	case LBRACKET:
		p.advance()
		elems := p.parseExprList(RBRACKET)
		p.accept(RBRACKET)
		return &ArrayLit{Elems: elems}
	case IDENTIFIER:
		p.advance()
		if p.accept(LPAREN) {
			args := p.parseExprList(RPAREN)
			p.accept(RPAREN)
			return &CallExpr{Name: tok.Lexeme, Args: args}
		}
		return &Ident{Name: tok.Lexeme}
	case LPAREN:
		p.advance()
		e := p.parseExpr()
		p.accept(RPAREN)
		return e
	}
	return nil
}

// parseExprList parses comma-separated expressions up to (not including)
// the closing token. A token that neither starts an expression nor
// separates one is skipped so the loop always makes progress.
func (p *Parser) parseExprList(closing TokenType) []Expr {
	list := []Expr{}
	for !p.at(closing) && !p.at(EOF) {
		before := p.consumed
		if e := p.parseExpr(); e != nil {
			list = append(list, e)
		} else if p.consumed == before && !p.at(COMMA) && !p.at(closing) {
			p.skipToken()
		}
		p.accept(COMMA)
	}
	return list
}
