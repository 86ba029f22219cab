package compiler

import (
	"fmt"
	"strings"
)

//  Types

// TypeKind discriminates the Type variants.
type TypeKind int

const (
	TypeInt TypeKind = iota
	TypeStr
	TypeArray
	TypeStruct
)

// Type is an optional `let` annotation. It is recorded by the parser and
// never checked.
//
//	let xs: int[10] = ...
//	        ^^^^^^^  Type{Kind: TypeArray, Base: &Type{Kind: TypeInt}, Size: 10}
type Type struct {
	Kind TypeKind
	Base *Type  // TypeArray only
	Size int    // TypeArray only
	Name string // TypeStruct only
}

func (t *Type) String() string {
	if t == nil {
		return "<none>"
	}
	switch t.Kind {
	case TypeInt:
		return "int"
	case TypeStr:
		return "str"
	case TypeArray:
		return fmt.Sprintf("%s[%d]", t.Base, t.Size)
	default:
		return t.Name
	}
}

//  Expression nodes

// Expr is implemented by every node that produces a value.
// genExpr always leaves the result in rax.
type Expr interface {
	exprNode()
	String() string
}

// IntLit is an integer literal.
type IntLit struct {
	Value int64
}

func (*IntLit) exprNode()        {}
func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// StrLit is a string literal; Value holds the bytes between the quotes.
type StrLit struct {
	Value string
}

func (*StrLit) exprNode()        {}
func (s *StrLit) String() string { return fmt.Sprintf("%q", s.Value) }

// Ident is a read of a named binding.
type Ident struct {
	Name string
}

func (*Ident) exprNode()        {}
func (i *Ident) String() string { return i.Name }

// BinOp is the closed set of binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpLt
	OpGt
	OpLtEq
	OpGtEq
	OpEqEq
	OpNotEq
)

var binOpNames = [...]string{
	OpAdd:   "+",
	OpSub:   "-",
	OpMul:   "*",
	OpDiv:   "/",
	OpLt:    "<",
	OpGt:    ">",
	OpLtEq:  "<=",
	OpGtEq:  ">=",
	OpEqEq:  "==",
	OpNotEq: "!=",
}

func (op BinOp) String() string {
	if int(op) >= 0 && int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return fmt.Sprintf("BinOp(%d)", int(op))
}

// BinaryExpr represents Left Op Right.
type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// CallExpr represents name(args). Only recognised directly after an identifier.
type CallExpr struct {
	Name string
	Args []Expr
}

func (*CallExpr) exprNode() {}
func (c *CallExpr) String() string {
	return fmt.Sprintf("Call(%s, args=%v)", c.Name, c.Args)
}

// IndexExpr represents Array[Index]. Parsed only.
type IndexExpr struct {
	Array Expr
	Index Expr
}

func (*IndexExpr) exprNode()        {}
func (e *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", e.Array, e.Index) }

// ArrayLit represents [e, e, ...]. Parsed only.
type ArrayLit struct {
	Elems []Expr
}

func (*ArrayLit) exprNode()        {}
func (a *ArrayLit) String() string { return fmt.Sprintf("%v", a.Elems) }

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	String() string
}

// ExprStmt is an expression evaluated as a statement. `print(x)` parses to
// an ExprStmt holding Call("print", [x]).
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) stmtNode()        {}
func (e *ExprStmt) String() string { return fmt.Sprintf("ExprStmt(%s)", e.Expr) }

// LetStmt represents  let name [: type] = value
type LetStmt struct {
	Name  string
	Type  *Type // nil when unannotated
	Value Expr
}

func (*LetStmt) stmtNode() {}
func (l *LetStmt) String() string {
	if l.Type != nil {
		return fmt.Sprintf("Let(%s: %s = %s)", l.Name, l.Type, l.Value)
	}
	return fmt.Sprintf("Let(%s = %s)", l.Name, l.Value)
}

// AssignStmt represents  name = value  and  set name = value
type AssignStmt struct {
	Name  string
	Value Expr
}

func (*AssignStmt) stmtNode()        {}
func (a *AssignStmt) String() string { return fmt.Sprintf("Assign(%s = %s)", a.Name, a.Value) }

// ArrayAssignStmt represents  array[index] = value. Never lowered.
type ArrayAssignStmt struct {
	Array string
	Index Expr
	Value Expr
}

func (*ArrayAssignStmt) stmtNode() {}
func (a *ArrayAssignStmt) String() string {
	return fmt.Sprintf("ArrayAssign(%s[%s] = %s)", a.Array, a.Index, a.Value)
}

// FuncDecl represents  func name(params) { body }
type FuncDecl struct {
	Name   string
	Params []string
	Body   []Stmt
}

func (*FuncDecl) stmtNode() {}
func (f *FuncDecl) String() string {
	return fmt.Sprintf("Func(%s(%s), body=%d)", f.Name, strings.Join(f.Params, ", "), len(f.Body))
}

// ReturnStmt represents  return [expr]; Expr is nil for a bare return.
type ReturnStmt struct {
	Expr Expr
}

func (*ReturnStmt) stmtNode() {}
func (r *ReturnStmt) String() string {
	if r.Expr == nil {
		return "Return"
	}
	return fmt.Sprintf("Return(%s)", r.Expr)
}

// ImportStmt represents  import "path". Removed by ResolveImports.
type ImportStmt struct {
	Path string
}

func (*ImportStmt) stmtNode()        {}
func (i *ImportStmt) String() string { return fmt.Sprintf("Import(%q)", i.Path) }

// UseStmt represents the foreign-library declaration  use #lib
type UseStmt struct {
	Lib string
}

func (*UseStmt) stmtNode()        {}
func (u *UseStmt) String() string { return fmt.Sprintf("Use(#%s)", u.Lib) }

// IfStmt represents  if cond { then } [else { ... }]. An `else if` chain is
// an Else holding a single nested IfStmt. Else is nil when absent.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (*IfStmt) stmtNode() {}
func (i *IfStmt) String() string {
	if i.Else != nil {
		return fmt.Sprintf("If(%s, then=%d, else=%d)", i.Cond, len(i.Then), len(i.Else))
	}
	return fmt.Sprintf("If(%s, then=%d)", i.Cond, len(i.Then))
}

// WhileStmt represents  while cond { body }
type WhileStmt struct {
	Cond Expr
	Body []Stmt
}

func (*WhileStmt) stmtNode()        {}
func (w *WhileStmt) String() string { return fmt.Sprintf("While(%s, body=%d)", w.Cond, len(w.Body)) }

// ForRangeStmt represents  for v in range(start, end) { body }
type ForRangeStmt struct {
	Var   string
	Start Expr
	End   Expr
	Body  []Stmt
}

func (*ForRangeStmt) stmtNode() {}
func (f *ForRangeStmt) String() string {
	return fmt.Sprintf("ForRange(%s in %s..%s, body=%d)", f.Var, f.Start, f.End, len(f.Body))
}

// Field is one struct member.
type Field struct {
	Name string
	Type *Type
}

// StructDecl represents  struct Name { field: type, ... }. Parsed only.
type StructDecl struct {
	Name   string
	Fields []Field
}

func (*StructDecl) stmtNode() {}
func (s *StructDecl) String() string {
	return fmt.Sprintf("Struct(%s, fields=%d)", s.Name, len(s.Fields))
}

// Program is the ordered top-level statement sequence. Order matters:
// it is execution order and drives first-literal-wins constant binding.
type Program struct {
	Stmts []Stmt
}

func (p *Program) String() string {
	var sb strings.Builder
	for _, s := range p.Stmts {
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
