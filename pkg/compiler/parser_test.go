package compiler

import (
	"reflect"
	"testing"

	"github.com/sanity-io/litter"
)

func num(v int64) *IntLit { return &IntLit{Value: v} }
func str(s string) *StrLit { return &StrLit{Value: s} }
func id(name string) *Ident { return &Ident{Name: name} }
func bin(op BinOp, l, r Expr) Expr { return &BinaryExpr{Op: op, Left: l, Right: r} }
func printStmt(arg Expr) Stmt { return &ExprStmt{Expr: &CallExpr{Name: "print", Args: []Expr{arg}}} }

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Stmt
	}{
		{
			name:  "Let with precedence",
			input: "let x = 1 + 2 * 3;",
			want: []Stmt{
				&LetStmt{Name: "x", Value: bin(OpAdd, num(1), bin(OpMul, num(2), num(3)))},
			},
		},
		{
			name:  "Parenthesised",
			input: "let y = (1 + 2) * 3",
			want: []Stmt{
				&LetStmt{Name: "y", Value: bin(OpMul, bin(OpAdd, num(1), num(2)), num(3))},
			},
		},
		{
			name:  "Left associative",
			input: "let z = 8 - 2 - 1",
			want: []Stmt{
				&LetStmt{Name: "z", Value: bin(OpSub, bin(OpSub, num(8), num(2)), num(1))},
			},
		},
		{
			name:  "Comparison chain",
			input: "let c = 1 < 2 == 1",
			want: []Stmt{
				&LetStmt{Name: "c", Value: bin(OpEqEq, bin(OpLt, num(1), num(2)), num(1))},
			},
		},
		{
			name:  "Typed lets",
			input: `let s: str = "hi" let xs: int[10] = [1, 2] let p: Point = 0`,
			want: []Stmt{
				&LetStmt{Name: "s", Type: &Type{Kind: TypeStr}, Value: str("hi")},
				&LetStmt{
					Name:  "xs",
					Type:  &Type{Kind: TypeArray, Base: &Type{Kind: TypeInt}, Size: 10},
					Value: &ArrayLit{Elems: []Expr{num(1), num(2)}},
				},
				&LetStmt{Name: "p", Type: &Type{Kind: TypeStruct, Name: "Point"}, Value: num(0)},
			},
		},
		{
			name:  "Assignments",
			input: "x = 5; set y = x",
			want: []Stmt{
				&AssignStmt{Name: "x", Value: num(5)},
				&AssignStmt{Name: "y", Value: id("x")},
			},
		},
		{
			name:  "Print",
			input: `print("hi") print(a) print()`,
			want: []Stmt{
				printStmt(str("hi")),
				printStmt(id("a")),
				printStmt(num(0)),
			},
		},
		{
			name:  "If else chain",
			input: "if a < b then { print(1) } else if a > b { print(2) } else { print(3) }",
			want: []Stmt{
				&IfStmt{
					Cond: bin(OpLt, id("a"), id("b")),
					Then: []Stmt{printStmt(num(1))},
					Else: []Stmt{
						&IfStmt{
							Cond: bin(OpGt, id("a"), id("b")),
							Then: []Stmt{printStmt(num(2))},
							Else: []Stmt{printStmt(num(3))},
						},
					},
				},
			},
		},
		{
			name:  "While",
			input: "while i < 10 { i = i + 1 }",
			want: []Stmt{
				&WhileStmt{
					Cond: bin(OpLt, id("i"), num(10)),
					Body: []Stmt{&AssignStmt{Name: "i", Value: bin(OpAdd, id("i"), num(1))}},
				},
			},
		},
		{
			name:  "For range",
			input: "for i in range(5) { } for j in range(2, n) { print(j) }",
			want: []Stmt{
				&ForRangeStmt{Var: "i", Start: num(0), End: num(5), Body: []Stmt{}},
				&ForRangeStmt{Var: "j", Start: num(2), End: id("n"), Body: []Stmt{printStmt(id("j"))}},
			},
		},
		{
			name:  "Func",
			input: "func add(a, b) { return a + b } func main() { return }",
			want: []Stmt{
				&FuncDecl{
					Name:   "add",
					Params: []string{"a", "b"},
					Body:   []Stmt{&ReturnStmt{Expr: bin(OpAdd, id("a"), id("b"))}},
				},
				&FuncDecl{Name: "main", Params: []string{}, Body: []Stmt{&ReturnStmt{}}},
			},
		},
		{
			name:  "Import and use",
			input: `import "lib/util"; use #math;`,
			want: []Stmt{
				&ImportStmt{Path: "lib/util"},
				&UseStmt{Lib: "math"},
			},
		},
		{
			name:  "Struct",
			input: "struct Point { x: int, y: str, tags: int[4] }",
			want: []Stmt{
				&StructDecl{Name: "Point", Fields: []Field{
					{Name: "x", Type: &Type{Kind: TypeInt}},
					{Name: "y", Type: &Type{Kind: TypeStr}},
					{Name: "tags", Type: &Type{Kind: TypeArray, Base: &Type{Kind: TypeInt}, Size: 4}},
				}},
			},
		},
		{
			name:  "Calls and indexing",
			input: "foo(1, 2) xs[0][1]",
			want: []Stmt{
				&ExprStmt{Expr: &CallExpr{Name: "foo", Args: []Expr{num(1), num(2)}}},
				&ExprStmt{Expr: &IndexExpr{Array: &IndexExpr{Array: id("xs"), Index: num(0)}, Index: num(1)}},
			},
		},
		{
			name:  "Input call",
			input: "let name = input()",
			want: []Stmt{
				&LetStmt{Name: "name", Value: &CallExpr{Name: "input", Args: []Expr{}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, diags := ParseWithDiagnostics(tt.input)
			if len(diags) != 0 {
				t.Errorf("unexpected diagnostics: %v", diags)
			}
			if !reflect.DeepEqual(prog.Stmts, tt.want) {
				t.Errorf("Parse(%q) =\n%s\nwant\n%s", tt.input, litter.Sdump(prog.Stmts), litter.Sdump(tt.want))
			}
		})
	}
}

// TestParseRecovery checks that malformed input yields a partial program
// and one skipped-token diagnostic per dropped token.
func TestParseRecovery(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      []Stmt
		wantSkips int
	}{
		{
			name:      "Stray closing paren",
			input:     ") let a = 1",
			want:      []Stmt{&LetStmt{Name: "a", Value: num(1)}},
			wantSkips: 1,
		},
		{
			name:      "Let without a name",
			input:     "let = 5",
			want:      []Stmt{&ExprStmt{Expr: num(5)}},
			wantSkips: 1,
		},
		{
			name:      "Junk inside call arguments",
			input:     "foo(1 ; 2)",
			want:      []Stmt{&ExprStmt{Expr: &CallExpr{Name: "foo", Args: []Expr{num(1), num(2)}}}},
			wantSkips: 1,
		},
		{
			name:      "Junk inside parameter list",
			input:     "func f(a ; b) { }",
			want:      []Stmt{&FuncDecl{Name: "f", Params: []string{"a", "b"}, Body: []Stmt{}}},
			wantSkips: 1,
		},
		{
			name:      "Unclosed block",
			input:     "while 1 { print(1)",
			want:      []Stmt{&WhileStmt{Cond: num(1), Body: []Stmt{printStmt(num(1))}}},
			wantSkips: 0,
		},
		{
			name:      "Only junk",
			input:     "} ] )",
			want:      nil,
			wantSkips: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, diags := ParseWithDiagnostics(tt.input)
			if !reflect.DeepEqual(prog.Stmts, tt.want) {
				t.Errorf("Parse(%q) =\n%s\nwant\n%s", tt.input, litter.Sdump(prog.Stmts), litter.Sdump(tt.want))
			}
			if len(diags) != tt.wantSkips {
				t.Fatalf("got %d diagnostics, want %d: %v", len(diags), tt.wantSkips, diags)
			}
			for _, d := range diags {
				if d.Stage != StageParser || d.Code != CodeParseSkippedToken || d.Severity != SeverityWarning {
					t.Errorf("unexpected diagnostic %s", d)
				}
			}
		})
	}
}

func TestParseNeverHangs(t *testing.T) {
	inputs := []string{
		"((((((",
		"[[[,,,",
		"if",
		"if 1",
		"func",
		"func f(",
		"for i in",
		"struct S { : : }",
		"print(",
		"!!!!",
		`import`,
		"use #",
		"let x: int[",
	}
	for _, in := range inputs {
		// must terminate; the result itself is not interesting
		Parse(in)
	}
}
