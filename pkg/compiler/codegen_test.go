package compiler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sanity-io/litter"
)

func generate(t *testing.T, src string) (string, Diagnostics) {
	t.Helper()
	prog, diags := ParseWithDiagnostics(src)
	if len(diags) != 0 {
		t.Fatalf("parse diagnostics for %q: %v", src, diags)
	}
	return Generate(prog)
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		contains  []string
		excludes  []string
		wantCodes []Code
	}{
		{
			name: "Hello via main",
			src:  `func main() { print("Hello, World!") }`,
			contains: []string{
				"    .intel_syntax noprefix",
				"Lmsg0:\n    .ascii \"Hello, World!\"",
				"input_buffer: .space 256",
				"    .global _start\n_start:",
				"    lea rsi, [rip + Lmsg0]\n    mov rdx, 13\n    mov rax, 1\n    mov rdi, 1\n    syscall",
				"    mov rax, 60\n    xor rdi, rdi\n    syscall",
			},
		},
		{
			name:      "Other functions are dropped",
			src:       `func helper() { print("unused") } print("used")`,
			contains:  []string{`.ascii "used"`},
			excludes:  []string{"unused", "helper"},
			wantCodes: []Code{CodeGenUnsupportedStmt},
		},
		{
			name: "Folded print of a sum",
			src:  "let a = 2 let b = 3 print(a + b)",
			contains: []string{
				"g_a: .quad 0\ng_b: .quad 0",
				"    mov rax, 2\n    mov qword ptr [rip + g_a], rax",
				"    mov rax, 3\n    mov qword ptr [rip + g_b], rax",
				"Lmsg0:\n    .ascii \"5\"",
				"    lea rsi, [rip + Lmsg0]\n    mov rdx, 1",
			},
			excludes: []string{"push rax"},
		},
		{
			name: "Static condition",
			src:  `if 1 { print("yes") } else { print("no") }`,
			contains: []string{
				"    jmp Lend_0\nLelse_0:",
				"Lend_0:",
			},
			excludes: []string{"cmp rax, 0", "je "},
		},
		{
			name: "Static false condition without else",
			src:  `if 2 < 1 { print("never") }`,
			contains: []string{
				"    jmp Lend_0\n    lea rsi",
			},
			excludes: []string{"Lelse_0:"},
		},
		{
			name: "Runtime condition",
			src:  `let a = 1 let b = 2 if a < b { print("less") }`,
			contains: []string{
				"    mov rax, qword ptr [rip + g_a]\n    push rax\n    mov rax, qword ptr [rip + g_b]\n    mov rbx, rax\n    pop rax",
				"    cmp rax, rbx\n    setl al\n    movzx rax, al",
				"    cmp rax, 0\n    je Lend_0",
			},
		},
		{
			name: "While loop and shared label counter",
			src:  `let i = 0 if i { print("x") } while i < 3 { i = i + 1 }`,
			contains: []string{
				"je Lend_0",
				"Lloop_1:",
				"    je Lexit_1",
				"    add rax, rbx\n    mov qword ptr [rip + g_i], rax",
				"    jmp Lloop_1\nLexit_1:",
			},
		},
		{
			name: "Runtime digit",
			src:  `let n = 1 n = 7 print(n)`,
			contains: []string{
				"    mov rax, qword ptr [rip + g_n]\n    lea rsi, [rip + input_buffer]\n    mov rbx, rax\n    add rbx, '0'\n    mov byte ptr [rsi], bl\n    mov rdx, 1",
			},
		},
		{
			name: "Input",
			src:  `let name = input() print(name)`,
			contains: []string{
				"gbuf_name: .space 256\nglen_name: .quad 0",
				"    mov rax, 0\n    mov rdi, 0\n    lea rsi, [rip + gbuf_name]\n    mov rdx, 255\n    syscall\n    mov qword ptr [rip + glen_name], rax",
				"    lea rsi, [rip + gbuf_name]\n    mov rdx, qword ptr [rip + glen_name]",
			},
		},
		{
			name: "String constant",
			src:  `let s = "wheel" print(s)`,
			contains: []string{
				"    lea rax, [rip + Lmsg0]\n    mov qword ptr [rip + g_s], rax",
				"    lea rsi, [rip + Lmsg0]\n    mov rdx, 5",
			},
		},
		{
			name: "Undefined name",
			src:  `print(ghost)`,
			contains: []string{
				"    mov rsi, 0\n    mov rdx, 0\n    mov rax, 1",
			},
			wantCodes: []Code{CodeGenUndefinedName},
		},
		{
			name:      "Assignment to undeclared name",
			src:       `ghost = 1`,
			excludes:  []string{"g_ghost"},
			wantCodes: []Code{CodeGenUndefinedName},
		},
		{
			name:      "Unsupported statements",
			src:       `for i in range(3) { } struct P { x: int } use #m return 1`,
			wantCodes: []Code{CodeGenUnsupportedStmt, CodeGenUnsupportedStmt, CodeGenUnsupportedStmt, CodeGenUnsupportedStmt},
		},
		{
			name:      "Bare call statement",
			src:       `foo(1)`,
			wantCodes: []Code{CodeGenUnsupportedStmt},
		},
		{
			name:      "Unsupported expressions",
			src:       `let xs = [1, 2] let v = foo(1)`,
			wantCodes: []Code{CodeGenUnsupportedExpr, CodeGenUnsupportedExpr},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm, diags := generate(t, tt.src)
			for _, want := range tt.contains {
				if !strings.Contains(asm, want) {
					t.Errorf("assembly missing %q\n%s", want, asm)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(asm, bad) {
					t.Errorf("assembly should not contain %q\n%s", bad, asm)
				}
			}
			if got := codes(diags); !reflect.DeepEqual(got, tt.wantCodes) {
				t.Errorf("diagnostics = %s, want codes %v", litter.Sdump(diags), tt.wantCodes)
			}
		})
	}
}

func TestStringPoolDeduplicates(t *testing.T) {
	asm, _ := generate(t, `print("hi") print("hi") let s = "hi" print(s) print(2) let two = 2 print(two)`)
	if n := strings.Count(asm, ".ascii"); n != 2 {
		t.Errorf("got %d string entries, want 2 (\"hi\" and \"2\")\n%s", n, asm)
	}
	if !strings.Contains(asm, "Lmsg0:\n    .ascii \"hi\"\nLmsg1:\n    .ascii \"2\"") {
		t.Errorf("strings not in first-seen order\n%s", asm)
	}
}

func TestBuildSymbols(t *testing.T) {
	entry, _ := entrySequence(Parse(`let a = 1 if a { let b = input() } while 0 { let c = "x" } let a = 2`).Stmts)
	syms := buildSymbols(entry, discoverConstants(entry))

	var names []string
	for _, s := range syms.Symbols() {
		names = append(names, s.Label)
	}
	if want := []string{"g_a", "g_b", "g_c"}; !reflect.DeepEqual(names, want) {
		t.Errorf("labels = %v, want %v", names, want)
	}
	b, ok := syms.Lookup("b")
	if !ok || !b.IsInput || b.Buffer != "gbuf_b" || b.Length != "glen_b" {
		t.Errorf("b = %s", litter.Sdump(b))
	}
	if lbl, ok := syms.StringLabel("x"); !ok || lbl != "Lmsg0" {
		t.Errorf("StringLabel(x) = %q, %v", lbl, ok)
	}
}

func TestEscapeASCII(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`say "hi"`, `say \"hi\"`},
		{`back\slash`, `back\\slash`},
		{"tab\tnl\n", `tab\011nl\012`},
		{"\x7f\xff", `\177\377`},
	}
	for _, tc := range tests {
		if got := escapeASCII(tc.in); got != tc.want {
			t.Errorf("escapeASCII(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEntrySequence(t *testing.T) {
	prog := Parse(`let a = 1 func f() { } func main() { print(a) } print(2) func main() { print(3) }`)
	entry, dropped := entrySequence(prog.Stmts)

	var got []string
	for _, s := range entry {
		got = append(got, s.String())
	}
	want := []string{"Let(a = 1)", "ExprStmt(Call(print, args=[2]))", "ExprStmt(Call(print, args=[a]))"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entry = %v, want %v", got, want)
	}
	if len(dropped) != 2 || dropped[0].Name != "f" || dropped[1].Name != "main" {
		t.Errorf("dropped = %s", litter.Sdump(dropped))
	}
}
