package compiler

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"wheelc/pkg/elf"
	"wheelc/pkg/emu"
	"wheelc/pkg/toolchain"

	"github.com/pkg/errors"
)

var programs = []struct {
	name  string
	src   string
	stdin string
	want  string
}{
	{
		name: "Hello",
		src:  `func main() { print("Hello, World!") }`,
		want: "Hello, World!",
	},
	{
		name: "Constant sum",
		src:  "let a = 2\nlet b = 3\nprint(a + b)",
		want: "5",
	},
	{
		name: "Static branch",
		src:  `if 1 { print("yes") } else { print("no") }`,
		want: "yes",
	},
	{
		name: "Runtime branch",
		src:  `let a = 2 let b = 3 if a < b { print("less") } else { print("more") }`,
		want: "less",
	},
	{
		name: "Else if",
		src:  `let a = 5 if a < 3 { print("small") } else if a < 9 { print("medium") } else { print("large") }`,
		want: "medium",
	},
	{
		name: "While loop",
		src:  `let i = 0 while i < 3 { print(i) i = i + 1 }`,
		want: "012",
	},
	{
		name: "Runtime arithmetic",
		src:  `let x = 9 x = x / 2 x = x * 2 - 1 print(x)`,
		want: "7",
	},
	{
		name:  "Echo input",
		src:   `let name = input() print("Hi ") print(name)`,
		stdin: "Bob\n",
		want:  "Hi Bob\n",
	},
	{
		name: "String constant",
		src:  `let s = "wheel" print(s) print(" ") print(s)`,
		want: "wheel wheel",
	},
	{
		name: "Nested let",
		src:  `if 1 { let n = 4 print(n) }`,
		want: "4",
	},
	{
		name: "Folded comparison",
		src:  `print(3 > 2) print(10 / 3) print(2 - 5)`,
		want: "13-3",
	},
	{
		name: "Escapes in strings",
		src:  "print(\"tab\tquote\\\")",
		want: "tab\tquote\\",
	},
}

// TestCompileAndRun compiles each program to an image and runs it in the
// emulator.
func TestCompileAndRun(t *testing.T) {
	for _, tc := range programs {
		t.Run(tc.name, func(t *testing.T) {
			art, err := Compile(tc.src, ".", Options{}, ImageBackend{})
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			var out bytes.Buffer
			code, err := emu.Run(art.Image, strings.NewReader(tc.stdin), &out)
			if err != nil {
				t.Fatalf("run failed: %v\n%s", err, art.Assembly)
			}
			if code != 0 {
				t.Errorf("exit code = %d, want 0", code)
			}
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q\n%s", out.String(), tc.want, art.Assembly)
			}
		})
	}
}

// TestNativeMatchesEmulator links the same programs with the host toolchain
// and checks the real process prints the same thing.
func TestNativeMatchesEmulator(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("generated code targets linux/amd64")
	}
	tc := toolchain.New()
	if !tc.Available() {
		t.Skipf("%s not available", tc.CC)
	}

	dir, err := os.MkdirTemp("", "wheel_native_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for i, p := range programs {
		t.Run(p.name, func(t *testing.T) {
			art, err := Compile(p.src, ".", Options{}, AsmBackend{})
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			exe := filepath.Join(dir, "prog"+string(rune('a'+i)))
			if err := tc.Link(context.Background(), art.Assembly, exe); err != nil {
				t.Fatalf("Link failed: %v", err)
			}
			cmd := exec.Command(exe)
			cmd.Stdin = strings.NewReader(p.stdin)
			out, err := cmd.Output()
			if err != nil {
				t.Fatalf("running: %v", err)
			}
			if string(out) != p.want {
				t.Errorf("output = %q, want %q", out, p.want)
			}
		})
	}
}

func TestImageBackend(t *testing.T) {
	art, err := Compile(`print("x")`, ".", Options{}, ImageBackend{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if art.Object == nil || art.Object.Entry != elf.CodeAddr {
		t.Fatalf("entry not at %#x", elf.CodeAddr)
	}
	if art.Object.DataAddr%elf.PageSize != 0 {
		t.Errorf("data at %#x is not page aligned", art.Object.DataAddr)
	}
	if !bytes.HasPrefix(art.Image, []byte("\x7fELF")) {
		t.Errorf("image is not ELF")
	}
}

func TestAsmBackendHasNoImage(t *testing.T) {
	art, err := Compile(`print("x")`, ".", Options{}, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if art.Image != nil || art.Object != nil {
		t.Error("AsmBackend should only produce assembly")
	}
	if !strings.Contains(art.Assembly, "_start:") {
		t.Errorf("no entry label in\n%s", art.Assembly)
	}
}

func TestCompileStrict(t *testing.T) {
	src := `print(ghost) ) print("ok")`

	art, err := Compile(src, ".", Options{}, AsmBackend{})
	if err != nil {
		t.Fatalf("permissive compile failed: %v", err)
	}
	if got := codes(art.Diagnostics); len(got) != 2 || got[0] != CodeParseSkippedToken || got[1] != CodeGenUndefinedName {
		t.Errorf("diagnostics = %v", art.Diagnostics)
	}

	art, err = Compile(src, ".", Options{Strict: true}, AsmBackend{})
	if !errors.Is(err, ErrStrict) {
		t.Fatalf("expected ErrStrict, got %v", err)
	}
	if art == nil || art.Assembly == "" {
		t.Error("strict failure should still return the artifact")
	}
	if !strings.Contains(err.Error(), "2 diagnostic(s)") {
		t.Errorf("error does not list the diagnostics: %v", err)
	}

	if _, err := Compile(`print("clean")`, ".", Options{Strict: true}, AsmBackend{}); err != nil {
		t.Errorf("clean program rejected in strict mode: %v", err)
	}
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, map[string]string{
		"main.wheel":     `import "lib/greet" print(greeting) print(n)`,
		"lib/greet.wheel": `let greeting = "hey" let n = 2 + 2`,
	})

	art, err := CompileFile(filepath.Join(dir, "main.wheel"), Options{}, ImageBackend{})
	if err != nil {
		t.Fatalf("CompileFile failed: %v", err)
	}
	var out bytes.Buffer
	if _, err := emu.Run(art.Image, nil, &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.String() != "hey4" {
		t.Errorf("output = %q, want %q", out.String(), "hey4")
	}

	if _, err := CompileFile(filepath.Join(dir, "missing.wheel"), Options{}, nil); err == nil {
		t.Error("expected an error for a missing input file")
	}
}

func TestCompileImportDepth(t *testing.T) {
	dir := t.TempDir()
	writeSources(t, dir, map[string]string{
		"a.wheel": `import "b"`,
		"b.wheel": `import "c"`,
		"c.wheel": `print("deep")`,
	})
	_, err := Compile(`import "a"`, dir, Options{MaxImportDepth: 1}, nil)
	if !errors.Is(err, ErrImportDepth) {
		t.Fatalf("expected ErrImportDepth, got %v", err)
	}
}

func TestDiagnostics(t *testing.T) {
	var ds Diagnostics
	if ds.Err() != nil {
		t.Error("empty diagnostics should give a nil error")
	}
	ds.add(StageParser, SeverityWarning, CodeParseSkippedToken, 3, "skipped %q", ")")
	ds.add(StageImports, SeverityNote, CodeImportDuplicate, 0, "dup")
	ds.add(StageCodegen, SeverityError, CodeGenUnsupportedExpr, 0, "bad")

	if got := ds[0].String(); got != `parser warning [PARSE_SKIPPED_TOKEN] line 3: skipped ")"` {
		t.Errorf("String() = %q", got)
	}
	if got := ds[1].String(); got != "imports note [IMPORT_DUPLICATE]: dup" {
		t.Errorf("String() = %q", got)
	}
	if n := len(ds.Filter(SeverityWarning)); n != 2 {
		t.Errorf("Filter(warning) kept %d, want 2", n)
	}
	if n := len(ds.Filter(SeverityError)); n != 1 {
		t.Errorf("Filter(error) kept %d, want 1", n)
	}
	if err := ds.Err(); err == nil || !strings.HasPrefix(err.Error(), "3 diagnostic(s):") {
		t.Errorf("Err() = %v", err)
	}
}

func BenchmarkCompileImage(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("let a = 2 let b = a * 3 if a < b { print(\"less\") } else { print(b) }\n")
		sb.WriteString("while a < 5 { a = a + 1 }\n")
	}
	src := sb.String()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(src, ".", Options{}, ImageBackend{}); err != nil {
			b.Fatal(err)
		}
	}
}
