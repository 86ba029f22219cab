// Command wheeldump shows each compiler stage for a wheel program: tokens,
// the AST, generated assembly and diagnostics. With -i it becomes a REPL.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"wheelc/pkg/compiler"
	"wheelc/pkg/utils"

	"github.com/sanity-io/litter"
)

const testSource = `let a = 2;
let b = 3;
if a < b { print("less") } else { print("more") }
print(a + b);
`

func main() {
	showTokens := flag.Bool("tokens", false, "print tokens")
	showAST := flag.Bool("ast", false, "print the AST after import resolution")
	showAsm := flag.Bool("asm", false, "print generated assembly")
	showDiag := flag.Bool("diag", false, "print diagnostics")
	interactive := flag.Bool("i", false, "start an interactive session")
	runImage := flag.Bool("run", false, "in -i mode, run the program after each line")
	flag.Parse()

	if *interactive {
		os.Exit(repl(os.Stdout, *runImage))
	}

	// no selection means everything
	if !*showTokens && !*showAST && !*showAsm && !*showDiag {
		*showTokens, *showAST, *showAsm, *showDiag = true, true, true, true
	}

	src := testSource
	baseDir := "."
	if flag.NArg() > 0 {
		fullPath, dir, err := utils.GetPathInfo(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "path error:", err)
			os.Exit(1)
		}
		data, err := os.ReadFile(fullPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
		baseDir = dir
	}

	if err := dump(os.Stdout, src, baseDir, *showTokens, *showAST, *showAsm, *showDiag); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dump(w io.Writer, src, baseDir string, tokens, ast, asm, diag bool) error {
	if tokens {
		toks := compiler.Lex(src)
		fmt.Fprintf(w, "Tokens (%d)\n", len(toks))
		for _, tok := range toks {
			fmt.Fprintln(w, " ", tok)
		}
		fmt.Fprintln(w)
	}

	prog, diags := compiler.ParseWithDiagnostics(src)
	prog, importDiags, err := compiler.ResolveImports(prog, filepath.Clean(baseDir), nil, 0)
	if err != nil {
		return err
	}
	diags = append(diags, importDiags...)

	if ast {
		fmt.Fprintln(w, "AST")
		fmt.Fprintln(w, litter.Sdump(prog))
		fmt.Fprintln(w)
	}

	text, genDiags := compiler.Generate(prog)
	diags = append(diags, genDiags...)

	if asm {
		fmt.Fprintln(w, "Generated Assembly")
		fmt.Fprint(w, text)
		fmt.Fprintln(w)
	}

	if diag {
		fmt.Fprintf(w, "Diagnostics (%d)\n", len(diags))
		for _, d := range diags {
			fmt.Fprintln(w, " ", d)
		}
	}
	return nil
}
