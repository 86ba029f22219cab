//go:build !js

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"wheelc/pkg/compiler"
	"wheelc/pkg/elf"
	"wheelc/pkg/emu"
	"wheelc/pkg/toolchain"
	"wheelc/pkg/utils"

	"github.com/pkg/errors"
)

const (
	modeGE  = "ge"  // generated assembly linked by the system toolchain
	modeELF = "elf" // built-in assembler and ELF writer
	modeASM = "asm" // assembly text only
)

// lexDumpEnv makes the driver print every token and stop.
const lexDumpEnv = "WHEEL_LEX_DUMP"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wheelc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outPath := fs.String("o", "a.out", "output file path")
	mode := fs.String("mode", modeGE, "ge: link with the system toolchain, elf: built-in ELF writer, asm: write assembly")
	strict := fs.Bool("strict", false, "fail on any diagnostic")
	verbose := fs.Bool("v", false, "print diagnostics")
	runOutput := fs.Bool("run", false, "run the produced executable (elf mode runs it in the emulator)")
	maxDepth := fs.Int("max-import-depth", compiler.DefaultMaxImportDepth, "maximum nesting of imports")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: wheelc [flags] file.wheel")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	if *mode != modeGE && *mode != modeELF && *mode != modeASM {
		fmt.Fprintf(stderr, "unknown mode %q: use ge, elf or asm\n", *mode)
		return 2
	}
	if *runOutput && *mode == modeASM {
		fmt.Fprintln(stderr, "-run needs an executable; use -mode ge or -mode elf")
		return 2
	}

	fullPath, baseDir, err := utils.GetPathInfo(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "bad input path %q: %v\n", fs.Arg(0), err)
		return 1
	}
	source, err := os.ReadFile(fullPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to read input file %q: %v\n", fullPath, err)
		return 1
	}

	if _, ok := os.LookupEnv(lexDumpEnv); ok {
		for _, tok := range compiler.Lex(string(source)) {
			fmt.Fprintln(stderr, "TOKEN:", tok)
		}
		return 0
	}

	output := *outPath
	if *mode == modeASM && !flagSet(fs, "o") {
		output = utils.ReplaceExt(fullPath, ".s")
	}

	var backend compiler.Backend = compiler.AsmBackend{}
	if *mode == modeELF {
		backend = compiler.ImageBackend{}
	}
	opts := compiler.Options{Strict: *strict, MaxImportDepth: *maxDepth}

	art, err := compiler.Compile(string(source), baseDir, opts, backend)
	if art != nil && (*verbose || err != nil) {
		for _, d := range art.Diagnostics {
			fmt.Fprintln(stderr, d)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "compilation failed: %v\n", err)
		return 1
	}

	switch *mode {
	case modeASM:
		if err := os.WriteFile(output, []byte(art.Assembly), 0o644); err != nil {
			fmt.Fprintf(stderr, "failed to write %q: %v\n", output, err)
			return 1
		}
		fmt.Fprintf(stdout, "Generated assembly: %s\n", output)
		return 0

	case modeELF:
		if err := elf.WriteExecutable(output, art.Image); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}

	case modeGE:
		if err := toolchain.New().Link(context.Background(), art.Assembly, output); err != nil {
			fmt.Fprintf(stderr, "link failed: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "Generated executable: %s\n", output)

	if !*runOutput {
		return 0
	}
	code, err := runExecutable(*mode, output, art.Image, stdin, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "run failed for %q: %v\n", output, err)
		return 1
	}
	return code
}

// runExecutable runs an elf-mode image in the emulator and anything else as
// a native process, returning its exit status.
func runExecutable(mode, path string, image []byte, stdin io.Reader, stdout io.Writer) (int, error) {
	if mode == modeELF {
		return emu.Run(image, stdin, stdout)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	cmd := exec.Command(abs)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, errors.Wrap(err, "starting executable")
	}
	return 0, nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
