// Package toolchain assembles and links generated assembly with the host's
// C compiler driver.
package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoCompiler is returned when no usable compiler driver is on PATH.
var ErrNoCompiler = errors.New("no C compiler driver found")

// ToolError carries the combined output of a failed tool invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	return e.Tool + " " + strings.Join(e.Args, " ") + ": " + e.Err.Error() + "\n" + e.Output
}

func (e *ToolError) Unwrap() error { return e.Err }

// Toolchain invokes a compiler driver such as gcc or clang.
type Toolchain struct {
	CC    string   // driver executable; found with LookPath when empty
	Flags []string // extra flags placed before the input file
}

// DefaultCC is gcc on Linux and clang elsewhere.
func DefaultCC() string {
	if runtime.GOOS == "darwin" {
		return "clang"
	}
	return "gcc"
}

// New returns a Toolchain for the platform default driver, honouring $CC.
func New() *Toolchain {
	cc := os.Getenv("CC")
	if cc == "" {
		cc = DefaultCC()
	}
	return &Toolchain{CC: cc}
}

// Available reports whether the driver can be found.
func (t *Toolchain) Available() bool {
	_, err := exec.LookPath(t.CC)
	return err == nil
}

// Link writes assembly to a temporary .s file and produces a freestanding
// executable at out with  <cc> -nostdlib -o out file.s
func (t *Toolchain) Link(ctx context.Context, assembly, out string) error {
	path, err := exec.LookPath(t.CC)
	if err != nil {
		return errors.Wrapf(ErrNoCompiler, "%s: %v", t.CC, err)
	}

	dir, err := os.MkdirTemp("", "wheelc-*")
	if err != nil {
		return errors.Wrap(err, "creating temp dir")
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "out.s")
	if err := os.WriteFile(src, []byte(assembly), 0o644); err != nil {
		return errors.Wrap(err, "writing assembly")
	}

	args := append([]string{"-nostdlib"}, t.Flags...)
	args = append(args, "-o", out, src)

	var combined bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: t.CC, Args: args, Output: combined.String(), Err: err}
	}
	return nil
}
