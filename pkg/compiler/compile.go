package compiler

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrStrict is wrapped around the diagnostics when Options.Strict rejects a
// program.
var ErrStrict = errors.New("strict mode: diagnostics reported")

// Options configures a compilation.
type Options struct {
	// Strict fails the compilation on any diagnostic instead of tolerating it.
	Strict bool
	// MaxImportDepth bounds nested imports; 0 means DefaultMaxImportDepth.
	MaxImportDepth int
}

// Compile runs the whole pipeline on src. Imports resolve relative to
// baseDir. The artifact is returned even when strict mode rejects the
// program so callers can show what was produced.
func Compile(src string, baseDir string, opts Options, backend Backend) (*Artifact, error) {
	if backend == nil {
		backend = AsmBackend{}
	}

	prog, diags := ParseWithDiagnostics(src)

	prog, importDiags, err := ResolveImports(prog, baseDir, nil, opts.MaxImportDepth)
	diags = append(diags, importDiags...)
	if err != nil {
		return nil, errors.Wrap(err, "resolving imports")
	}

	art, err := backend.Compile(prog)
	if art != nil {
		art.Diagnostics = append(diags, art.Diagnostics...)
	}
	if err != nil {
		return art, err
	}

	if opts.Strict && len(art.Diagnostics) > 0 {
		return art, errors.Wrap(ErrStrict, art.Diagnostics.Err().Error())
	}
	return art, nil
}

// CompileFile reads path and compiles it with imports relative to its directory.
func CompileFile(path string, opts Options, backend Backend) (*Artifact, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Compile(string(src), filepath.Dir(path), opts, backend)
}
