package compiler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SourceExt is appended to import paths that do not already carry it.
const SourceExt = ".wheel"

// DefaultMaxImportDepth bounds how deep nested imports may go.
const DefaultMaxImportDepth = 64

// ErrImportDepth is returned when nested imports exceed the configured depth.
var ErrImportDepth = errors.New("import nesting too deep")

type importResolver struct {
	processed map[string]bool // keyed by the literal path text, not the resolved file
	maxDepth  int
	diags     Diagnostics
}

// ResolveImports splices imported programs in front of prog. Every import
// path is processed at most once per processed set, which also breaks
// cycles. The result holds all imported statements, depth-first in import
// order, followed by prog's own non-import statements.
//
// A missing file is skipped and reported as a diagnostic. Read failures and
// nesting beyond maxDepth are fatal.
func ResolveImports(prog *Program, baseDir string, processed map[string]bool, maxDepth int) (*Program, Diagnostics, error) {
	if processed == nil {
		processed = make(map[string]bool)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxImportDepth
	}
	r := &importResolver{processed: processed, maxDepth: maxDepth}
	out, err := r.resolve(prog, baseDir, 0)
	if err != nil {
		return nil, r.diags, err
	}
	return out, r.diags, nil
}

// importPath returns the file an import refers to, relative to baseDir.
func importPath(baseDir, path string) string {
	if !strings.HasSuffix(path, SourceExt) {
		path += SourceExt
	}
	return filepath.Join(baseDir, path)
}

func (r *importResolver) resolve(prog *Program, baseDir string, depth int) (*Program, error) {
	if depth > r.maxDepth {
		return nil, errors.Wrapf(ErrImportDepth, "depth %d exceeds limit %d", depth, r.maxDepth)
	}

	var imported, local []Stmt
	for _, stmt := range prog.Stmts {
		imp, ok := stmt.(*ImportStmt)
		if !ok {
			local = append(local, stmt)
			continue
		}
		if r.processed[imp.Path] {
			r.diags.add(StageImports, SeverityNote, CodeImportDuplicate, 0,
				"%q already imported", imp.Path)
			continue
		}
		r.processed[imp.Path] = true

		file := importPath(baseDir, imp.Path)
		if _, err := os.Stat(file); err != nil {
			r.diags.add(StageImports, SeverityWarning, CodeImportMissing, 0,
				"import %q: %s not found", imp.Path, file)
			continue
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading import %q", imp.Path)
		}

		sub, subDiags := ParseWithDiagnostics(string(src))
		r.diags = append(r.diags, subDiags...)

		resolved, err := r.resolve(sub, filepath.Dir(file), depth+1)
		if err != nil {
			return nil, errors.Wrapf(err, "in %s", file)
		}
		imported = append(imported, resolved.Stmts...)
	}

	return &Program{Stmts: append(imported, local...)}, nil
}
