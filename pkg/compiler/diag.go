package compiler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Stage identifies which compiler phase produced a diagnostic.
type Stage string

const (
	StageLexer   Stage = "lexer"
	StageParser  Stage = "parser"
	StageImports Stage = "imports"
	StageCodegen Stage = "codegen"
)

// Severity captures how impactful the diagnostic is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// Code is a stable identifier for a diagnostic.
type Code string

const (
	CodeParseSkippedToken   Code = "PARSE_SKIPPED_TOKEN"
	CodeImportMissing       Code = "IMPORT_MISSING"
	CodeImportDuplicate     Code = "IMPORT_DUPLICATE"
	CodeGenUndefinedName    Code = "CODEGEN_UNDEFINED_NAME"
	CodeGenUnsupportedStmt  Code = "CODEGEN_UNSUPPORTED_STMT"
	CodeGenUnsupportedExpr  Code = "CODEGEN_UNSUPPORTED_EXPR"
	CodeGenUnsupportedPrint Code = "CODEGEN_UNSUPPORTED_PRINT"
)

// Diagnostic is one problem the permissive pipeline chose to tolerate.
type Diagnostic struct {
	Stage    Stage
	Severity Severity
	Code     Code
	Line     int // 0 when no source position is known
	Message  string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s %s [%s] line %d: %s", d.Stage, d.Severity, d.Code, d.Line, d.Message)
	}
	return fmt.Sprintf("%s %s [%s]: %s", d.Stage, d.Severity, d.Code, d.Message)
}

// Diagnostics collects tolerated problems in the order they were found.
type Diagnostics []Diagnostic

func (ds *Diagnostics) add(stage Stage, sev Severity, code Code, line int, format string, args ...any) {
	*ds = append(*ds, Diagnostic{
		Stage:    stage,
		Severity: sev,
		Code:     code,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Filter returns the diagnostics at or above the given severity.
func (ds Diagnostics) Filter(min Severity) Diagnostics {
	rank := map[Severity]int{SeverityNote: 0, SeverityWarning: 1, SeverityError: 2}
	var out Diagnostics
	for _, d := range ds {
		if rank[d.Severity] >= rank[min] {
			out = append(out, d)
		}
	}
	return out
}

// Err folds the collection into a single error, or nil when it is empty.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = d.String()
	}
	return errors.Errorf("%d diagnostic(s):\n  %s", len(ds), strings.Join(lines, "\n  "))
}
