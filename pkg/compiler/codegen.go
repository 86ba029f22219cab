package compiler

import (
	"fmt"
	"strings"
)

// CodeGen walks the entry sequence and emits x86-64 assembly text in Intel
// syntax for the GNU assembler or the built-in one in pkg/asm.
//
// Register discipline: every expression leaves its value in rax. Binary
// operators park the left operand on the native stack while the right one
// is evaluated, then combine with rbx holding the right operand.
type CodeGen struct {
	syms      *SymbolTable
	consts    *constTable
	lets      map[string]bool // names that own a runtime cell
	out       strings.Builder
	nextLabel int
	diags     Diagnostics
}

func newCodeGen(syms *SymbolTable, consts *constTable) *CodeGen {
	lets := make(map[string]bool)
	for _, sym := range syms.Symbols() {
		lets[sym.Name] = true
	}
	return &CodeGen{syms: syms, consts: consts, lets: lets}
}

// newLabels returns a pair of labels sharing the next counter value.
func (cg *CodeGen) newLabels(a, b string) (string, string) {
	n := cg.nextLabel
	cg.nextLabel++
	return fmt.Sprintf("%s_%d", a, n), fmt.Sprintf("%s_%d", b, n)
}

func (cg *CodeGen) line(format string, args ...any) {
	fmt.Fprintf(&cg.out, format+"\n", args...)
}

func (cg *CodeGen) ins(format string, args ...any) {
	cg.line("    "+format, args...)
}

func (cg *CodeGen) label(name string) {
	cg.line("%s:", name)
}

func (cg *CodeGen) warn(code Code, format string, args ...any) {
	cg.diags.add(StageCodegen, SeverityWarning, code, 0, format, args...)
}

// escapeASCII quotes text for an .ascii directive. Bytes outside the
// printable range are written as three-digit octal escapes.
func escapeASCII(text string) string {
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "\\%03o", c)
		}
	}
	return sb.String()
}

//  Expressions

func (cg *CodeGen) genExpr(e Expr) {
	switch n := e.(type) {
	case *IntLit:
		cg.ins("mov rax, %d", n.Value)

	case *Ident:
		switch {
		case cg.lets[n.Name]:
			sym, _ := cg.syms.Lookup(n.Name)
			cg.ins("mov rax, qword ptr [rip + %s]", sym.Label)
		case cg.hasStringConst(n.Name):
			lbl, _ := cg.syms.StringLabel(cg.consts.strs[n.Name])
			cg.ins("lea rax, [rip + %s]", lbl)
		default:
			cg.warn(CodeGenUndefinedName, "undefined name %q reads as 0", n.Name)
			cg.ins("mov rax, 0")
		}

	case *StrLit:
		if lbl, ok := cg.syms.StringLabel(n.Value); ok {
			cg.ins("lea rax, [rip + %s]", lbl)
		} else {
			cg.ins("mov rax, 0")
		}

	case *BinaryExpr:
		cg.genExpr(n.Left)
		cg.ins("push rax")
		cg.genExpr(n.Right)
		cg.ins("mov rbx, rax")
		cg.ins("pop rax")
		cg.genBinOp(n.Op)

	case *CallExpr:
		if n.Name == "input" {
			cg.genRead(ScratchBuffer)
			cg.ins("mov rbx, rax") // byte count
			cg.ins("lea rax, [rip + %s]", ScratchBuffer)
			return
		}
		cg.warn(CodeGenUnsupportedExpr, "call to %s() has no runtime support; evaluates to 0", n.Name)
		cg.ins("mov rax, 0")

	case *IndexExpr, *ArrayLit:
		cg.warn(CodeGenUnsupportedExpr, "array expression %s evaluates to 0", e)
		cg.ins("mov rax, 0")

	default:
		cg.warn(CodeGenUnsupportedExpr, "unsupported expression %T", e)
		cg.ins("mov rax, 0")
	}
}

var setccByOp = map[BinOp]string{
	OpLt:    "setl",
	OpGt:    "setg",
	OpLtEq:  "setle",
	OpGtEq:  "setge",
	OpEqEq:  "sete",
	OpNotEq: "setne",
}

// genBinOp combines rax (left) and rbx (right) into rax.
func (cg *CodeGen) genBinOp(op BinOp) {
	switch op {
	case OpAdd:
		cg.ins("add rax, rbx")
	case OpSub:
		cg.ins("sub rax, rbx")
	case OpMul:
		cg.ins("imul rax, rbx")
	case OpDiv:
		cg.ins("cqo")
		cg.ins("idiv rbx")
	default:
		cg.ins("cmp rax, rbx")
		cg.ins("%s al", setccByOp[op])
		cg.ins("movzx rax, al")
	}
}

// genRead emits read(0, buf, 255); the byte count ends up in rax.
func (cg *CodeGen) genRead(buf string) {
	cg.ins("mov rax, 0")
	cg.ins("mov rdi, 0")
	cg.ins("lea rsi, [rip + %s]", buf)
	cg.ins("mov rdx, %d", InputBufferSize-1)
	cg.ins("syscall")
}

func (cg *CodeGen) hasStringConst(name string) bool {
	text, ok := cg.consts.strs[name]
	if !ok {
		return false
	}
	_, ok = cg.syms.StringLabel(text)
	return ok
}

//  Statements

func (cg *CodeGen) genStmts(stmts []Stmt) {
	for _, s := range stmts {
		cg.genStmt(s)
	}
}

func (cg *CodeGen) genStmt(s Stmt) {
	switch n := s.(type) {
	case *ImportStmt:
		// already spliced by ResolveImports

	case *LetStmt:
		sym, _ := cg.syms.Lookup(n.Name)
		if sym.IsInput && isInputCall(n.Value) {
			cg.genRead(sym.Buffer)
			cg.ins("mov qword ptr [rip + %s], rax", sym.Length)
			return
		}
		if v, ok := cg.consts.evalConst(n.Value); ok {
			cg.ins("mov rax, %d", v)
		} else {
			cg.genExpr(n.Value)
		}
		cg.ins("mov qword ptr [rip + %s], rax", sym.Label)

	case *AssignStmt:
		sym, ok := cg.syms.Lookup(n.Name)
		if !ok {
			cg.warn(CodeGenUndefinedName, "assignment to undeclared %q is discarded", n.Name)
			cg.genExpr(n.Value)
			return
		}
		if sym.IsInput && isInputCall(n.Value) {
			cg.genRead(sym.Buffer)
			cg.ins("mov qword ptr [rip + %s], rax", sym.Length)
			return
		}
		cg.genExpr(n.Value)
		cg.ins("mov qword ptr [rip + %s], rax", sym.Label)

	case *IfStmt:
		cg.genIf(n)

	case *WhileStmt:
		cg.genWhile(n)

	case *ExprStmt:
		if arg, ok := printArg(n); ok {
			cg.genPrint(arg)
			return
		}
		if c, ok := n.Expr.(*CallExpr); ok && c.Name == "print" {
			cg.warn(CodeGenUnsupportedPrint, "print takes exactly one argument, got %d", len(c.Args))
			return
		}
		cg.warn(CodeGenUnsupportedStmt, "expression statement %s is not evaluated", n.Expr)

	case *ForRangeStmt:
		cg.warn(CodeGenUnsupportedStmt, "for-range loop over %s is not lowered", n.Var)
	case *StructDecl:
		cg.warn(CodeGenUnsupportedStmt, "struct %s is not lowered", n.Name)
	case *ArrayAssignStmt:
		cg.warn(CodeGenUnsupportedStmt, "array assignment to %s is not lowered", n.Array)
	case *FuncDecl:
		cg.warn(CodeGenUnsupportedStmt, "nested function %s is not lowered", n.Name)
	case *ReturnStmt:
		cg.warn(CodeGenUnsupportedStmt, "return is not lowered")
	case *UseStmt:
		cg.warn(CodeGenUnsupportedStmt, "foreign library #%s is not linked", n.Lib)

	default:
		cg.warn(CodeGenUnsupportedStmt, "unsupported statement %T", s)
	}
}

// staticCond folds a condition that reads no runtime cell.
func (cg *CodeGen) staticCond(cond Expr) (int64, bool) {
	if usesName(cond, cg.lets) {
		return 0, false
	}
	return cg.consts.evalConst(cond)
}

func (cg *CodeGen) genIf(n *IfStmt) {
	elseLabel, endLabel := cg.newLabels("Lelse", "Lend")
	falseTarget := endLabel
	if n.Else != nil {
		falseTarget = elseLabel
	}

	if v, ok := cg.staticCond(n.Cond); ok {
		if v == 0 {
			cg.ins("jmp %s", falseTarget)
		}
	} else {
		cg.genExpr(n.Cond)
		cg.ins("cmp rax, 0")
		cg.ins("je %s", falseTarget)
	}

	cg.genStmts(n.Then)
	if n.Else != nil {
		cg.ins("jmp %s", endLabel)
		cg.label(elseLabel)
		cg.genStmts(n.Else)
	}
	cg.label(endLabel)
}

func (cg *CodeGen) genWhile(n *WhileStmt) {
	loopLabel, exitLabel := cg.newLabels("Lloop", "Lexit")
	cg.label(loopLabel)

	if v, ok := cg.staticCond(n.Cond); ok {
		if v == 0 {
			cg.ins("jmp %s", exitLabel)
		}
	} else {
		cg.genExpr(n.Cond)
		cg.ins("cmp rax, 0")
		cg.ins("je %s", exitLabel)
	}

	cg.genStmts(n.Body)
	cg.ins("jmp %s", loopLabel)
	cg.label(exitLabel)
}

// genPrint loads rsi/rdx with the bytes to write, then issues write(1, ...).
func (cg *CodeGen) genPrint(arg Expr) {
	switch a := arg.(type) {
	case *StrLit:
		cg.loadString(a.Value)

	case *IntLit:
		text, _ := cg.consts.evalText(a)
		cg.loadString(text)

	case *BinaryExpr:
		if text, ok := cg.consts.evalText(a); ok {
			cg.loadString(text)
		} else {
			cg.loadDigit(a)
		}

	case *Ident:
		sym, isLet := cg.syms.Lookup(a.Name)
		switch {
		case isLet && sym.IsInput:
			cg.ins("lea rsi, [rip + %s]", sym.Buffer)
			cg.ins("mov rdx, qword ptr [rip + %s]", sym.Length)
		case cg.hasStringConst(a.Name):
			cg.loadString(cg.consts.strs[a.Name])
		case isLet:
			cg.loadDigit(a)
		default:
			if v, ok := cg.consts.ints[a.Name]; ok {
				cg.loadString(fmt.Sprint(v))
				break
			}
			cg.warn(CodeGenUndefinedName, "print of undefined name %q writes nothing", a.Name)
			cg.loadEmpty()
		}

	default:
		cg.warn(CodeGenUnsupportedPrint, "cannot print %s; writes nothing", arg)
		cg.loadEmpty()
	}

	cg.ins("mov rax, 1")
	cg.ins("mov rdi, 1")
	cg.ins("syscall")
}

func (cg *CodeGen) loadString(text string) {
	lbl, ok := cg.syms.StringLabel(text)
	if !ok {
		cg.loadEmpty()
		return
	}
	cg.ins("lea rsi, [rip + %s]", lbl)
	cg.ins("mov rdx, %d", len(text))
}

func (cg *CodeGen) loadEmpty() {
	cg.ins("mov rsi, 0")
	cg.ins("mov rdx, 0")
}

// loadDigit evaluates e at runtime and writes it as one ASCII byte. Only
// values 0 through 9 come out as a digit.
func (cg *CodeGen) loadDigit(e Expr) {
	cg.genExpr(e)
	cg.ins("lea rsi, [rip + %s]", ScratchBuffer)
	cg.ins("mov rbx, rax")
	cg.ins("add rbx, '0'")
	cg.ins("mov byte ptr [rsi], bl")
	cg.ins("mov rdx, 1")
}

// Generate emits the assembly for prog, which must already have its imports
// resolved. It never fails; everything it had to approximate or skip is
// reported in the returned diagnostics.
func Generate(prog *Program) (string, Diagnostics) {
	entry, dropped := entrySequence(prog.Stmts)
	consts := discoverConstants(entry)
	syms := buildSymbols(entry, consts)
	cg := newCodeGen(syms, consts)

	for _, f := range dropped {
		cg.diags.add(StageCodegen, SeverityNote, CodeGenUnsupportedStmt, 0,
			"function %s is never called and was not emitted", f.Name)
	}

	cg.ins(".intel_syntax noprefix")
	cg.ins(".section .rodata")
	for i, text := range syms.Strings() {
		cg.label(stringLabel(i))
		cg.ins(".ascii \"%s\"", escapeASCII(text))
	}

	cg.ins(".section .bss")
	cg.line("%s: .space %d", ScratchBuffer, InputBufferSize)
	for _, sym := range syms.Symbols() {
		cg.line("%s: .quad 0", sym.Label)
	}
	for _, sym := range syms.Symbols() {
		if sym.IsInput {
			cg.line("%s: .space %d", sym.Buffer, InputBufferSize)
			cg.line("%s: .quad 0", sym.Length)
		}
	}

	cg.ins(".section .text")
	cg.ins(".global _start")
	cg.label("_start")

	cg.genStmts(entry)

	cg.ins("mov rax, 60")
	cg.ins("xor rdi, rdi")
	cg.ins("syscall")

	return cg.out.String(), cg.diags
}
