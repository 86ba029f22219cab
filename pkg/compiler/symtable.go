package compiler

import "fmt"

// ScratchBuffer is the shared 256-byte buffer used for digit output and
// input() expressions.
const ScratchBuffer = "input_buffer"

// InputBufferSize is the size of every read buffer; reads request one less.
const InputBufferSize = 256

// Symbol is the storage owned by one let-bound name.
type Symbol struct {
	Name  string
	Label string // 8-byte cell

	// Set for names bound by `let x = input()`.
	IsInput bool
	Buffer  string // 256-byte read buffer
	Length  string // 8-byte cell holding the byte count
}

// SymbolTable maps let names to their global storage and interns the
// read-only strings referenced by the generated code. Labels carry a
// prefix so user names never collide with registers or runtime labels.
type SymbolTable struct {
	symbols map[string]*Symbol
	order   []string // first-declaration order

	strings  []string
	strIndex map[string]int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		symbols:  make(map[string]*Symbol),
		strIndex: make(map[string]int),
	}
}

// Declare allocates a cell for name if it has none yet.
func (s *SymbolTable) Declare(name string) *Symbol {
	if sym, ok := s.symbols[name]; ok {
		return sym
	}
	sym := &Symbol{Name: name, Label: "g_" + name}
	s.symbols[name] = sym
	s.order = append(s.order, name)
	return sym
}

// DeclareInput gives name a read buffer and length cell in addition to its cell.
func (s *SymbolTable) DeclareInput(name string) *Symbol {
	sym := s.Declare(name)
	if !sym.IsInput {
		sym.IsInput = true
		sym.Buffer = "gbuf_" + name
		sym.Length = "glen_" + name
	}
	return sym
}

func (s *SymbolTable) Lookup(name string) (*Symbol, bool) {
	sym, ok := s.symbols[name]
	return sym, ok
}

// Symbols returns every symbol in declaration order.
func (s *SymbolTable) Symbols() []*Symbol {
	out := make([]*Symbol, len(s.order))
	for i, name := range s.order {
		out[i] = s.symbols[name]
	}
	return out
}

// Intern adds text to the string pool unless an identical entry exists.
func (s *SymbolTable) Intern(text string) {
	if _, ok := s.strIndex[text]; ok {
		return
	}
	s.strIndex[text] = len(s.strings)
	s.strings = append(s.strings, text)
}

// StringLabel returns the data label for text, if it was interned.
func (s *SymbolTable) StringLabel(text string) (string, bool) {
	i, ok := s.strIndex[text]
	if !ok {
		return "", false
	}
	return stringLabel(i), true
}

// Strings returns the pool in first-seen order.
func (s *SymbolTable) Strings() []string { return s.strings }

func stringLabel(i int) string { return fmt.Sprintf("Lmsg%d", i) }

// buildSymbols lays out storage and the string pool for the entry sequence.
// Nested if/while bodies contribute too.
func buildSymbols(entry []Stmt, consts *constTable) *SymbolTable {
	syms := NewSymbolTable()

	walkStmts(entry, func(s Stmt) {
		if l, ok := s.(*LetStmt); ok {
			if isInputCall(l.Value) {
				syms.DeclareInput(l.Name)
			} else {
				syms.Declare(l.Name)
			}
			if str, ok := l.Value.(*StrLit); ok {
				syms.Intern(str.Value)
			}
			return
		}

		arg, ok := printArg(s)
		if !ok {
			return
		}
		switch a := arg.(type) {
		case *StrLit:
			syms.Intern(a.Value)
		case *IntLit, *BinaryExpr:
			if text, ok := consts.evalText(a); ok {
				syms.Intern(text)
			}
		case *Ident:
			if v, ok := consts.ints[a.Name]; ok {
				syms.Intern(fmt.Sprint(v))
			}
		}
	})
	return syms
}
