// Package asm assembles the Intel-syntax x86-64 subset that the wheel code
// generator emits into flat code and data buffers.
package asm

import (
	"strings"

	"github.com/pkg/errors"
)

// Section is where assembled bytes land.
type Section int

const (
	SectionText Section = iota // machine code
	SectionData                // .rodata and .data, initialised bytes
	SectionBSS                 // zero-filled, appended after SectionData
)

var sectionNames = map[string]Section{
	".text":   SectionText,
	".rodata": SectionData,
	".data":   SectionData,
	".bss":    SectionBSS,
}

// Layout places the two output buffers once the code size is known.
type Layout func(codeSize int) (codeAddr, dataAddr uint64)

// FlatLayout puts code at 0 with data immediately after it.
func FlatLayout(codeSize int) (uint64, uint64) { return 0, uint64(codeSize) }

// Object is the output of a successful assembly.
type Object struct {
	Code     []byte
	Data     []byte // initialised data followed by the zero-filled bss
	CodeAddr uint64
	DataAddr uint64
	Entry    uint64
	Symbols  map[string]uint64
	// SourceMap maps code addresses to 1-based source lines.
	SourceMap map[uint64]int
}

type symbol struct {
	section Section
	offset  int
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string

	section Section
	offset  int
	size    int
}

type Assembler struct {
	labels map[string]symbol
	global []string
	lines  []parsedLine
	sizes  [3]int
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]symbol),
	}
}

// Assemble is a convenience wrapper around a fresh Assembler.
func Assemble(code string, layout Layout) (*Object, error) {
	return NewAssembler().Assemble(code, layout)
}

func (a *Assembler) Assemble(code string, layout Layout) (*Object, error) {
	if layout == nil {
		layout = FlatLayout
	}
	if err := a.pass1(strings.Split(code, "\n")); err != nil {
		return nil, err
	}
	return a.pass2(layout)
}

// pass1 parses every line, records label offsets and sizes each statement.
func (a *Assembler) pass1(lines []string) error {
	section := SectionText

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		for _, lbl := range p.labels {
			if _, exists := a.labels[lbl]; exists {
				return errors.Errorf("duplicate label '%s' on line %d", lbl, lineNo)
			}
			a.labels[lbl] = symbol{section: section, offset: a.sizes[section]}
		}

		if p.mnemonic == "" {
			continue
		}

		switch p.mnemonic {
		case ".section", ".text", ".data", ".bss", ".rodata":
			name := p.mnemonic
			if name == ".section" {
				if len(p.operands) == 0 {
					return errors.Errorf(".section expects a name on line %d", lineNo)
				}
				name = p.operands[0]
			}
			s, ok := sectionNames[name]
			if !ok {
				return errors.Errorf("unknown section '%s' on line %d", name, lineNo)
			}
			section = s
			continue
		case ".intel_syntax", ".att_syntax":
			if p.mnemonic == ".att_syntax" {
				return errors.Errorf("AT&T syntax is not supported (line %d)", lineNo)
			}
			continue
		case ".global", ".globl":
			a.global = append(a.global, p.operands...)
			continue
		}

		p.section = section
		p.offset = a.sizes[section]
		data, err := a.statementBytes(&p, nil)
		if err != nil {
			return err
		}
		p.size = len(data)
		a.sizes[section] += p.size
		a.lines = append(a.lines, p)
	}
	return nil
}

// pass2 fixes addresses and emits the final bytes.
func (a *Assembler) pass2(layout Layout) (*Object, error) {
	codeAddr, dataAddr := layout(a.sizes[SectionText])
	base := [3]uint64{
		SectionText: codeAddr,
		SectionData: dataAddr,
		SectionBSS:  dataAddr + uint64(a.sizes[SectionData]),
	}

	obj := &Object{
		CodeAddr:  codeAddr,
		DataAddr:  dataAddr,
		Symbols:   make(map[string]uint64, len(a.labels)),
		SourceMap: make(map[uint64]int),
	}
	for name, sym := range a.labels {
		obj.Symbols[name] = base[sym.section] + uint64(sym.offset)
	}
	lookup := func(name string) (uint64, bool) {
		addr, ok := obj.Symbols[name]
		return addr, ok
	}

	var bufs [3][]byte
	for i := range a.lines {
		p := &a.lines[i]
		addr := base[p.section] + uint64(p.offset)
		data, err := a.statementBytes(p, func(e *encoded) error {
			return e.resolve(addr, lookup, p.lineNo)
		})
		if err != nil {
			return nil, err
		}
		if len(data) != p.size {
			return nil, errors.Errorf("internal: line %d changed size between passes", p.lineNo)
		}
		if p.section == SectionText {
			obj.SourceMap[addr] = p.lineNo
		}
		bufs[p.section] = append(bufs[p.section], data...)
	}

	obj.Code = bufs[SectionText]
	obj.Data = append(bufs[SectionData], make([]byte, a.sizes[SectionBSS])...)

	obj.Entry = codeAddr
	for _, name := range append(a.global, "_start") {
		if sym, ok := a.labels[name]; ok && sym.section == SectionText {
			obj.Entry = obj.Symbols[name]
			break
		}
	}
	return obj, nil
}

// statementBytes encodes a directive or instruction. finish, when non-nil,
// resolves an instruction's fixups; pass1 leaves them zeroed.
func (a *Assembler) statementBytes(p *parsedLine, finish func(*encoded) error) ([]byte, error) {
	if strings.HasPrefix(p.mnemonic, ".") {
		return directiveBytes(p)
	}
	if p.section != SectionText {
		return nil, errors.Errorf("instruction outside .text on line %d: %s", p.lineNo, p.mnemonic)
	}

	ops := make([]operand, len(p.operands))
	for i, text := range p.operands {
		op, err := parseOperand(text, p.lineNo)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	e, err := encode(p.mnemonic, ops, p.lineNo)
	if err != nil {
		return nil, err
	}
	if finish != nil {
		if err := finish(e); err != nil {
			return nil, err
		}
	}
	return e.bytes, nil
}

func directiveBytes(p *parsedLine) ([]byte, error) {
	var out []byte
	switch p.mnemonic {
	case ".ascii", ".asciz", ".string":
		b, err := parseStrings(p.operands, p.lineNo)
		if err != nil {
			return nil, err
		}
		out = b
		if p.mnemonic != ".ascii" {
			out = append(out, 0)
		}

	case ".space", ".zero", ".skip":
		if len(p.operands) == 0 || len(p.operands) > 2 {
			return nil, errors.Errorf("%s expects a size on line %d", p.mnemonic, p.lineNo)
		}
		n, err := parseImmediate(p.operands[0])
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid %s size on line %d: %s", p.mnemonic, p.lineNo, p.operands[0])
		}
		var fill int64
		if len(p.operands) == 2 {
			if fill, err = parseImmediate(p.operands[1]); err != nil {
				return nil, errors.Wrapf(err, "line %d", p.lineNo)
			}
		}
		out = make([]byte, n)
		for i := range out {
			out[i] = byte(fill)
		}

	case ".byte", ".word", ".long", ".quad":
		width := map[string]int{".byte": 1, ".word": 2, ".long": 4, ".quad": 8}[p.mnemonic]
		for _, text := range p.operands {
			v, err := parseImmediate(text)
			if err != nil {
				return nil, errors.Errorf("invalid %s value on line %d: %s", p.mnemonic, p.lineNo, text)
			}
			for i := 0; i < width; i++ {
				out = append(out, byte(v>>(8*i)))
			}
		}

	default:
		return nil, errors.Errorf("unknown directive on line %d: %s", p.lineNo, p.mnemonic)
	}

	if p.section == SectionBSS {
		for _, b := range out {
			if b != 0 {
				return nil, errors.Errorf("non-zero value in .bss on line %d", p.lineNo)
			}
		}
	}
	return out, nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}
		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t\"'[") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, errors.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}
		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	mnemonic, rest, _ := strings.Cut(line, " ")
	if tab := strings.IndexByte(mnemonic, '\t'); tab >= 0 {
		mnemonic, rest = mnemonic[:tab], mnemonic[tab+1:]+" "+rest
	}
	p.mnemonic = strings.ToLower(mnemonic)
	p.operands = splitOperands(rest)
	return p, nil
}

// stripComments removes a trailing # comment that is not inside a string or
// character literal.
func stripComments(line string) string {
	inQuote := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote != 0:
			if c == '\\' {
				i++
			} else if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}
