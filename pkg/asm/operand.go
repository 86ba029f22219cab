package asm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type operandKind int

const (
	kindReg operandKind = iota
	kindImm
	kindMem
	kindLabel
)

// operand is one parsed instruction argument.
type operand struct {
	kind operandKind

	reg     int  // kindReg: hardware register number 0-15
	size    int  // register width or ptr size in bytes; 0 when unspecified
	needREX bool // sil, dil, spl, bpl need an empty REX prefix

	imm int64 // kindImm

	// kindMem: [base + disp], [rip + label + disp] or [label + disp]
	base  int // -1 when absent
	rip   bool
	label string // kindMem and kindLabel
	disp  int64
}

type regInfo struct {
	num     int
	size    int
	needREX bool
}

var registers = map[string]regInfo{
	"rax": {0, 8, false}, "rcx": {1, 8, false}, "rdx": {2, 8, false}, "rbx": {3, 8, false},
	"rsp": {4, 8, false}, "rbp": {5, 8, false}, "rsi": {6, 8, false}, "rdi": {7, 8, false},
	"r8": {8, 8, false}, "r9": {9, 8, false}, "r10": {10, 8, false}, "r11": {11, 8, false},
	"r12": {12, 8, false}, "r13": {13, 8, false}, "r14": {14, 8, false}, "r15": {15, 8, false},

	"al": {0, 1, false}, "cl": {1, 1, false}, "dl": {2, 1, false}, "bl": {3, 1, false},
	"spl": {4, 1, true}, "bpl": {5, 1, true}, "sil": {6, 1, true}, "dil": {7, 1, true},
	"r8b": {8, 1, false}, "r9b": {9, 1, false}, "r10b": {10, 1, false}, "r11b": {11, 1, false},
	"r12b": {12, 1, false}, "r13b": {13, 1, false}, "r14b": {14, 1, false}, "r15b": {15, 1, false},
}

var ptrSizes = []struct {
	prefix string
	size   int
}{
	{"qword ptr", 8},
	{"dword ptr", 4},
	{"word ptr", 2},
	{"byte ptr", 1},
}

// splitOperands splits on commas that are outside brackets and quotes.
func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			if c == '\\' {
				i++
			} else if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func parseOperand(text string, lineNo int) (operand, error) {
	s := strings.TrimSpace(text)
	size := 0
	lower := strings.ToLower(s)
	for _, p := range ptrSizes {
		if strings.HasPrefix(lower, p.prefix) {
			size = p.size
			s = strings.TrimSpace(s[len(p.prefix):])
			lower = strings.ToLower(s)
			break
		}
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return parseMemory(s[1:len(s)-1], size, lineNo)
	}
	if size != 0 {
		return operand{}, errors.Errorf("size prefix without memory operand on line %d: %s", lineNo, text)
	}
	if r, ok := registers[lower]; ok {
		return operand{kind: kindReg, reg: r.num, size: r.size, needREX: r.needREX}, nil
	}
	if v, err := parseImmediate(s); err == nil {
		return operand{kind: kindImm, imm: v}, nil
	}
	if isIdentifier(s) {
		return operand{kind: kindLabel, label: s}, nil
	}
	return operand{}, errors.Errorf("invalid operand '%s' on line %d", text, lineNo)
}

// parseMemory handles the inside of [ ... ]: a sum of at most one base
// register (or rip), at most one label, and any number of integer terms.
func parseMemory(inner string, size, lineNo int) (operand, error) {
	op := operand{kind: kindMem, size: size, base: -1}

	sign := int64(1)
	term := strings.Builder{}
	flush := func() error {
		t := strings.TrimSpace(term.String())
		term.Reset()
		if t == "" {
			return nil
		}
		lower := strings.ToLower(t)
		switch {
		case lower == "rip":
			if op.rip || op.base >= 0 || sign < 0 {
				return errors.Errorf("invalid rip operand on line %d", lineNo)
			}
			op.rip = true
		case registers[lower].size == 8:
			if op.rip || op.base >= 0 || sign < 0 {
				return errors.Errorf("only one base register allowed on line %d", lineNo)
			}
			op.base = registers[lower].num
		default:
			if v, err := parseImmediate(t); err == nil {
				op.disp += sign * v
				return nil
			}
			if !isIdentifier(t) || op.label != "" || sign < 0 {
				return errors.Errorf("invalid address term '%s' on line %d", t, lineNo)
			}
			op.label = t
		}
		return nil
	}

	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '+' || c == '-' {
			if err := flush(); err != nil {
				return op, err
			}
			sign = 1
			if c == '-' {
				sign = -1
			}
			continue
		}
		term.WriteByte(c)
	}
	if err := flush(); err != nil {
		return op, err
	}
	if op.label != "" && op.base >= 0 {
		return op, errors.Errorf("label with base register unsupported on line %d", lineNo)
	}
	return op, nil
}

// parseImmediate accepts decimal, 0x hex, 0 octal, negative values and
// character literals such as '0' or '\n'.
func parseImmediate(s string) (int64, error) {
	if len(s) >= 3 && s[0] == '\'' && s[len(s)-1] == '\'' {
		b, err := unescape(s[1 : len(s)-1])
		if err != nil || len(b) != 1 {
			return 0, errors.Errorf("invalid character literal %s", s)
		}
		return int64(b[0]), nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid immediate %q", s)
	}
	return int64(u), nil
}

// unescape decodes the GNU as escapes used in .ascii strings and character
// literals: \n \t \r \b \f \v \" \' \\, \xHH and up to three octal digits.
func unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, errors.New("trailing backslash")
		}
		switch e := s[i]; {
		case e == 'n':
			out = append(out, '\n')
		case e == 't':
			out = append(out, '\t')
		case e == 'r':
			out = append(out, '\r')
		case e == 'b':
			out = append(out, '\b')
		case e == 'f':
			out = append(out, '\f')
		case e == 'v':
			out = append(out, '\v')
		case e == 'x' || e == 'X':
			j := i + 1
			for j < len(s) && j < i+3 && isHex(s[j]) {
				j++
			}
			if j == i+1 {
				return nil, errors.New("\\x with no digits")
			}
			v, _ := strconv.ParseUint(s[i+1:j], 16, 8)
			out = append(out, byte(v))
			i = j - 1
		case e >= '0' && e <= '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 16)
			out = append(out, byte(v))
			i = j - 1
		default:
			out = append(out, e)
		}
	}
	return out, nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// parseStrings decodes one or more comma-separated quoted strings.
func parseStrings(operands []string, lineNo int) ([]byte, error) {
	var out []byte
	for _, o := range operands {
		if len(o) < 2 || o[0] != '"' || o[len(o)-1] != '"' {
			return nil, errors.Errorf("invalid string literal on line %d", lineNo)
		}
		b, err := unescape(o[1 : len(o)-1])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		out = append(out, b...)
	}
	return out, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '.' || c == '$'
		if i == 0 {
			if !letter {
				return false
			}
			continue
		}
		if !letter && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
