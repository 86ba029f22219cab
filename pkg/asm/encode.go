package asm

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// fixup is a 32-bit field in an encoded instruction that depends on a
// symbol address. Relative fixups are measured from the end of the
// instruction, which covers both rel32 jumps and rip-relative operands.
type fixup struct {
	at       int
	label    string // empty: value is addend as-is
	addend   int64
	relative bool
}

// encoded is one instruction before symbol resolution.
type encoded struct {
	bytes  []byte
	fixups []fixup
}

type aluOp struct {
	opcode byte // r/m64, r64 form; the r64, r/m64 form is opcode+2
	ext    int  // /digit for the 0x81 and 0x83 immediate forms
}

var aluOps = map[string]aluOp{
	"add": {0x01, 0},
	"or":  {0x09, 1},
	"and": {0x21, 4},
	"sub": {0x29, 5},
	"xor": {0x31, 6},
	"cmp": {0x39, 7},
}

// unaryOps are the 0xF7 group.
var unaryOps = map[string]int{
	"not":  2,
	"neg":  3,
	"mul":  4,
	"div":  6,
	"idiv": 7,
}

var conditionCodes = map[string]byte{
	"o": 0x0, "no": 0x1, "b": 0x2, "ae": 0x3, "e": 0x4, "z": 0x4, "ne": 0x5, "nz": 0x5,
	"be": 0x6, "a": 0x7, "s": 0x8, "ns": 0x9, "l": 0xC, "ge": 0xD, "le": 0xE, "g": 0xF,
}

var fixedOps = map[string][]byte{
	"syscall": {0x0F, 0x05},
	"cqo":     {0x48, 0x99},
	"nop":     {0x90},
	"ret":     {0xC3},
	"hlt":     {0xF4},
}

func (e *encoded) emit(b ...byte) { e.bytes = append(e.bytes, b...) }

func (e *encoded) imm8(v int64) { e.emit(byte(int8(v))) }

func (e *encoded) imm32(v int64) {
	e.bytes = binary.LittleEndian.AppendUint32(e.bytes, uint32(int32(v)))
}

func (e *encoded) imm64(v int64) {
	e.bytes = binary.LittleEndian.AppendUint64(e.bytes, uint64(v))
}

func (e *encoded) field32(f fixup) {
	f.at = len(e.bytes)
	e.fixups = append(e.fixups, f)
	e.emit(0, 0, 0, 0)
}

// rex emits a REX prefix when one is required.
func (e *encoded) rex(w bool, reg int, rm operand, force bool) {
	b := byte(0x40)
	if w {
		b |= 0x08
	}
	if reg >= 8 {
		b |= 0x04
	}
	switch rm.kind {
	case kindReg:
		if rm.reg >= 8 {
			b |= 0x01
		}
		force = force || rm.needREX
	case kindMem:
		if rm.base >= 8 {
			b |= 0x01
		}
	}
	if b != 0x40 || force {
		e.emit(b)
	}
}

// modrm emits the ModRM byte plus any SIB and displacement for rm.
func (e *encoded) modrm(reg int, rm operand) {
	r := byte(reg&7) << 3
	switch {
	case rm.kind == kindReg:
		e.emit(0xC0 | r | byte(rm.reg&7))

	case rm.rip:
		e.emit(r | 0x05)
		e.field32(fixup{label: rm.label, addend: rm.disp, relative: rm.label != ""})

	case rm.base < 0:
		// absolute disp32 through a SIB byte with no base and no index
		e.emit(r|0x04, 0x25)
		e.field32(fixup{label: rm.label, addend: rm.disp})

	default:
		base := byte(rm.base & 7)
		var mod byte
		switch {
		case rm.disp == 0 && base != 5:
			mod = 0
		case rm.disp >= math.MinInt8 && rm.disp <= math.MaxInt8:
			mod = 1
		default:
			mod = 2
		}
		e.emit(mod<<6 | r | base)
		if base == 4 {
			e.emit(0x24)
		}
		switch mod {
		case 1:
			e.imm8(rm.disp)
		case 2:
			e.imm32(rm.disp)
		}
	}
}

// op emits  [REX] opcode ModRM ...  for a register field and an r/m operand.
func (e *encoded) op(reg int, rm operand, w, force bool, opcode ...byte) {
	e.rex(w, reg, rm, force)
	e.emit(opcode...)
	e.modrm(reg, rm)
}

func isRM(o operand, size int) bool {
	if o.kind == kindReg {
		return o.size == size
	}
	return o.kind == kindMem && (o.size == 0 || o.size == size)
}

func isReg(o operand, size int) bool { return o.kind == kindReg && o.size == size }

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

// encode assembles one instruction. Label operands are left as fixups so
// the result has the same length whether or not labels are known yet.
func encode(mnemonic string, ops []operand, lineNo int) (*encoded, error) {
	e := &encoded{}
	bad := func() (*encoded, error) {
		return nil, errors.Errorf("unsupported operands for %s on line %d", mnemonic, lineNo)
	}
	want := func(n int) error {
		if len(ops) != n {
			return errors.Errorf("%s expects %d operand(s) on line %d", mnemonic, n, lineNo)
		}
		return nil
	}

	if b, ok := fixedOps[mnemonic]; ok {
		if err := want(0); err != nil {
			return nil, err
		}
		e.emit(b...)
		return e, nil
	}

	if alu, ok := aluOps[mnemonic]; ok {
		if err := want(2); err != nil {
			return nil, err
		}
		dst, src := ops[0], ops[1]
		switch {
		case isRM(dst, 8) && isReg(src, 8):
			e.op(src.reg, dst, true, false, alu.opcode)
		case isReg(dst, 8) && src.kind == kindMem:
			e.op(dst.reg, src, true, false, alu.opcode+2)
		case isRM(dst, 8) && src.kind == kindImm && fitsInt8(src.imm):
			e.op(alu.ext, dst, true, false, 0x83)
			e.imm8(src.imm)
		case isRM(dst, 8) && src.kind == kindImm && fitsInt32(src.imm):
			e.op(alu.ext, dst, true, false, 0x81)
			e.imm32(src.imm)
		default:
			return bad()
		}
		return e, nil
	}

	if ext, ok := unaryOps[mnemonic]; ok {
		if err := want(1); err != nil {
			return nil, err
		}
		if !isRM(ops[0], 8) {
			return bad()
		}
		e.op(ext, ops[0], true, false, 0xF7)
		return e, nil
	}

	if len(mnemonic) > 1 && mnemonic[0] == 'j' && mnemonic != "jmp" {
		if cc, ok := conditionCodes[mnemonic[1:]]; ok {
			if err := want(1); err != nil {
				return nil, err
			}
			if ops[0].kind != kindLabel {
				return bad()
			}
			e.emit(0x0F, 0x80|cc)
			e.field32(fixup{label: ops[0].label, relative: true})
			return e, nil
		}
	}

	if len(mnemonic) > 3 && mnemonic[:3] == "set" {
		if cc, ok := conditionCodes[mnemonic[3:]]; ok {
			if err := want(1); err != nil {
				return nil, err
			}
			if !isRM(ops[0], 1) {
				return bad()
			}
			e.op(0, ops[0], false, false, 0x0F, 0x90|cc)
			return e, nil
		}
	}

	switch mnemonic {
	case "mov":
		if err := want(2); err != nil {
			return nil, err
		}
		return encodeMov(e, ops[0], ops[1], bad)

	case "lea":
		if err := want(2); err != nil {
			return nil, err
		}
		if !isReg(ops[0], 8) || ops[1].kind != kindMem {
			return bad()
		}
		e.op(ops[0].reg, ops[1], true, false, 0x8D)

	case "push", "pop":
		if err := want(1); err != nil {
			return nil, err
		}
		if !isReg(ops[0], 8) {
			return bad()
		}
		if ops[0].reg >= 8 {
			e.emit(0x41)
		}
		base := byte(0x50)
		if mnemonic == "pop" {
			base = 0x58
		}
		e.emit(base + byte(ops[0].reg&7))

	case "imul":
		if err := want(2); err != nil {
			return nil, err
		}
		if !isReg(ops[0], 8) || !isRM(ops[1], 8) {
			return bad()
		}
		e.op(ops[0].reg, ops[1], true, false, 0x0F, 0xAF)

	case "movzx":
		if err := want(2); err != nil {
			return nil, err
		}
		if !isReg(ops[0], 8) || !isRM(ops[1], 1) {
			return bad()
		}
		e.op(ops[0].reg, ops[1], true, ops[1].needREX, 0x0F, 0xB6)

	case "jmp":
		if err := want(1); err != nil {
			return nil, err
		}
		if ops[0].kind != kindLabel {
			return bad()
		}
		e.emit(0xE9)
		e.field32(fixup{label: ops[0].label, relative: true})

	default:
		return nil, errors.Errorf("unknown instruction on line %d: %s", lineNo, mnemonic)
	}
	return e, nil
}

func encodeMov(e *encoded, dst, src operand, bad func() (*encoded, error)) (*encoded, error) {
	switch {
	case isReg(dst, 8) && src.kind == kindImm:
		// always the full imm64 form so the length never depends on the value
		e.rex(true, 0, dst, false)
		e.emit(0xB8 + byte(dst.reg&7))
		e.imm64(src.imm)
	case isRM(dst, 8) && isReg(src, 8):
		e.op(src.reg, dst, true, false, 0x89)
	case isReg(dst, 8) && src.kind == kindMem && (src.size == 0 || src.size == 8):
		e.op(dst.reg, src, true, false, 0x8B)
	case isRM(dst, 1) && isReg(src, 1):
		e.op(src.reg, dst, false, src.needREX, 0x88)
	case isReg(dst, 1) && src.kind == kindMem && (src.size == 0 || src.size == 1):
		e.op(dst.reg, src, false, dst.needREX, 0x8A)
	case dst.kind == kindMem && dst.size == 8 && src.kind == kindImm && fitsInt32(src.imm):
		e.op(0, dst, true, false, 0xC7)
		e.imm32(src.imm)
	case dst.kind == kindMem && dst.size == 1 && src.kind == kindImm:
		e.op(0, dst, false, false, 0xC6)
		e.imm8(src.imm)
	default:
		return bad()
	}
	return e, nil
}

// resolve patches every fixup once the instruction address is known.
func (e *encoded) resolve(addr uint64, lookup func(string) (uint64, bool), lineNo int) error {
	end := int64(addr) + int64(len(e.bytes))
	for _, f := range e.fixups {
		v := f.addend
		if f.label != "" {
			target, ok := lookup(f.label)
			if !ok {
				return errors.Errorf("undefined label '%s' on line %d", f.label, lineNo)
			}
			v += int64(target)
			if f.relative {
				v -= end
			}
		}
		if !fitsInt32(v) {
			return errors.Errorf("displacement to '%s' out of range on line %d", f.label, lineNo)
		}
		binary.LittleEndian.PutUint32(e.bytes[f.at:], uint32(v))
	}
	return nil
}
