package emu

import (
	"math"
	"math/big"
	"math/bits"
)

// operand is a decoded ModRM r/m operand.
type operand struct {
	isReg  bool
	reg    int
	ripRel bool   // address is RIP-relative; resolved once the instruction is fully fetched
	addr   uint64 // absolute address, or the displacement when ripRel
}

// decoder tracks prefixes for the instruction being executed.
type decoder struct {
	rex  byte
	opsz bool // 0x66 operand-size override
}

func (d decoder) w() bool { return d.rex&0x08 != 0 }
func (d decoder) r() int  { return int(d.rex>>2&1) << 3 }
func (d decoder) x() int  { return int(d.rex>>1&1) << 3 }
func (d decoder) b() int  { return int(d.rex&1) << 3 }

// size is the operand width selected by REX.W and the 0x66 prefix.
func (d decoder) size() int {
	switch {
	case d.w():
		return 8
	case d.opsz:
		return 2
	}
	return 4
}

func (m *Machine) fetch8() (byte, error) {
	b, err := m.mem(m.RIP, 1, accExec)
	if err != nil {
		return 0, err
	}
	m.RIP++
	return b[0], nil
}

func (m *Machine) fetch(n int) (uint64, error) {
	b, err := m.mem(m.RIP, n, accExec)
	if err != nil {
		return 0, err
	}
	m.RIP += uint64(n)
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// fetchS reads an n-byte little-endian value and sign-extends it.
func (m *Machine) fetchS(n int) (int64, error) {
	v, err := m.fetch(n)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift, nil
}

// modrm decodes a ModRM byte plus SIB and displacement.
func (m *Machine) modrm(d decoder) (int, operand, error) {
	b, err := m.fetch8()
	if err != nil {
		return 0, operand{}, err
	}
	mod, reg, rm := b>>6, int(b>>3&7)|d.r(), int(b&7)

	if mod == 3 {
		return reg, operand{isReg: true, reg: rm | d.b()}, nil
	}

	var addr uint64
	switch {
	case rm == 4:
		sib, err := m.fetch8()
		if err != nil {
			return 0, operand{}, err
		}
		scale := uint(sib >> 6)
		index := int(sib>>3&7) | d.x()
		base := int(sib & 7)
		if index != RSP {
			addr += m.Regs[index] << scale
		}
		if base == 5 && mod == 0 {
			disp, err := m.fetchS(4)
			if err != nil {
				return 0, operand{}, err
			}
			addr += uint64(disp)
		} else {
			addr += m.Regs[base|d.b()]
		}
	case rm == 5 && mod == 0:
		disp, err := m.fetchS(4)
		if err != nil {
			return 0, operand{}, err
		}
		return reg, operand{ripRel: true, addr: uint64(disp)}, nil
	default:
		addr = m.Regs[rm|d.b()]
	}

	switch mod {
	case 1:
		disp, err := m.fetchS(1)
		if err != nil {
			return 0, operand{}, err
		}
		addr += uint64(disp)
	case 2:
		disp, err := m.fetchS(4)
		if err != nil {
			return 0, operand{}, err
		}
		addr += uint64(disp)
	}
	return reg, operand{addr: addr}, nil
}

// ea returns the effective address of a memory operand. Call it only after
// every byte of the instruction has been fetched.
func (m *Machine) ea(o operand) uint64 {
	if o.ripRel {
		return m.RIP + o.addr
	}
	return o.addr
}

// readReg reads size bytes of a register. Without REX, byte registers 4-7
// are ah, ch, dh, bh.
func (m *Machine) readReg(d decoder, reg, size int) uint64 {
	if size == 1 && d.rex == 0 && reg >= 4 && reg < 8 {
		return m.Regs[reg-4] >> 8 & 0xff
	}
	return m.Regs[reg] & mask(size)
}

func (m *Machine) writeReg(d decoder, reg, size int, v uint64) {
	switch size {
	case 8:
		m.Regs[reg] = v
	case 4:
		m.Regs[reg] = v & 0xffffffff // 32-bit writes zero-extend
	case 2:
		m.Regs[reg] = m.Regs[reg]&^0xffff | v&0xffff
	case 1:
		if d.rex == 0 && reg >= 4 && reg < 8 {
			m.Regs[reg-4] = m.Regs[reg-4]&^0xff00 | (v&0xff)<<8
			return
		}
		m.Regs[reg] = m.Regs[reg]&^0xff | v&0xff
	}
}

func (m *Machine) read(d decoder, o operand, size int) (uint64, error) {
	if o.isReg {
		return m.readReg(d, o.reg, size), nil
	}
	return m.load(m.ea(o), size)
}

func (m *Machine) write(d decoder, o operand, size int, v uint64) error {
	if o.isReg {
		m.writeReg(d, o.reg, size, v)
		return nil
	}
	return m.store(m.ea(o), size, v)
}

func mask(size int) uint64 {
	if size == 8 {
		return math.MaxUint64
	}
	return 1<<(8*uint(size)) - 1
}

func signBit(size int) uint64 { return 1 << (8*uint(size) - 1) }

func signExtend(v uint64, size int) int64 {
	shift := uint(64 - 8*size)
	return int64(v<<shift) >> shift
}

// setLogicFlags updates flags after and/or/xor/test.
func (m *Machine) setLogicFlags(res uint64, size int) {
	res &= mask(size)
	m.ZF = res == 0
	m.SF = res&signBit(size) != 0
	m.CF, m.OF = false, false
}

// alu performs one of the eight classic ALU ops and returns the result and
// whether it should be written back (cmp does not).
func (m *Machine) alu(op int, a, b uint64, size int) (uint64, bool) {
	mk, sb := mask(size), signBit(size)
	a, b = a&mk, b&mk
	switch op {
	case 0: // add
		res := (a + b) & mk
		m.ZF = res == 0
		m.SF = res&sb != 0
		m.CF = res < a
		m.OF = (a^res)&(b^res)&sb != 0
		return res, true
	case 5, 7: // sub, cmp
		res := (a - b) & mk
		m.ZF = res == 0
		m.SF = res&sb != 0
		m.CF = a < b
		m.OF = (a^b)&(a^res)&sb != 0
		return res, op == 5
	case 1: // or
		m.setLogicFlags(a|b, size)
		return a | b, true
	case 4: // and
		m.setLogicFlags(a&b, size)
		return a & b, true
	case 6: // xor
		m.setLogicFlags(a^b, size)
		return a ^ b, true
	}
	return 0, false
}

// cond evaluates a condition code (the low nibble of jcc/setcc).
func (m *Machine) cond(cc byte) (bool, error) {
	switch cc {
	case 0x0:
		return m.OF, nil
	case 0x1:
		return !m.OF, nil
	case 0x2:
		return m.CF, nil
	case 0x3:
		return !m.CF, nil
	case 0x4:
		return m.ZF, nil
	case 0x5:
		return !m.ZF, nil
	case 0x6:
		return m.CF || m.ZF, nil
	case 0x7:
		return !m.CF && !m.ZF, nil
	case 0x8:
		return m.SF, nil
	case 0x9:
		return !m.SF, nil
	case 0xC:
		return m.SF != m.OF, nil
	case 0xD:
		return m.SF == m.OF, nil
	case 0xE:
		return m.ZF || m.SF != m.OF, nil
	case 0xF:
		return !m.ZF && m.SF == m.OF, nil
	}
	return false, m.fault(0, "parity condition %#x not supported", cc)
}

// Step executes one instruction.
func (m *Machine) Step() error {
	if m.Halted {
		return nil
	}
	m.Steps++
	m.instStart = m.RIP

	var d decoder
	op, err := m.fetch8()
	if err != nil {
		return err
	}
	if op == 0x66 {
		d.opsz = true
		if op, err = m.fetch8(); err != nil {
			return err
		}
	}
	if op&0xf0 == 0x40 {
		d.rex = op
		if op, err = m.fetch8(); err != nil {
			return err
		}
	}

	switch {
	case op == 0x0f:
		return m.step0F(d)

	case op < 0x40 && op&7 < 4:
		// ALU group: 00-3b, op>>3 selects add/or/adc/sbb/and/sub/xor/cmp
		aluOp := int(op >> 3)
		if aluOp == 2 || aluOp == 3 {
			return m.fault(0, "adc/sbb not supported")
		}
		size := d.size()
		if op&1 == 0 {
			size = 1
		}
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		dst, src := rm, operand{isReg: true, reg: reg}
		if op&2 != 0 {
			dst, src = src, dst
		}
		a, err := m.read(d, dst, size)
		if err != nil {
			return err
		}
		b, err := m.read(d, src, size)
		if err != nil {
			return err
		}
		if res, wb := m.alu(aluOp, a, b, size); wb {
			return m.write(d, dst, size, res)
		}
		return nil

	case op >= 0x50 && op <= 0x57:
		return m.push(m.Regs[int(op-0x50)|d.b()])

	case op >= 0x58 && op <= 0x5f:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.Regs[int(op-0x58)|d.b()] = v
		return nil

	case op >= 0x70 && op <= 0x7f:
		rel, err := m.fetchS(1)
		if err != nil {
			return err
		}
		return m.jumpIf(op&0xf, rel)

	case op == 0x80 || op == 0x81 || op == 0x83:
		size := d.size()
		if op == 0x80 {
			size = 1
		}
		ext, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		immSize := 1
		if op == 0x81 {
			immSize = min(size, 4)
		}
		imm, err := m.fetchS(immSize)
		if err != nil {
			return err
		}
		if ext&7 == 2 || ext&7 == 3 {
			return m.fault(0, "adc/sbb not supported")
		}
		a, err := m.read(d, rm, size)
		if err != nil {
			return err
		}
		if res, wb := m.alu(ext&7, a, uint64(imm), size); wb {
			return m.write(d, rm, size, res)
		}
		return nil

	case op == 0x84 || op == 0x85: // test
		size := d.size()
		if op == 0x84 {
			size = 1
		}
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		a, err := m.read(d, rm, size)
		if err != nil {
			return err
		}
		m.setLogicFlags(a&m.readReg(d, reg, size), size)
		return nil

	case op >= 0x88 && op <= 0x8b: // mov
		size := d.size()
		if op&1 == 0 {
			size = 1
		}
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		if op&2 == 0 {
			return m.write(d, rm, size, m.readReg(d, reg, size))
		}
		v, err := m.read(d, rm, size)
		if err != nil {
			return err
		}
		m.writeReg(d, reg, size, v)
		return nil

	case op == 0x8d: // lea
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		if rm.isReg {
			return m.fault(0, "lea with register operand")
		}
		m.writeReg(d, reg, d.size(), m.ea(rm))
		return nil

	case op == 0x90:
		return nil

	case op == 0x99: // cqo / cdq
		size := d.size()
		if m.readReg(d, RAX, size)&signBit(size) != 0 {
			m.writeReg(d, RDX, size, mask(size))
		} else {
			m.writeReg(d, RDX, size, 0)
		}
		return nil

	case op >= 0xb8 && op <= 0xbf: // mov r, imm
		reg := int(op-0xb8) | d.b()
		size := d.size()
		v, err := m.fetch(size)
		if err != nil {
			return err
		}
		m.writeReg(d, reg, size, v)
		return nil

	case op == 0xc3:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.RIP = v
		return nil

	case op == 0xc6 || op == 0xc7: // mov r/m, imm
		size := d.size()
		if op == 0xc6 {
			size = 1
		}
		_, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		imm, err := m.fetchS(min(size, 4))
		if err != nil {
			return err
		}
		return m.write(d, rm, size, uint64(imm))

	case op == 0xe8: // call rel32
		rel, err := m.fetchS(4)
		if err != nil {
			return err
		}
		if err := m.push(m.RIP); err != nil {
			return err
		}
		m.RIP += uint64(rel)
		return nil

	case op == 0xe9 || op == 0xeb:
		n := 4
		if op == 0xeb {
			n = 1
		}
		rel, err := m.fetchS(n)
		if err != nil {
			return err
		}
		m.RIP += uint64(rel)
		return nil

	case op == 0xf7:
		return m.stepF7(d)
	}

	return m.fault(0, "undefined opcode %#02x", op)
}

func (m *Machine) jumpIf(cc byte, rel int64) error {
	ok, err := m.cond(cc)
	if err != nil {
		return err
	}
	if ok {
		m.RIP += uint64(rel)
	}
	return nil
}

func (m *Machine) step0F(d decoder) error {
	op, err := m.fetch8()
	if err != nil {
		return err
	}
	switch {
	case op == 0x05:
		return m.syscall()

	case op >= 0x80 && op <= 0x8f:
		rel, err := m.fetchS(4)
		if err != nil {
			return err
		}
		return m.jumpIf(op&0xf, rel)

	case op >= 0x90 && op <= 0x9f:
		_, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		ok, err := m.cond(op & 0xf)
		if err != nil {
			return err
		}
		var v uint64
		if ok {
			v = 1
		}
		return m.write(d, rm, 1, v)

	case op == 0xaf: // imul r, r/m
		size := d.size()
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		b, err := m.read(d, rm, size)
		if err != nil {
			return err
		}
		sa, sb := signExtend(m.readReg(d, reg, size), size), signExtend(b, size)
		res := uint64(sa*sb) & mask(size)
		full := new(big.Int).Mul(big.NewInt(sa), big.NewInt(sb))
		overflow := full.Cmp(big.NewInt(signExtend(res, size))) != 0
		m.CF, m.OF = overflow, overflow
		m.ZF = res == 0
		m.SF = res&signBit(size) != 0
		m.writeReg(d, reg, size, res)
		return nil

	case op == 0xb6 || op == 0xb7: // movzx
		srcSize := 1
		if op == 0xb7 {
			srcSize = 2
		}
		reg, rm, err := m.modrm(d)
		if err != nil {
			return err
		}
		v, err := m.read(d, rm, srcSize)
		if err != nil {
			return err
		}
		m.writeReg(d, reg, d.size(), v)
		return nil
	}
	return m.fault(0, "undefined opcode 0x0f %#02x", op)
}

// stepF7 handles the group-3 unary ops: test imm, not, neg, mul, imul, div, idiv.
func (m *Machine) stepF7(d decoder) error {
	size := d.size()
	ext, rm, err := m.modrm(d)
	if err != nil {
		return err
	}
	ext &= 7

	if ext == 0 || ext == 1 {
		imm, err := m.fetchS(min(size, 4))
		if err != nil {
			return err
		}
		v, err := m.read(d, rm, size)
		if err != nil {
			return err
		}
		m.setLogicFlags(v&uint64(imm), size)
		return nil
	}

	v, err := m.read(d, rm, size)
	if err != nil {
		return err
	}

	switch ext {
	case 2: // not
		return m.write(d, rm, size, ^v)
	case 3: // neg
		res, _ := m.alu(5, 0, v, size)
		m.CF = v&mask(size) != 0
		return m.write(d, rm, size, res)
	}

	if size != 8 {
		return m.fault(0, "only 64-bit mul/div supported")
	}
	rax, rdx := m.Regs[RAX], m.Regs[RDX]

	switch ext {
	case 4: // mul
		hi, lo := bits.Mul64(rax, v)
		m.Regs[RAX], m.Regs[RDX] = lo, hi
		m.CF, m.OF = hi != 0, hi != 0
		return nil

	case 5: // imul rdx:rax = rax * r/m
		full := new(big.Int).Mul(big.NewInt(int64(rax)), big.NewInt(int64(v)))
		m.Regs[RAX], m.Regs[RDX] = split128(full)
		overflow := !full.IsInt64()
		m.CF, m.OF = overflow, overflow
		return nil

	case 6: // div
		if v == 0 || rdx >= v {
			return m.fault(0, "divide error")
		}
		q, r := bits.Div64(rdx, rax, v)
		m.Regs[RAX], m.Regs[RDX] = q, r
		return nil

	case 7: // idiv
		if v == 0 {
			return m.fault(0, "divide error")
		}
		num := join128(rdx, rax)
		den := big.NewInt(int64(v))
		q, r := new(big.Int).QuoRem(num, den, new(big.Int))
		if !q.IsInt64() {
			return m.fault(0, "divide error")
		}
		m.Regs[RAX] = uint64(q.Int64())
		m.Regs[RDX] = uint64(r.Int64())
		return nil
	}
	return m.fault(0, "undefined opcode 0xf7 /%d", ext)
}

// join128 builds the signed 128-bit value hi:lo.
func join128(hi, lo uint64) *big.Int {
	n := new(big.Int).SetInt64(int64(hi))
	n.Lsh(n, 64)
	return n.Add(n, new(big.Int).SetUint64(lo))
}

// split128 returns the low and high 64-bit halves of a signed 128-bit value.
func split128(n *big.Int) (lo, hi uint64) {
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	u := new(big.Int).Mod(n, mod) // two's complement
	lo = new(big.Int).And(u, new(big.Int).SetUint64(math.MaxUint64)).Uint64()
	hi = new(big.Int).Rsh(u, 64).Uint64()
	return lo, hi
}
