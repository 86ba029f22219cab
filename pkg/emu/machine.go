// Package emu runs static x86-64 Linux ELF images produced by wheelc without
// touching the host CPU. It understands the instruction subset the compiler
// and its assembler emit, plus the common encodings GNU as picks for them.
package emu

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	StackSize = 64 * 1024
	StackTop  = 0x7fff0000

	// DefaultMaxSteps bounds Run so a looping program cannot hang a test.
	DefaultMaxSteps = 10_000_000
)

// Register numbers as used in ModRM encoding.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var (
	ErrStepLimit = errors.New("step limit exceeded")
	ErrNotX86_64 = errors.New("not an x86-64 executable")
)

// Fault is raised for anything real hardware or the kernel would kill the
// process for: bad memory access, undefined opcode, divide error.
type Fault struct {
	RIP    uint64
	Addr   uint64
	Reason string
}

func (f *Fault) Error() string {
	if f.Addr != 0 {
		return fmt.Sprintf("fault at rip=%#x addr=%#x: %s", f.RIP, f.Addr, f.Reason)
	}
	return fmt.Sprintf("fault at rip=%#x: %s", f.RIP, f.Reason)
}

type segment struct {
	start uint64
	mem   []byte
	read  bool
	write bool
	exec  bool
}

func (s *segment) contains(addr uint64, n int) bool {
	return addr >= s.start && addr+uint64(n) <= s.start+uint64(len(s.mem)) && addr+uint64(n) >= addr
}

// Machine is one emulated process.
type Machine struct {
	Regs [16]uint64
	RIP  uint64

	// arithmetic flags from the last flag-setting instruction
	ZF, SF, CF, OF bool

	segments []*segment

	// Stdin feeds read(0, ...). A nil reader behaves like an empty file.
	Stdin io.Reader
	// Stdout and Stderr receive write(1, ...) and write(2, ...). Nil discards.
	Stdout io.Writer
	Stderr io.Writer

	Halted   bool
	ExitCode int

	Steps    int
	MaxSteps int

	instStart uint64 // RIP of the instruction being executed
}

// Load maps every PT_LOAD segment of image and sets up a stack.
func Load(image []byte) (*Machine, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, errors.Wrap(err, "parsing ELF image")
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, ErrNotX86_64
	}
	if f.Type != elf.ET_EXEC {
		return nil, errors.Errorf("unsupported ELF type %s", f.Type)
	}

	m := &Machine{RIP: f.Entry, MaxSteps: DefaultMaxSteps}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Align > 1 && p.Off%p.Align != p.Vaddr%p.Align {
			return nil, errors.Errorf("segment offset %#x and address %#x disagree modulo %#x", p.Off, p.Vaddr, p.Align)
		}
		if p.Filesz > p.Memsz {
			return nil, errors.Errorf("segment file size %d exceeds memory size %d", p.Filesz, p.Memsz)
		}
		seg := &segment{
			start: p.Vaddr,
			mem:   make([]byte, p.Memsz),
			read:  p.Flags&elf.PF_R != 0,
			write: p.Flags&elf.PF_W != 0,
			exec:  p.Flags&elf.PF_X != 0,
		}
		if _, err := io.ReadFull(p.Open(), seg.mem[:p.Filesz]); err != nil {
			return nil, errors.Wrapf(err, "reading segment at %#x", p.Vaddr)
		}
		m.segments = append(m.segments, seg)
	}
	if len(m.segments) == 0 {
		return nil, errors.New("no loadable segments")
	}

	m.segments = append(m.segments, &segment{
		start: StackTop - StackSize,
		mem:   make([]byte, StackSize),
		read:  true,
		write: true,
	})
	// argc = 0 sits at the initial stack pointer
	m.Regs[RSP] = StackTop - 16
	return m, nil
}

func (m *Machine) fault(addr uint64, format string, args ...any) *Fault {
	return &Fault{RIP: m.instStart, Addr: addr, Reason: fmt.Sprintf(format, args...)}
}

type access int

const (
	accRead access = iota
	accWrite
	accExec
)

var accessNames = [...]string{accRead: "read", accWrite: "write", accExec: "execute"}

func (s *segment) allows(acc access) bool {
	switch acc {
	case accRead:
		return s.read
	case accWrite:
		return s.write
	}
	return s.exec
}

// mem returns the n bytes at addr after checking the segment permissions.
func (m *Machine) mem(addr uint64, n int, acc access) ([]byte, error) {
	for _, s := range m.segments {
		if !s.contains(addr, n) {
			continue
		}
		if !s.allows(acc) {
			return nil, m.fault(addr, "%s permission denied", accessNames[acc])
		}
		off := addr - s.start
		return s.mem[off : off+uint64(n)], nil
	}
	return nil, m.fault(addr, "unmapped address")
}

func (m *Machine) load(addr uint64, size int) (uint64, error) {
	b, err := m.mem(addr, size, accRead)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (m *Machine) store(addr uint64, size int, v uint64) error {
	b, err := m.mem(addr, size, accWrite)
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return nil
}

// ReadMemory copies n bytes from the emulated address space.
func (m *Machine) ReadMemory(addr uint64, n int) ([]byte, error) {
	b, err := m.mem(addr, n, accRead)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (m *Machine) push(v uint64) error {
	m.Regs[RSP] -= 8
	return m.store(m.Regs[RSP], 8, v)
}

func (m *Machine) pop() (uint64, error) {
	v, err := m.load(m.Regs[RSP], 8)
	if err != nil {
		return 0, err
	}
	m.Regs[RSP] += 8
	return v, nil
}

// Run steps until the program exits, faults or hits MaxSteps.
func (m *Machine) Run() error {
	limit := m.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	for !m.Halted {
		if m.Steps >= limit {
			return errors.Wrapf(ErrStepLimit, "after %d steps at rip=%#x", m.Steps, m.RIP)
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Run loads image, runs it to completion and returns its exit status.
func Run(image []byte, stdin io.Reader, stdout io.Writer) (int, error) {
	m, err := Load(image)
	if err != nil {
		return 0, err
	}
	m.Stdin = stdin
	m.Stdout = stdout
	if err := m.Run(); err != nil {
		return 0, err
	}
	return m.ExitCode, nil
}
