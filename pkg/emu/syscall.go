package emu

import (
	"io"

	"github.com/pkg/errors"
)

// Linux x86-64 syscall numbers understood by the emulator.
const (
	SysRead      = 0
	SysWrite     = 1
	SysExit      = 60
	SysExitGroup = 231
)

const (
	ebadf  = 9
	efault = 14
	enosys = 38
)

func errno(n int) uint64 { return uint64(-int64(n)) }

// syscall dispatches on rax with arguments in rdi, rsi, rdx. As on real
// hardware, rcx receives the return address.
func (m *Machine) syscall() error {
	m.Regs[RCX] = m.RIP
	nr, a0, a1, a2 := m.Regs[RAX], m.Regs[RDI], m.Regs[RSI], m.Regs[RDX]

	switch nr {
	case SysRead:
		m.Regs[RAX] = m.sysRead(a0, a1, a2)
	case SysWrite:
		m.Regs[RAX] = m.sysWrite(a0, a1, a2)
	case SysExit, SysExitGroup:
		m.Halted = true
		m.ExitCode = int(a0 & 0xff)
	default:
		m.Regs[RAX] = errno(enosys)
	}
	return nil
}

func (m *Machine) sysRead(fd, buf, count uint64) uint64 {
	if fd != 0 {
		return errno(ebadf)
	}
	if count == 0 || m.Stdin == nil {
		return 0
	}
	dst, err := m.mem(buf, int(count), accWrite)
	if err != nil {
		return errno(efault)
	}
	n, err := m.Stdin.Read(dst)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		return errno(ebadf)
	}
	return uint64(n)
}

func (m *Machine) sysWrite(fd, buf, count uint64) uint64 {
	var w io.Writer
	switch fd {
	case 1:
		w = m.Stdout
	case 2:
		w = m.Stderr
	default:
		return errno(ebadf)
	}
	if count == 0 {
		return 0
	}
	src, err := m.mem(buf, int(count), accRead)
	if err != nil {
		return errno(efault)
	}
	if w == nil {
		return count
	}
	n, err := w.Write(src)
	if err != nil && n == 0 {
		return errno(ebadf)
	}
	return uint64(n)
}
