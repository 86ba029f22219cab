// Package elf writes minimal static ELF64 executables for x86-64 Linux: one
// PT_LOAD segment covering headers, code and data, and no sections.
package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

const (
	BaseAddr   = 0x400000 // virtual address of file offset 0
	PageSize   = 0x1000
	HeaderSize = 64 + 56 // ELF header plus one program header

	// CodeAddr is where the first code byte is mapped; it is also the entry point.
	CodeAddr = BaseAddr + HeaderSize
)

// PaddedCodeSize is the code length after zero padding so that data starts
// on a page boundary. At least one page is always used.
func PaddedCodeSize(codeSize int) int {
	end := HeaderSize + codeSize
	pages := (end + PageSize - 1) / PageSize
	if pages == 0 {
		pages = 1
	}
	return pages*PageSize - HeaderSize
}

// DataAddr returns where data lands for a given code size.
func DataAddr(codeSize int) uint64 {
	return BaseAddr + HeaderSize + uint64(PaddedCodeSize(codeSize))
}

// Layout matches the asm.Layout signature.
func Layout(codeSize int) (codeAddr, dataAddr uint64) {
	return CodeAddr, DataAddr(codeSize)
}

// Writer accumulates code and data and serialises them as an executable.
type Writer struct {
	text []byte
	data []byte

	// Writable adds PF_W to the segment. Programs that store into their
	// data region need it.
	Writable bool
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) AddText(code []byte) { w.text = append(w.text, code...) }

func (w *Writer) AddData(data []byte) { w.data = append(w.data, data...) }

// Bytes returns the complete image.
func (w *Writer) Bytes() ([]byte, error) {
	padded := PaddedCodeSize(len(w.text))
	total := uint64(HeaderSize + padded + len(w.data))

	flags := elf.PF_R | elf.PF_X
	if w.Writable {
		flags |= elf.PF_W
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     CodeAddr,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(flags),
		Off:    0,
		Vaddr:  BaseAddr,
		Paddr:  BaseAddr,
		Filesz: total,
		Memsz:  total,
		Align:  PageSize,
	}

	var buf bytes.Buffer
	buf.Grow(int(total))
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "encoding ELF header")
	}
	if err := binary.Write(&buf, binary.LittleEndian, &prog); err != nil {
		return nil, errors.Wrap(err, "encoding program header")
	}
	buf.Write(w.text)
	buf.Write(make([]byte, padded-len(w.text)))
	buf.Write(w.data)
	return buf.Bytes(), nil
}

// WriteFile writes the image to path and marks it executable.
func (w *Writer) WriteFile(path string) error {
	img, err := w.Bytes()
	if err != nil {
		return err
	}
	return WriteExecutable(path, img)
}

// WriteExecutable writes img to path with mode 0755.
func WriteExecutable(path string, img []byte) error {
	if err := os.WriteFile(path, img, 0o755); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0o755); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	return nil
}
