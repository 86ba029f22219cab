package elf

import (
	"bytes"
	"debug/elf"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestPaddedCodeSize(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{0, PageSize - HeaderSize},
		{1, PageSize - HeaderSize},
		{PageSize - HeaderSize, PageSize - HeaderSize},
		{PageSize - HeaderSize + 1, 2*PageSize - HeaderSize},
	}
	for _, tc := range tests {
		if got := PaddedCodeSize(tc.code); got != tc.want {
			t.Errorf("PaddedCodeSize(%d) = %d, want %d", tc.code, got, tc.want)
		}
		if addr := DataAddr(tc.code); addr%PageSize != 0 {
			t.Errorf("DataAddr(%d) = %#x is not page aligned", tc.code, addr)
		}
	}
}

func TestWriterBytes(t *testing.T) {
	code := []byte{0x48, 0xC7, 0xC0, 0x3C, 0, 0, 0, 0x0F, 0x05}
	data := []byte("hello")

	w := NewWriter()
	w.AddText(code)
	w.AddData(data)
	w.Writable = true
	img, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	if !bytes.HasPrefix(img, []byte(elf.ELFMAG)) {
		t.Fatalf("missing ELF magic: % X", img[:4])
	}
	if want := HeaderSize + PaddedCodeSize(len(code)) + len(data); len(img) != want {
		t.Errorf("image size = %d, want %d", len(img), want)
	}

	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("debug/elf rejected the image: %v", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 || f.Type != elf.ET_EXEC {
		t.Errorf("header = %v %v %v", f.Class, f.Machine, f.Type)
	}
	if f.Entry != CodeAddr {
		t.Errorf("Entry = %#x, want %#x", f.Entry, CodeAddr)
	}
	if len(f.Progs) != 1 {
		t.Fatalf("got %d program headers, want 1", len(f.Progs))
	}
	p := f.Progs[0]
	if p.Type != elf.PT_LOAD || p.Off != 0 || p.Vaddr != BaseAddr {
		t.Errorf("segment = %+v", p.ProgHeader)
	}
	if p.Flags != elf.PF_R|elf.PF_W|elf.PF_X {
		t.Errorf("flags = %v, want R+W+X", p.Flags)
	}
	if p.Filesz != uint64(len(img)) || p.Memsz != p.Filesz {
		t.Errorf("filesz = %d memsz = %d, want %d", p.Filesz, p.Memsz, len(img))
	}

	seg, err := io.ReadAll(p.Open())
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	codeOff := CodeAddr - BaseAddr
	if !bytes.Equal(seg[codeOff:codeOff+len(code)], code) {
		t.Errorf("code not at entry offset")
	}
	dataOff := int(DataAddr(len(code)) - BaseAddr)
	if !bytes.Equal(seg[dataOff:], data) {
		t.Errorf("data = %q, want %q", seg[dataOff:], data)
	}
}

func TestWriterReadOnly(t *testing.T) {
	w := NewWriter()
	w.AddText([]byte{0x90})
	img, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("debug/elf rejected the image: %v", err)
	}
	defer f.Close()
	if f.Progs[0].Flags != elf.PF_R|elf.PF_X {
		t.Errorf("flags = %v, want R+X", f.Progs[0].Flags)
	}
}

func TestWriteExecutable(t *testing.T) {
	dir, err := os.MkdirTemp("", "wheel_elf_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "prog")
	// an existing file keeps its mode on write, so start from 0644
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter()
	w.AddText([]byte{0x90})
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
	if info.Size() != PageSize {
		t.Errorf("size = %d, want %d", info.Size(), PageSize)
	}
}
