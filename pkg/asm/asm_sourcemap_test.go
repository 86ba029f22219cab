package asm

import (
	"testing"
)

func TestAssembleSourceMap(t *testing.T) {
	code := `.intel_syntax noprefix
_start:
    mov rax, 1      # line 3: 10 bytes at 0x00
                    # line 4: empty
    syscall         # line 5: 2 bytes at 0x0A
.section .rodata
msg: .ascii "AB"    # line 7: data, not mapped
.section .text
done: ret           # line 9: 1 byte at 0x0C
`
	obj, err := Assemble(code, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	tests := []struct {
		addr uint64
		line int
	}{
		{0x00, 3},
		{0x0A, 5},
		{0x0C, 9},
	}
	for _, tc := range tests {
		if got := obj.SourceMap[tc.addr]; got != tc.line {
			t.Errorf("SourceMap[0x%02X] = %d; want %d", tc.addr, got, tc.line)
		}
	}
	if len(obj.SourceMap) != len(tests) {
		t.Errorf("SourceMap has %d entries, want %d", len(obj.SourceMap), len(tests))
	}
	if obj.Symbols["done"] != 0x0C {
		t.Errorf("done = %#x, want 0xC", obj.Symbols["done"])
	}
}
