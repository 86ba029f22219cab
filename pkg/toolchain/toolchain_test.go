package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
)

const helloAsm = `.intel_syntax noprefix
.section .rodata
msg:
    .ascii "linked\n"
.section .text
.global _start
_start:
    mov rax, 1
    mov rdi, 1
    lea rsi, [rip + msg]
    mov rdx, 7
    syscall
    mov rax, 60
    xor rdi, rdi
    syscall
`

func TestNewHonoursCC(t *testing.T) {
	t.Setenv("CC", "my-cc")
	if got := New().CC; got != "my-cc" {
		t.Errorf("CC = %q, want my-cc", got)
	}
	t.Setenv("CC", "")
	if got := New().CC; got != DefaultCC() {
		t.Errorf("CC = %q, want %q", got, DefaultCC())
	}
}

func TestLinkMissingCompiler(t *testing.T) {
	tc := &Toolchain{CC: "definitely-not-a-compiler-wheelc"}
	if tc.Available() {
		t.Skip("unexpected compiler on PATH")
	}
	err := tc.Link(context.Background(), helloAsm, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrNoCompiler) {
		t.Fatalf("expected ErrNoCompiler, got %v", err)
	}
}

func TestLinkAndRun(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("generated code targets linux/amd64")
	}
	tc := New()
	if !tc.Available() {
		t.Skipf("%s not available", tc.CC)
	}

	out := filepath.Join(t.TempDir(), "hello")
	if err := tc.Link(context.Background(), helloAsm, out); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("no executable produced: %v", err)
	}

	got, err := exec.Command(out).Output()
	if err != nil {
		t.Fatalf("running %s: %v", out, err)
	}
	if string(got) != "linked\n" {
		t.Errorf("output = %q, want %q", got, "linked\n")
	}
}

func TestLinkReportsToolOutput(t *testing.T) {
	tc := New()
	if !tc.Available() {
		t.Skipf("%s not available", tc.CC)
	}
	err := tc.Link(context.Background(), "this is not assembly\n", filepath.Join(t.TempDir(), "bad"))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if toolErr.Output == "" {
		t.Error("ToolError carries no compiler output")
	}
}
