package compiler

import (
	"wheelc/pkg/asm"
	"wheelc/pkg/elf"

	"github.com/pkg/errors"
)

// Artifact is what a backend produces from one program.
type Artifact struct {
	Assembly string
	// Image is a complete ELF executable; only ImageBackend fills it.
	Image []byte
	// Object is the assembler output behind Image.
	Object      *asm.Object
	Diagnostics Diagnostics
}

// Backend turns a resolved program into an artifact.
type Backend interface {
	Compile(prog *Program) (*Artifact, error)
}

// AsmBackend produces assembly text for the system assembler and linker.
type AsmBackend struct{}

func (AsmBackend) Compile(prog *Program) (*Artifact, error) {
	text, diags := Generate(prog)
	return &Artifact{Assembly: text, Diagnostics: diags}, nil
}

// ImageBackend assembles the generated code itself and wraps it in a
// minimal ELF executable, so no external tools are needed.
type ImageBackend struct{}

func (ImageBackend) Compile(prog *Program) (*Artifact, error) {
	text, diags := Generate(prog)
	art := &Artifact{Assembly: text, Diagnostics: diags}

	obj, err := asm.Assemble(text, elf.Layout)
	if err != nil {
		return art, errors.Wrap(err, "assembling")
	}
	art.Object = obj

	w := elf.NewWriter()
	w.AddText(obj.Code)
	w.AddData(obj.Data)
	// cells and input buffers are written at runtime
	w.Writable = len(obj.Data) > 0

	img, err := w.Bytes()
	if err != nil {
		return art, err
	}
	art.Image = img
	return art, nil
}
