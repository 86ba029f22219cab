package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wheelc/pkg/compiler"
	"wheelc/pkg/emu"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/sanity-io/litter"
)

const (
	historyFile = ".wheel_history"
	promptMain  = "wheel> "
	promptCont  = "  ...> "
)

// session is the program built up line by line in the REPL. Every new
// line recompiles the whole program.
type session struct {
	src     strings.Builder
	lastOut []byte // output of the previous run, to print only what is new
}

func repl(w io.Writer, autoRun bool) int {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Fprintln(w, "wheel interactive session. Commands: :asm :ast :run :reset :quit")
	s := &session{}
	for {
		code, ok := readBlock(ln)
		if !ok {
			fmt.Fprintln(w)
			return 0
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if quit := s.command(w, trimmed); quit {
				return 0
			}
			continue
		}

		s.src.WriteString(code)
		s.src.WriteByte('\n')
		if autoRun {
			s.run(w)
		} else {
			s.showDiagnostics(w)
		}
	}
}

func (s *session) command(w io.Writer, cmd string) (quit bool) {
	switch strings.ToLower(cmd) {
	case ":quit", ":q":
		return true
	case ":reset":
		s.src.Reset()
		s.lastOut = nil
	case ":asm":
		text, _ := compiler.Generate(compiler.Parse(s.src.String()))
		fmt.Fprint(w, text)
	case ":ast":
		fmt.Fprintln(w, litter.Sdump(compiler.Parse(s.src.String())))
	case ":run":
		s.lastOut = nil
		s.run(w)
	default:
		fmt.Fprintln(w, "unknown command. Type :quit to exit.")
	}
	return false
}

func (s *session) showDiagnostics(w io.Writer) {
	art, err := compiler.Compile(s.src.String(), ".", compiler.Options{}, compiler.AsmBackend{})
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	for _, d := range art.Diagnostics {
		fmt.Fprintln(w, d)
	}
}

// run compiles the session to an image, executes it in the emulator and
// prints the output the newest line added.
func (s *session) run(w io.Writer) {
	out, err := runSource(s.src.String())
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	if bytes.HasPrefix(out, s.lastOut) {
		w.Write(out[len(s.lastOut):])
	} else {
		w.Write(out)
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Fprintln(w)
	}
	s.lastOut = out
}

func runSource(src string) ([]byte, error) {
	art, err := compiler.Compile(src, ".", compiler.Options{}, compiler.ImageBackend{})
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if _, err := emu.Run(art.Image, strings.NewReader(""), &out); err != nil {
		return out.Bytes(), errors.Wrap(err, "running")
	}
	return out.Bytes(), nil
}

// readBlock reads one line, continuing while braces are unbalanced.
func readBlock(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return "", false
		}
		if err != nil {
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if braceDepth(b.String()) <= 0 {
			return b.String(), true
		}
	}
}

func braceDepth(src string) int {
	depth := 0
	for _, tok := range compiler.Lex(src) {
		switch tok.Type {
		case compiler.LBRACE:
			depth++
		case compiler.RBRACE:
			depth--
		}
	}
	return depth
}
