// Package listing renders byte buffers as annotated disassembly text
// for the CLI and TUI front ends.
package listing

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"denull/internal/arch"
	"denull/internal/decoder"
	"denull/internal/insn"
)

// Line is one rendered instruction.
type Line struct {
	Addr       uint64
	AddrWidth  int // hex digits the address is zero-padded to
	Bytes      []byte
	Text       string
	Annotation string
}

// String formats the line with padded columns, annotations after ";".
func (l Line) String() string {
	hexcol := make([]string, len(l.Bytes))
	for i, b := range l.Bytes {
		hexcol[i] = fmt.Sprintf("%02x", b)
	}
	base := fmt.Sprintf("%-10s %-24s %-30s",
		fmt.Sprintf("%0*x", l.AddrWidth, l.Addr), strings.Join(hexcol, " "), l.Text)
	if l.Annotation != "" {
		return fmt.Sprintf("%s ; %s", base, l.Annotation)
	}
	return strings.TrimRight(base, " ")
}

// Disassemble decodes code and renders one line per instruction,
// flagging every instruction that carries a bad byte.
func Disassemble(code []byte, a arch.Architecture, bad arch.BadBytes) ([]Line, error) {
	cfg, err := arch.Resolve(a)
	if err != nil {
		return nil, err
	}
	insts, err := decoder.DecodeAll(code, cfg)
	if err != nil {
		return nil, err
	}
	lines := make([]Line, 0, len(insts))
	for i := range insts {
		in := &insts[i]
		l := Line{Addr: in.Offset, AddrWidth: 2 * cfg.WordSize, Bytes: in.Raw, Text: text(in)}
		if !bad.CleanBytes(in.Raw) {
			l.Annotation = "bad byte"
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func text(in *insn.Inst) string {
	switch {
	case in.X86 != nil:
		return strings.ToLower(x86asm.IntelSyntax(*in.X86, in.Offset, nil))
	case in.ARM != nil:
		return armasm.GNUSyntax(*in.ARM)
	case in.ARM64 != nil:
		return arm64asm.GNUSyntax(*in.ARM64)
	}
	return in.Op
}

// Render joins lines into one text block.
func Render(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
