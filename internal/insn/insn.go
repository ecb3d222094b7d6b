// Package insn defines a common decoded-instruction representation used
// across architecture-specific decoders and rewrite strategies.
package insn

import (
	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// OperandKind classifies a decoded operand.
type OperandKind int

const (
	KindRegister OperandKind = iota
	KindImmediate
	KindMemory
	KindRelTarget // pc-relative branch or memory target
)

// Mem describes a memory operand in base+index*scale+disp form.
// Register names are the decoder's spelling; empty means absent.
type Mem struct {
	Base  string
	Index string
	Scale int
	Disp  int64
}

// Operand is one classified operand of a decoded instruction.
type Operand struct {
	Kind   OperandKind
	Reg    string
	Imm    int64
	Mem    Mem
	Target uint64 // absolute target address, KindRelTarget only
}

// RelField locates a pc-relative displacement field inside an encoding,
// so the relocation pass can re-encode it after lengths change.
//
// x86 fields are byte-aligned: Width is 1 or 4 and Off is the byte
// offset inside the encoding. ARM fields live inside the 32-bit
// instruction word: Bits is the signed field width starting at BitPos,
// and Width is zero.
type RelField struct {
	Off   int // byte offset of the field (x86)
	Width int // field width in bytes (x86)

	BitPos int // lowest bit of the field (ARM)
	Bits   int // signed bit width of the field (ARM)

	// Scale divides the byte displacement before encoding: 4 for
	// word-scaled ARM branch offsets, 1 otherwise.
	Scale int

	// PCBias completes the displacement base: instruction address plus
	// Off, Width and PCBias. Zero on x86 (base is the end of the
	// displacement field) and ARM64 (instruction address); 8 on ARM32.
	PCBias int
}

// Inst is a decoded instruction normalized across architectures.
// Offset and Raw always describe the original input buffer; rewrite
// passes work on copies held by the sequence model.
type Inst struct {
	Offset uint64 // offset within the input buffer
	Len    int
	Raw    []byte
	Op     string // lowercase mnemonic
	Args   []Operand

	// Rel is non-nil when the encoding carries a pc-relative field.
	Rel *RelField

	// Underlying decoder output, exactly one non-nil per architecture.
	// Strategies use these for operand detail the normalized form
	// does not carry (register numbers, prefixes, condition codes).
	X86   *x86asm.Inst
	ARM   *armasm.Inst
	ARM64 *arm64asm.Inst

	// Enc is the 32-bit instruction word for fixed-width targets.
	Enc uint32
}

// HasRelTarget reports whether any operand is pc-relative.
func (i *Inst) HasRelTarget() bool {
	for _, a := range i.Args {
		if a.Kind == KindRelTarget {
			return true
		}
	}
	return false
}

// RelTarget returns the absolute original target of the first
// pc-relative operand, if any.
func (i *Inst) RelTarget() (uint64, bool) {
	for _, a := range i.Args {
		if a.Kind == KindRelTarget {
			return a.Target, true
		}
	}
	return 0, false
}

// ImmOperand returns the first immediate operand, if any.
func (i *Inst) ImmOperand() (int64, bool) {
	for _, a := range i.Args {
		if a.Kind == KindImmediate {
			return a.Imm, true
		}
	}
	return 0, false
}
