// Package decoder walks raw byte buffers and produces normalized
// instruction sequences for the supported architectures. Actual
// instruction decoding is delegated to golang.org/x/arch.
package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"denull/internal/arch"
	"denull/internal/insn"
)

// DecodeError reports a byte offset at which the decoder could not make
// forward progress. It is fatal for the run.
type DecodeError struct {
	Offset uint64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("undecodable instruction at offset %#x: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeAll decodes the whole buffer into an ordered instruction list.
// Any undecodable or truncated instruction fails the run with a located
// DecodeError; malformed bytes are never silently skipped.
func DecodeAll(code []byte, cfg arch.DecoderConfig) ([]insn.Inst, error) {
	switch cfg.Arch {
	case arch.X86, arch.X64:
		return decodeX86(code, cfg.BitMode)
	case arch.ARM32:
		return decodeARM(code, cfg)
	case arch.ARM64:
		return decodeARM64(code, cfg)
	}
	return nil, fmt.Errorf("%w: %v", arch.ErrUnsupportedArchitecture, cfg.Arch)
}

func decodeX86(code []byte, mode int) ([]insn.Inst, error) {
	var out []insn.Inst
	var off uint64
	for off < uint64(len(code)) {
		x, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			return nil, &DecodeError{Offset: off, Err: err}
		}
		// A lone prefix or truncated tail comes back as a one-byte
		// opcode-less pseudo instruction with a nil error; it must fail
		// the run, not pass through as a phantom instruction.
		if x.Op == 0 {
			return nil, &DecodeError{Offset: off, Err: fmt.Errorf("truncated or invalid instruction")}
		}
		raw := make([]byte, x.Len)
		copy(raw, code[off:off+uint64(x.Len)])

		decoded := x
		ni := insn.Inst{
			Offset: off,
			Len:    x.Len,
			Raw:    raw,
			Op:     strings.ToLower(x.Op.String()),
			X86:    &decoded,
		}
		for _, a := range x.Args {
			if a == nil {
				break
			}
			ni.Args = append(ni.Args, classifyX86Arg(a, off, uint64(x.Len)))
		}
		if x.PCRel > 0 {
			ni.Rel = &insn.RelField{
				Off:   x.PCRelOff,
				Width: x.PCRel,
				Scale: 1,
			}
		}
		out = append(out, ni)
		off += uint64(x.Len)
	}
	return out, nil
}

func classifyX86Arg(a x86asm.Arg, off, length uint64) insn.Operand {
	switch v := a.(type) {
	case x86asm.Reg:
		return insn.Operand{Kind: insn.KindRegister, Reg: v.String()}
	case x86asm.Imm:
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v)}
	case x86asm.Mem:
		m := insn.Mem{Scale: int(v.Scale), Disp: v.Disp}
		if v.Base != 0 {
			m.Base = v.Base.String()
		}
		if v.Index != 0 {
			m.Index = v.Index.String()
		}
		// RIP-relative memory is a relative target like a branch. The
		// decoder stores the disp32 zero-extended; backward references
		// need the sign restored before the target is formed.
		if v.Base == x86asm.RIP {
			return insn.Operand{
				Kind:   insn.KindRelTarget,
				Mem:    m,
				Target: off + length + uint64(int64(int32(v.Disp))),
			}
		}
		return insn.Operand{Kind: insn.KindMemory, Mem: m}
	case x86asm.Rel:
		// Displacement is relative to the end of the instruction.
		return insn.Operand{
			Kind:   insn.KindRelTarget,
			Target: off + length + uint64(int64(v)),
		}
	}
	return insn.Operand{Kind: insn.KindImmediate}
}

func decodeARM(code []byte, cfg arch.DecoderConfig) ([]insn.Inst, error) {
	step := uint64(cfg.InstAlign)
	var out []insn.Inst
	var off uint64
	for off < uint64(len(code)) {
		if uint64(len(code))-off < step {
			return nil, &DecodeError{Offset: off, Err: fmt.Errorf("truncated instruction")}
		}
		x, err := armasm.Decode(code[off:off+step], armasm.ModeARM)
		if err != nil {
			return nil, &DecodeError{Offset: off, Err: err}
		}
		raw := make([]byte, step)
		copy(raw, code[off:off+step])

		decoded := x
		ni := insn.Inst{
			Offset: off,
			Len:    int(step),
			Raw:    raw,
			Op:     strings.ToLower(x.Op.String()),
			ARM:    &decoded,
			Enc:    x.Enc,
		}
		for _, a := range x.Args {
			if a == nil {
				break
			}
			ni.Args = append(ni.Args, classifyARMArg(a))
		}
		// B/BL carry a word-scaled imm24 relative to PC+8. The target
		// is derived from the raw word rather than the decoder's
		// formatting-oriented PCRel representation.
		if enc := x.Enc; enc>>25&0x7 == 0x5 {
			disp := int64(int32(enc<<8)>>8) * 4
			ni.Rel = &insn.RelField{
				BitPos: 0,
				Bits:   24,
				Scale:  4,
				PCBias: 8,
			}
			ni.Args = append(ni.Args, insn.Operand{
				Kind:   insn.KindRelTarget,
				Target: off + 8 + uint64(disp),
			})
		}
		out = append(out, ni)
		off += step
	}
	return out, nil
}

func classifyARMArg(a armasm.Arg) insn.Operand {
	switch v := a.(type) {
	case armasm.Reg:
		return insn.Operand{Kind: insn.KindRegister, Reg: v.String()}
	case armasm.Imm:
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v)}
	case armasm.ImmAlt:
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v.Imm())}
	case armasm.Mem:
		m := insn.Mem{Base: v.Base.String()}
		return insn.Operand{Kind: insn.KindMemory, Mem: m}
	case armasm.PCRel:
		// Branch targets are classified from the raw word in decodeARM;
		// remaining PCRel args (literal pools) stay immediates here.
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v)}
	}
	return insn.Operand{Kind: insn.KindImmediate}
}

func decodeARM64(code []byte, cfg arch.DecoderConfig) ([]insn.Inst, error) {
	step := uint64(cfg.InstAlign)
	var out []insn.Inst
	var off uint64
	for off < uint64(len(code)) {
		if uint64(len(code))-off < step {
			return nil, &DecodeError{Offset: off, Err: fmt.Errorf("truncated instruction")}
		}
		x, err := arm64asm.Decode(code[off : off+step])
		if err != nil {
			return nil, &DecodeError{Offset: off, Err: err}
		}
		raw := make([]byte, step)
		copy(raw, code[off:off+step])

		decoded := x
		ni := insn.Inst{
			Offset: off,
			Len:    int(step),
			Raw:    raw,
			Op:     strings.ToLower(x.Op.String()),
			ARM64:  &decoded,
			Enc:    x.Enc,
		}
		for _, a := range x.Args {
			if a == nil {
				break
			}
			ni.Args = append(ni.Args, classifyARM64Arg(a, off))
		}
		if rel := arm64RelField(x.Enc); rel != nil {
			ni.Rel = rel
		}
		out = append(out, ni)
		off += step
	}
	return out, nil
}

func classifyARM64Arg(a arm64asm.Arg, off uint64) insn.Operand {
	switch v := a.(type) {
	case arm64asm.Reg:
		return insn.Operand{Kind: insn.KindRegister, Reg: v.String()}
	case arm64asm.RegSP:
		return insn.Operand{Kind: insn.KindRegister, Reg: arm64asm.Reg(v).String()}
	case arm64asm.Imm:
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v.Imm)}
	case arm64asm.Imm64:
		return insn.Operand{Kind: insn.KindImmediate, Imm: int64(v.Imm)}
	case arm64asm.ImmShift:
		return insn.Operand{Kind: insn.KindImmediate, Imm: parseImmShift(v)}
	case arm64asm.MemImmediate:
		return insn.Operand{Kind: insn.KindMemory, Mem: insn.Mem{Base: v.Base.String()}}
	case arm64asm.PCRel:
		// Relative to the instruction address.
		return insn.Operand{Kind: insn.KindRelTarget, Target: off + uint64(int64(v))}
	}
	return insn.Operand{Kind: insn.KindImmediate}
}

// parseImmShift extracts the shifted immediate value from its printed
// form; the decoder does not expose the fields directly.
func parseImmShift(v arm64asm.ImmShift) int64 {
	s := v.String()
	if strings.HasPrefix(s, "#0x") {
		if val, err := strconv.ParseUint(s[3:], 16, 64); err == nil {
			return int64(val)
		}
	} else if strings.HasPrefix(s, "#") {
		if val, err := strconv.ParseInt(s[1:], 10, 64); err == nil {
			return val
		}
	}
	return 0
}

// arm64RelField identifies the branch displacement field of an A64
// instruction word, when present.
func arm64RelField(enc uint32) *insn.RelField {
	switch {
	case enc&0x7C000000 == 0x14000000:
		// B / BL: imm26 at bit 0.
		return &insn.RelField{Bits: 26, Scale: 4}
	case enc&0xFF000010 == 0x54000000:
		// B.cond: imm19 at bit 5.
		return &insn.RelField{BitPos: 5, Bits: 19, Scale: 4}
	case enc&0x7E000000 == 0x34000000:
		// CBZ / CBNZ: imm19 at bit 5.
		return &insn.RelField{BitPos: 5, Bits: 19, Scale: 4}
	case enc&0x7E000000 == 0x36000000:
		// TBZ / TBNZ: imm14 at bit 5.
		return &insn.RelField{BitPos: 5, Bits: 14, Scale: 4}
	}
	return nil
}
