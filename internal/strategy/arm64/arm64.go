// Package arm64 holds the A64 rewrite-strategy catalog. Like the ARM32
// catalog it matches and rebuilds raw instruction words; the wide-moves
// (MOVZ family) are where bad bytes show up in practice.
package arm64

import (
	"encoding/binary"

	"denull/internal/arch"
	"denull/internal/insn"
	"denull/internal/strategy"
)

// Register adds the ARM64 catalog to r in fixed order.
func Register(r *strategy.Registry) {
	r.Register(zeroEor)
	r.Register(addSplit)
	r.Register(subSplit)
	r.Register(wideShift)
}

var a64 = []arch.Architecture{arch.ARM64}

// movz unpacks a MOVZ instruction word: sf selects the 32/64-bit form,
// hw the 16-bit shift amount in halfwords.
func movz(i *insn.Inst) (sf, hw, imm16, rd uint32, ok bool) {
	if i.ARM64 == nil || i.Enc&0x7F800000 != 0x52800000 {
		return 0, 0, 0, 0, false
	}
	return i.Enc >> 31, i.Enc >> 21 & 0x3, i.Enc >> 5 & 0xFFFF, i.Enc & 0x1F, true
}

func word(enc uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, enc)
	return b
}

func clean(enc uint32, rc *strategy.RunContext) bool {
	return rc.Bad.CleanWord(uint64(enc), 4)
}

func encMovz(sf, hw, imm16, rd uint32) uint32 {
	return sf<<31 | 0x52800000 | hw<<21 | imm16<<5 | rd
}

// encAddImm encodes ADD/SUB rd, rn, #imm12 (shift 0); op is 0x11000000
// for ADD, 0x51000000 for SUB.
func encAddImm(op, sf, imm12, rn, rd uint32) uint32 {
	return sf<<31 | op | imm12<<10 | rn<<5 | rd
}

// zeroEor replaces MOVZ rd, #0 with EOR rd, rd, rd when the register
// fields leave a clean word.
var zeroEor = &strategy.Def{
	StratName: "a64_zero_eor",
	Prio:      90,
	Targets:   a64,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		sf, hw, imm16, rd, ok := movz(i)
		if !ok || imm16 != 0 || hw != 0 {
			return false
		}
		return clean(sf<<31|0x4A000000|rd<<16|rd<<5|rd, rc)
	},
	Size: func(*insn.Inst) int { return 4 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		sf, _, _, rd, _ := movz(i)
		return strategy.Result{Bytes: word(sf<<31 | 0x4A000000 | rd<<16 | rd<<5 | rd)}, nil
	},
}

// addSplit rebuilds a 16-bit immediate as MOVZ of a smaller value plus
// an ADD of the remainder.
var addSplit = &strategy.Def{
	StratName: "a64_add_split",
	Prio:      75,
	Targets:   a64,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, _, ok := splitWords(i, rc, 0x11000000, false)
		return ok
	},
	Size: func(*insn.Inst) int { return 8 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		w1, w2, _, _ := splitWords(i, rc, 0x11000000, false)
		return strategy.Result{Bytes: append(word(w1), word(w2)...)}, nil
	},
}

// subSplit is the subtractive counterpart: MOVZ of a larger value
// followed by SUB of the overshoot.
var subSplit = &strategy.Def{
	StratName: "a64_sub_split",
	Prio:      72,
	Targets:   a64,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, _, ok := splitWords(i, rc, 0x51000000, true)
		return ok
	},
	Size: func(*insn.Inst) int { return 8 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		w1, w2, _, _ := splitWords(i, rc, 0x51000000, true)
		return strategy.Result{Bytes: append(word(w1), word(w2)...)}, nil
	},
}

// splitWords searches for a clean MOVZ+ADD (or MOVZ+SUB) pair landing
// on the original value.
func splitWords(i *insn.Inst, rc *strategy.RunContext, op uint32, sub bool) (uint32, uint32, uint32, bool) {
	sf, hw, imm16, rd, ok := movz(i)
	if !ok || hw != 0 {
		return 0, 0, 0, false
	}
	for b := uint32(1); b <= 0xFFF; b++ {
		var base uint32
		if sub {
			base = imm16 + b
			if base > 0xFFFF {
				break
			}
		} else {
			if b > imm16 {
				break
			}
			base = imm16 - b
		}
		w1 := encMovz(sf, 0, base, rd)
		w2 := encAddImm(op, sf, b, rd, rd)
		if clean(w1, rc) && clean(w2, rc) {
			return w1, w2, b, true
		}
	}
	return 0, 0, 0, false
}

// wideShift rewrites MOVZ rd, #imm16, LSL #16/32/48 as a MOVZ of the
// unshifted value followed by an LSL (alias of UBFM), dodging the bad
// bytes the shifted-halfword form produces.
var wideShift = &strategy.Def{
	StratName: "a64_wide_shift",
	Prio:      68,
	Targets:   a64,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, ok := wideShiftWords(i, rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 8 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		w1, w2, _ := wideShiftWords(i, rc)
		return strategy.Result{Bytes: append(word(w1), word(w2)...)}, nil
	},
}

func wideShiftWords(i *insn.Inst, rc *strategy.RunContext) (uint32, uint32, bool) {
	sf, hw, imm16, rd, ok := movz(i)
	if !ok || hw == 0 || imm16 == 0 {
		return 0, 0, false
	}
	sh := hw * 16
	var width uint32 = 32
	if sf == 1 {
		width = 64
	}
	if sh >= width {
		return 0, 0, false
	}
	w1 := encMovz(sf, 0, imm16, rd)
	// LSL rd, rd, #sh == UBFM rd, rd, #(width-sh), #(width-1-sh)
	immr := (width - sh) % width
	imms := width - 1 - sh
	var w2 uint32
	if sf == 1 {
		w2 = 0xD3400000 | immr<<16 | imms<<10 | rd<<5 | rd
	} else {
		w2 = 0x53000000 | immr<<16 | imms<<10 | rd<<5 | rd
	}
	if !clean(w1, rc) || !clean(w2, rc) {
		return 0, 0, false
	}
	return w1, w2, true
}
