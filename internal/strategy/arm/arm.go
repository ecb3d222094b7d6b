// Package arm holds the ARM32 rewrite-strategy catalog. Strategies
// match and rebuild the 32-bit data-processing instruction word
// directly; the immediate field is the 8-bit-rotated form, so most
// rewrites are a search over alternate rotations.
package arm

import (
	"encoding/binary"

	"denull/internal/arch"
	"denull/internal/insn"
	"denull/internal/strategy"
)

// Register adds the ARM32 catalog to r in fixed order.
func Register(r *strategy.Registry) {
	r.Register(zeroEor)
	r.Register(movAltRot)
	r.Register(mvnAltRot)
	r.Register(movOrrChunks)
	r.Register(movAddSplit)
}

var arm32 = []arch.Architecture{arch.ARM32}

const (
	opMovImm = 0x03A00000 // MOV rd, #imm12
	opMvnImm = 0x03E00000 // MVN rd, #imm12
	opOrrImm = 0x03800000 // ORR rd, rn, #imm12
	opAddImm = 0x02800000 // ADD rd, rn, #imm12
	opEorReg = 0x00200000 // EOR rd, rn, rm
)

// movImm unpacks a MOV rd, #imm instruction word. The condition field
// is preserved by every rewrite.
func movImm(i *insn.Inst) (cond uint32, rd uint32, val uint32, ok bool) {
	return dpImm(i, opMovImm)
}

// mvnImm unpacks MVN rd, #imm; val is the rotated immediate itself,
// not the register result.
func mvnImm(i *insn.Inst) (cond uint32, rd uint32, val uint32, ok bool) {
	return dpImm(i, opMvnImm)
}

func dpImm(i *insn.Inst, op uint32) (cond uint32, rd uint32, val uint32, ok bool) {
	if i.ARM == nil || i.Enc&0x0FF00000 != op {
		return 0, 0, 0, false
	}
	cond = i.Enc >> 28
	if cond == 0xF {
		return 0, 0, 0, false
	}
	rd = i.Enc >> 12 & 0xF
	val = ror32(i.Enc&0xFF, i.Enc>>8&0xF*2)
	return cond, rd, val, true
}

func ror32(v, n uint32) uint32 {
	n &= 31
	if n == 0 {
		return v
	}
	return v>>n | v<<(32-n)
}

func word(enc uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, enc)
	return b
}

func clean(enc uint32, rc *strategy.RunContext) bool {
	return rc.Bad.CleanWord(uint64(enc), 4)
}

// imm12s enumerates every imm12 encoding of val: an 8-bit value rotated
// right by an even amount. Byte-aligned values always have at least
// one; many values have several, which is what movAltRot exploits.
func imm12s(val uint32) []uint32 {
	var out []uint32
	for rot := uint32(0); rot < 16; rot++ {
		r := ror32(val, 32-rot*2) // undo the rotation
		if r&0xFFFFFF00 == 0 {
			out = append(out, rot<<8|r)
		}
	}
	return out
}

// cleanImm finds an imm12 encoding of val whose full word is clean.
func cleanImm(base, val uint32, rc *strategy.RunContext) (uint32, bool) {
	for _, imm := range imm12s(val) {
		if enc := base | imm; clean(enc, rc) {
			return enc, true
		}
	}
	return 0, false
}

// zeroEor replaces MOV rd, #0 with EOR rd, rd, rd. The low registers
// leave zero fields in the word, so cleanliness is checked per rd.
var zeroEor = &strategy.Def{
	StratName: "arm_zero_eor",
	Prio:      90,
	Targets:   arm32,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		cond, rd, val, ok := movImm(i)
		return ok && val == 0 && clean(cond<<28|opEorReg|rd<<16|rd<<12|rd, rc)
	},
	Size: func(*insn.Inst) int { return 4 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		cond, rd, _, _ := movImm(i)
		return strategy.Result{Bytes: word(cond<<28 | opEorReg | rd<<16 | rd<<12 | rd)}, nil
	},
}

// movAltRot re-encodes the same MOV with a different rotation. The
// cheapest fix: same length, same semantics, different bytes.
var movAltRot = &strategy.Def{
	StratName: "arm_mov_alt_rot",
	Prio:      85,
	Targets:   arm32,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		cond, rd, val, ok := movImm(i)
		if !ok {
			return false
		}
		_, ok = cleanImm(cond<<28|opMovImm|rd<<12, val, rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 4 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		cond, rd, val, _ := movImm(i)
		enc, _ := cleanImm(cond<<28|opMovImm|rd<<12, val, rc)
		return strategy.Result{Bytes: word(enc)}, nil
	},
}

// mvnAltRot is movAltRot for MVN originals: same complemented value,
// different rotation of the immediate field.
var mvnAltRot = &strategy.Def{
	StratName: "arm_mvn_alt_rot",
	Prio:      80,
	Targets:   arm32,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		cond, rd, val, ok := mvnImm(i)
		if !ok {
			return false
		}
		_, ok = cleanImm(cond<<28|opMvnImm|rd<<12, val, rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 4 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		cond, rd, val, _ := mvnImm(i)
		enc, _ := cleanImm(cond<<28|opMvnImm|rd<<12, val, rc)
		return strategy.Result{Bytes: word(enc)}, nil
	},
}

// movOrrChunks rebuilds the value byte chunk by byte chunk: a MOV of
// the lowest chunk followed by ORRs of the rest. Byte-aligned chunks
// always encode; each word still has to pass the clean check.
var movOrrChunks = &strategy.Def{
	StratName: "arm_mov_orr_chunks",
	Prio:      70,
	Targets:   arm32,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, _, ok := movImm(i)
		if !ok {
			return false
		}
		_, ok = orrChunkWords(i, rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 16 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		words, _ := orrChunkWords(i, rc)
		var out []byte
		for _, w := range words {
			out = append(out, word(w)...)
		}
		return strategy.Result{Bytes: out}, nil
	},
}

func orrChunkWords(i *insn.Inst, rc *strategy.RunContext) ([]uint32, bool) {
	cond, rd, val, _ := movImm(i)
	if val == 0 {
		return nil, false
	}
	var words []uint32
	first := true
	for k := uint32(0); k < 4; k++ {
		chunk := val & (0xFF << (8 * k))
		if chunk == 0 {
			continue
		}
		var base uint32
		if first {
			base = cond<<28 | opMovImm | rd<<12
		} else {
			base = cond<<28 | opOrrImm | rd<<16 | rd<<12
		}
		enc, ok := cleanImm(base, chunk, rc)
		if !ok {
			return nil, false
		}
		words = append(words, enc)
		first = false
	}
	return words, len(words) > 0
}

// movAddSplit builds the value as a clean sum of two rotated
// immediates.
var movAddSplit = &strategy.Def{
	StratName: "arm_mov_add_split",
	Prio:      65,
	Targets:   arm32,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, _, ok := movImm(i)
		if !ok {
			return false
		}
		_, _, ok = addSplitWords(i, rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 8 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		w1, w2, _ := addSplitWords(i, rc)
		return strategy.Result{Bytes: append(word(w1), word(w2)...)}, nil
	},
}

func addSplitWords(i *insn.Inst, rc *strategy.RunContext) (uint32, uint32, bool) {
	cond, rd, val, _ := movImm(i)
	for b := uint32(1); b <= 0xFF; b++ {
		w1, ok := cleanImm(cond<<28|opMovImm|rd<<12, val-b, rc)
		if !ok {
			continue
		}
		w2, ok := cleanImm(cond<<28|opAddImm|rd<<16|rd<<12, b, rc)
		if !ok {
			continue
		}
		return w1, w2, true
	}
	return 0, 0, false
}
