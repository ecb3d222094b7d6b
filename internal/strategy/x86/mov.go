package x86

import (
	"denull/internal/insn"
	"denull/internal/strategy"
)

// xorZeroReg rewrites `mov reg, 0` as `xor reg, reg`. Highest priority:
// shortest replacement and always clean for the legacy registers.
var xorZeroReg = &strategy.Def{
	StratName: "xor_zero_reg",
	Prio:      100,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		return ok && imm == 0
	},
	Size: func(*insn.Inst) int { return 2 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, _, _ := movDst(i.X86)
		return strategy.Result{Bytes: []byte{0x31, 0xC0 | idx<<3 | idx}}, nil
	},
}

// movNeg loads the two's-complement negation and flips it back with NEG.
var movNeg = &strategy.Def{
	StratName: "mov_neg",
	Prio:      75,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		if !ok || imm == 0 {
			return false
		}
		return rc.Bad.CleanWord(uint64(-uint32(imm)), 4)
	},
	Size: func(*insn.Inst) int { return 7 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		out := movRegImm(idx, -uint32(imm))
		out = append(out, 0xF7, 0xD8|idx) // neg reg
		return strategy.Result{Bytes: out}, nil
	},
}

// movNot loads the bitwise complement and flips it back with NOT.
var movNot = &strategy.Def{
	StratName: "mov_not",
	Prio:      72,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		return ok && rc.Bad.CleanWord(uint64(^uint32(imm)), 4)
	},
	Size: func(*insn.Inst) int { return 7 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		out := movRegImm(idx, ^uint32(imm))
		out = append(out, 0xF7, 0xD0|idx) // not reg
		return strategy.Result{Bytes: out}, nil
	},
}

// shiftConstruct loads imm>>n and shifts it back up when the immediate
// has trailing zero bits, e.g. page-aligned constants.
var shiftConstruct = &strategy.Def{
	StratName: "shift_construct",
	Prio:      78,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		if !ok || imm == 0 {
			return false
		}
		_, ok = shiftParts(uint32(imm), rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 8 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		n, _ := shiftParts(uint32(imm), rc)
		out := movRegImm(idx, uint32(imm)>>n)
		out = append(out, 0xC1, 0xE0|idx, byte(n)) // shl reg, n
		return strategy.Result{Bytes: out}, nil
	},
}

// shiftParts finds the smallest shift that leaves a clean base value.
func shiftParts(imm uint32, rc *strategy.RunContext) (uint, bool) {
	for n := uint(1); n < 32; n++ {
		if imm>>n<<n != imm {
			break
		}
		if rc.Bad.CleanWord(uint64(imm>>n), 4) && !rc.Bad.Contains(byte(n)) {
			return n, true
		}
	}
	return 0, false
}

// xorPair builds the immediate from a clean key and its XOR complement.
// Picking each key byte independently keeps it total over any immediate
// whenever at least three byte values stay legal.
var xorPair = &strategy.Def{
	StratName: "xor_pair",
	Prio:      70,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		if !ok {
			return false
		}
		_, _, ok = xorKey(uint32(imm), rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 11 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		key, rest, _ := xorKey(uint32(imm), rc)
		out := movRegImm(idx, key)
		out = append(out, 0x81, 0xF0|idx) // xor reg, imm32
		out = append(out, 0, 0, 0, 0)
		emitImm32(out[len(out)-4:], rest)
		return strategy.Result{Bytes: out}, nil
	},
}

// xorKey chooses key bytes so that both key and key^imm avoid the
// bad-byte set. Deterministic: lowest legal byte wins.
func xorKey(imm uint32, rc *strategy.RunContext) (key, rest uint32, ok bool) {
	for i := 0; i < 4; i++ {
		ib := byte(imm >> (8 * i))
		found := false
		for k := 1; k < 256; k++ {
			kb := byte(k)
			if !rc.Bad.Contains(kb) && !rc.Bad.Contains(kb^ib) {
				key |= uint32(kb) << (8 * i)
				found = true
				break
			}
		}
		if !found {
			return 0, 0, false
		}
	}
	return key, key ^ imm, true
}

// addSplit reconstructs the immediate as a clean sum.
var addSplit = &strategy.Def{
	StratName: "add_split",
	Prio:      68,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		_, _, imm, ok := movDst(i.X86)
		if !ok {
			return false
		}
		_, _, ok = addParts(uint32(imm), rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 11 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		a, b, _ := addParts(uint32(imm), rc)
		out := movRegImm(idx, a)
		out = append(out, 0x81, 0xC0|idx) // add reg, imm32
		out = append(out, 0, 0, 0, 0)
		emitImm32(out[len(out)-4:], b)
		return strategy.Result{Bytes: out}, nil
	},
}

func addParts(imm uint32, rc *strategy.RunContext) (a, b uint32, ok bool) {
	for k := 1; k < 0x80; k++ {
		b = uint32(k) * 0x01010101
		a = imm - b
		if rc.Bad.CleanWord(uint64(a), 4) && rc.Bad.CleanWord(uint64(b), 4) {
			return a, b, true
		}
	}
	return 0, 0, false
}

// incChain zeroes the register and counts up to small immediates.
// 32-bit only: the 40+r INC encodings are REX prefixes on x64.
var incChain = &strategy.Def{
	StratName: "inc_chain",
	Prio:      60,
	Targets:   x86only,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		reg, _, imm, ok := movDst(i.X86)
		return ok && !is64(reg) && imm >= 1 && imm <= 8
	},
	Size: func(*insn.Inst) int { return 10 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		_, idx, imm, _ := movDst(i.X86)
		out := []byte{0x31, 0xC0 | idx<<3 | idx}
		for k := int64(0); k < imm; k++ {
			out = append(out, 0x40+idx)
		}
		return strategy.Result{Bytes: out}, nil
	},
}
