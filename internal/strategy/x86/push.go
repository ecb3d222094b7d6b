package x86

import (
	"golang.org/x/arch/x86/x86asm"

	"denull/internal/insn"
	"denull/internal/strategy"
)

func pushImm(i *x86asm.Inst) (int64, bool) {
	if i == nil || i.Op != x86asm.PUSH {
		return 0, false
	}
	v, ok := i.Args[0].(x86asm.Imm)
	return int64(v), ok
}

// pushImm8 narrows `push imm32` to the sign-extended byte form.
var pushImm8 = &strategy.Def{
	StratName: "push_imm8",
	Prio:      75,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		imm, ok := pushImm(i.X86)
		return ok && imm >= -128 && imm <= 127 && !rc.Bad.Contains(byte(imm))
	},
	Size: func(*insn.Inst) int { return 2 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		imm, _ := pushImm(i.X86)
		return strategy.Result{Bytes: []byte{0x6A, byte(imm)}}, nil
	},
}

// pushViaReg spills EAX, builds the immediate there with an xor pair,
// pushes it, then swaps the pushed value under the saved EAX copy via
// a register reload. Costs more bytes but total over any immediate.
// 32-bit only: on x64 `push imm32` fills a 64-bit slot with the
// sign-extended value, and the 32-bit xchg would leave the old upper
// half of rax in the slot while zero-extending into rax.
var pushViaReg = &strategy.Def{
	StratName: "push_via_reg",
	Prio:      50,
	Targets:   x86only,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		imm, ok := pushImm(i.X86)
		if !ok {
			return false
		}
		_, _, ok = xorKey(uint32(imm), rc)
		return ok
	},
	Size: func(*insn.Inst) int { return 15 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		imm, _ := pushImm(i.X86)
		key, rest, _ := xorKey(uint32(imm), rc)
		out := []byte{0x50} // push eax
		out = append(out, movRegImm(0, key)...)
		out = append(out, 0x35) // xor eax, imm32
		out = append(out, 0, 0, 0, 0)
		emitImm32(out[len(out)-4:], rest)
		out = append(out, 0x87, 0x04, 0x24) // xchg eax, [esp]
		return strategy.Result{Bytes: out}, nil
	},
}
