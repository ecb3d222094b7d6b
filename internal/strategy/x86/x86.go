// Package x86 holds the rewrite-strategy catalog shared by the 32-bit
// and 64-bit x86 targets, together with the small encoder helpers the
// generators are built from.
package x86

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"denull/internal/arch"
	"denull/internal/strategy"
)

// Register adds the x86 catalog to r. Order is fixed: it is the
// documented tie-break for equal priorities.
func Register(r *strategy.Registry) {
	r.Register(xorZeroReg)
	r.Register(shiftConstruct)
	r.Register(pushImm8)
	r.Register(movNeg)
	r.Register(movNot)
	r.Register(xorPair)
	r.Register(addSplit)
	r.Register(incChain)
	r.Register(pushViaReg)
	r.Register(branchNarrow)
	r.Register(branchWiden)
}

var (
	both    = []arch.Architecture{arch.X86, arch.X64}
	x86only = []arch.Architecture{arch.X86}
)

// regIndex maps a general-purpose register to its 3-bit encoding index.
// Extended registers (R8..R15) need REX encodings the catalog does not
// emit; they are excluded so other strategies or the failure report get
// a chance.
func regIndex(r x86asm.Reg) (byte, bool) {
	switch r {
	case x86asm.EAX, x86asm.RAX:
		return 0, true
	case x86asm.ECX, x86asm.RCX:
		return 1, true
	case x86asm.EDX, x86asm.RDX:
		return 2, true
	case x86asm.EBX, x86asm.RBX:
		return 3, true
	case x86asm.ESP, x86asm.RSP:
		return 4, true
	case x86asm.EBP, x86asm.RBP:
		return 5, true
	case x86asm.ESI, x86asm.RSI:
		return 6, true
	case x86asm.EDI, x86asm.RDI:
		return 7, true
	}
	return 0, false
}

func is64(r x86asm.Reg) bool {
	return r >= x86asm.RAX && r <= x86asm.R15
}

// movDst unpacks `mov reg, imm` instructions the immediate catalog
// rewrites. 64-bit destinations are accepted only for immediates whose
// zero-extension matches the original semantics.
func movDst(i *x86asm.Inst) (reg x86asm.Reg, idx byte, imm int64, ok bool) {
	if i == nil || i.Op != x86asm.MOV {
		return 0, 0, 0, false
	}
	reg, ok = i.Args[0].(x86asm.Reg)
	if !ok {
		return 0, 0, 0, false
	}
	v, ok := i.Args[1].(x86asm.Imm)
	if !ok {
		return 0, 0, 0, false
	}
	idx, ok = regIndex(reg)
	if !ok {
		return 0, 0, 0, false
	}
	imm = int64(v)
	if is64(reg) && (imm < 0 || imm > 0xFFFFFFFF) {
		return 0, 0, 0, false
	}
	if !is64(reg) && (imm < -1<<31 || imm > 0xFFFFFFFF) {
		return 0, 0, 0, false
	}
	return reg, idx, imm, true
}

func emitImm32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// movRegImm emits `mov r32, imm32` (B8+r id). On x64 this zero-extends
// into the full register, matching the accepted movDst range.
func movRegImm(idx byte, v uint32) []byte {
	out := make([]byte, 5)
	out[0] = 0xB8 + idx
	emitImm32(out[1:], v)
	return out
}
