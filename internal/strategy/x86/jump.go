package x86

import (
	"fmt"

	"denull/internal/insn"
	"denull/internal/strategy"
)

// branchNarrow rewrites near jumps to their short (rel8) forms when the
// target is in reach. Small forward displacements encode with three
// high zero bytes in the rel32 form; the rel8 form drops them.
var branchNarrow = &strategy.Def{
	StratName: "branch_narrow",
	Prio:      82,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		if i.Rel == nil || i.Rel.Width != 4 {
			return false
		}
		target, ok := i.RelTarget()
		if !ok {
			return false
		}
		// Reachability is judged against the original layout; the
		// relocation pass bounces the node back here if the final
		// layout pushes the target out of rel8 range.
		d := int64(target) - (int64(i.Offset) + 2)
		if d < -120 || d > 120 {
			return false
		}
		switch {
		case i.Raw[0] == 0xE9:
			return true
		case len(i.Raw) >= 2 && i.Raw[0] == 0x0F && i.Raw[1]&0xF0 == 0x80:
			return true
		}
		return false
	},
	Size: func(*insn.Inst) int { return 2 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		target, _ := i.RelTarget()
		var out []byte
		if i.Raw[0] == 0xE9 {
			out = []byte{0xEB, 0x01}
		} else {
			out = []byte{0x70 | i.Raw[1]&0x0F, 0x01}
		}
		return strategy.Result{
			Bytes:     out,
			Rel:       &insn.RelField{Off: 1, Width: 1, Scale: 1},
			RelTarget: target,
		}, nil
	},
}

// branchWiden rewrites short-displacement jumps to their near (rel32)
// forms. It exists mainly as the relocation retry path: when a short
// displacement can no longer reach its target, or re-encodes to a bad
// byte, the node routes back through selection and lands here.
//
// The displacement is emitted as a clean placeholder; the relocation
// pass that follows every selection pass computes the real value.
var branchWiden = &strategy.Def{
	StratName: "branch_widen",
	Prio:      40,
	Targets:   both,
	Handle: func(i *insn.Inst, rc *strategy.RunContext) bool {
		if i.Rel == nil || i.Rel.Width != 1 || len(i.Raw) < 2 {
			return false
		}
		op := i.Raw[len(i.Raw)-2]
		return op == 0xEB || (op >= 0x70 && op <= 0x7F)
	},
	Size: func(*insn.Inst) int { return 6 },
	Gen: func(i *insn.Inst, rc *strategy.RunContext) (strategy.Result, error) {
		target, ok := i.RelTarget()
		if !ok {
			return strategy.Result{}, fmt.Errorf("branch without relative target")
		}
		op := i.Raw[len(i.Raw)-2]
		var out []byte
		var fieldOff int
		switch {
		case op == 0xEB:
			out = []byte{0xE9, 0x01, 0x01, 0x01, 0x01}
			fieldOff = 1
		case op >= 0x70 && op <= 0x7F:
			out = []byte{0x0F, 0x80 | op&0x0F, 0x01, 0x01, 0x01, 0x01}
			fieldOff = 2
		default:
			return strategy.Result{}, fmt.Errorf("not a short branch: %#02x", op)
		}
		return strategy.Result{
			Bytes:     out,
			Rel:       &insn.RelField{Off: fieldOff, Width: 4, Scale: 1},
			RelTarget: target,
		}, nil
	},
}
