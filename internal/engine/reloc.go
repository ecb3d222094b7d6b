package engine

import (
	"encoding/binary"

	"denull/internal/arch"
	"denull/internal/insn"
	"denull/internal/logging"
	"denull/internal/sequence"
)

// relocate recomputes node addresses and re-encodes every pc-relative
// displacement. Nodes whose displacement cannot be represented, or
// whose re-encoded field carries a bad byte, are routed back to
// selection by marking them dirty. Idempotent while lengths are stable.
func relocate(seq *sequence.Seq, cfg arch.DecoderConfig, bad arch.BadBytes) {
	seq.Relayout()
	for _, n := range seq.Nodes {
		if n.Rel == nil {
			continue
		}
		target, ok := newTargetAddr(seq, n.RelTarget)
		if !ok {
			// Target falls inside the buffer but not on an instruction
			// boundary; no rewrite can preserve it.
			n.Dirty = true
			n.Unresolved = true
			continue
		}
		if patchDisp(n, cfg, target, bad) {
			n.Dirty = !bad.CleanBytes(n.Bytes)
			if !n.Dirty {
				n.Unresolved = false
			}
		} else {
			if logging.IsDebug() {
				lg := logging.NewLogger()
				lg.Debug("displacement patch failed",
					"offset", n.OrigOffset, "target", target, "addr", n.Addr)
			}
			n.Dirty = true
		}
	}
}

// newTargetAddr maps an original target address into the relaid-out
// sequence. Addresses outside the original buffer are external and
// absolute: they do not move.
func newTargetAddr(seq *sequence.Seq, orig uint64) (uint64, bool) {
	end := seq.OrigEnd()
	if orig == end {
		return seq.Base + uint64(seq.TotalLen()), true
	}
	if orig > end || orig < seq.Base {
		return orig, true
	}
	if n, ok := seq.NodeAtOrig(orig); ok {
		return n.Addr, true
	}
	return 0, false
}

// patchDisp re-encodes the displacement field of n so that it reaches
// target. The base follows the convention recorded in the field: node
// address plus Off, Width and PCBias, which is the end of the
// displacement field on x86 and PC+8 or the instruction address on the
// ARM targets, where Off and Width are zero. Returns false when the
// value does not fit the field or re-encodes to a bad byte.
func patchDisp(n *sequence.Node, cfg arch.DecoderConfig, target uint64, bad arch.BadBytes) bool {
	rel := n.Rel
	base := n.Addr + uint64(rel.Off) + uint64(rel.Width) + uint64(rel.PCBias)
	disp := int64(target) - int64(base)
	if cfg.FixedWidth() {
		return patchWordField(n.Bytes, rel, disp, bad)
	}
	return patchX86(n.Bytes, rel, disp, bad)
}

func patchX86(b []byte, rel *insn.RelField, disp int64, bad arch.BadBytes) bool {
	switch rel.Width {
	case 1:
		if disp < -128 || disp > 127 {
			return false
		}
		v := byte(disp)
		if bad.Contains(v) {
			return false
		}
		b[rel.Off] = v
		return true
	case 4:
		if disp < -1<<31 || disp > 1<<31-1 {
			return false
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		if !bad.CleanBytes(buf[:]) {
			return false
		}
		copy(b[rel.Off:], buf[:])
		return true
	}
	return false
}

func patchWordField(b []byte, rel *insn.RelField, disp int64, bad arch.BadBytes) bool {
	if rel.Scale > 1 {
		if disp%int64(rel.Scale) != 0 {
			return false
		}
		disp /= int64(rel.Scale)
	}
	limit := int64(1) << (rel.Bits - 1)
	if disp < -limit || disp >= limit {
		return false
	}
	mask := uint32(1)<<rel.Bits - 1
	word := binary.LittleEndian.Uint32(b[rel.Off:])
	word = word&^(mask<<rel.BitPos) | (uint32(disp)&mask)<<rel.BitPos
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	if !bad.CleanBytes(buf[:]) {
		return false
	}
	copy(b[rel.Off:], buf[:])
	return true
}
