// Package sequence holds the mutable instruction sequence a run
// operates on: an arena of nodes in original-address order, each owning
// its current byte encoding.
package sequence

import (
	"denull/internal/arch"
	"denull/internal/decoder"
	"denull/internal/insn"
)

// Node is one decoded instruction at a point in the sequence. The
// decoded view (Inst) always describes the original bytes; Bytes is the
// current encoding and is replaced wholesale by generation.
type Node struct {
	Index      int
	OrigOffset uint64
	OrigLen    int

	// Addr is the node's current absolute address, maintained by the
	// relocation pass. Before any length changes it equals OrigOffset.
	Addr uint64

	// Bytes is the current encoding, owned by the node.
	Bytes []byte

	// Inst is the read-only decoded view of the original instruction.
	Inst *insn.Inst

	// Rel locates the pc-relative field of the current encoding, nil
	// when the encoding has none. Generation replaces it alongside
	// Bytes; relocation re-encodes through it.
	Rel *insn.RelField

	// RelTarget is the absolute original address this node's relative
	// operand points at, valid when Rel is non-nil.
	RelTarget uint64

	// Dirty marks the node for the selection pass: either its bytes
	// still contain a bad byte or relocation requested a re-encode.
	Dirty bool

	// Unresolved is set when selection exhausted all candidates.
	Unresolved bool

	// Tried counts the candidates attempted in the last selection, for
	// diagnostics.
	Tried int

	// Rewritten names the strategy whose output the node carries, empty
	// while the original encoding is intact.
	Rewritten string
}

// Changed reports whether the node's length differs from the original.
func (n *Node) Changed() bool { return len(n.Bytes) != n.OrigLen }

// Replace installs a new encoding produced by a strategy. The relative
// field of the old encoding no longer applies; the strategy supplies a
// new one (or nil) through SetRel.
func (n *Node) Replace(b []byte, strategy string) {
	n.Bytes = b
	n.Rewritten = strategy
	n.Rel = nil
	n.Dirty = false
	n.Unresolved = false
}

// SetRel records the pc-relative field of the current encoding.
func (n *Node) SetRel(r *insn.RelField, target uint64) {
	n.Rel = r
	n.RelTarget = target
}

// Seq is the ordered instruction sequence for one run. Nodes stay in
// strictly increasing original-address order for the whole run; only
// lengths and absolute addresses change.
type Seq struct {
	Base  uint64
	Nodes []*Node

	byOrig map[uint64]*Node
}

// Build decodes code and wraps every instruction into an owned node.
// A decode failure surfaces as a located *decoder.DecodeError.
func Build(code []byte, cfg arch.DecoderConfig) (*Seq, error) {
	insts, err := decoder.DecodeAll(code, cfg)
	if err != nil {
		return nil, err
	}
	s := &Seq{byOrig: make(map[uint64]*Node, len(insts))}
	for i := range insts {
		inst := &insts[i]
		b := make([]byte, inst.Len)
		copy(b, inst.Raw)
		n := &Node{
			Index:      i,
			OrigOffset: inst.Offset,
			OrigLen:    inst.Len,
			Addr:       inst.Offset,
			Bytes:      b,
			Inst:       inst,
		}
		if inst.Rel != nil {
			if t, ok := inst.RelTarget(); ok {
				rel := *inst.Rel
				n.Rel = &rel
				n.RelTarget = t
			}
		}
		s.Nodes = append(s.Nodes, n)
		s.byOrig[inst.Offset] = n
	}
	return s, nil
}

// NodeAtOrig returns the node whose original offset is addr.
func (s *Seq) NodeAtOrig(addr uint64) (*Node, bool) {
	n, ok := s.byOrig[addr]
	return n, ok
}

// OrigEnd returns the end offset of the original buffer.
func (s *Seq) OrigEnd() uint64 {
	if len(s.Nodes) == 0 {
		return 0
	}
	last := s.Nodes[len(s.Nodes)-1]
	return last.OrigOffset + uint64(last.OrigLen)
}

// MarkDirty flags every node whose current bytes contain a member of
// the bad-byte set and returns the count.
func (s *Seq) MarkDirty(bad arch.BadBytes) int {
	dirty := 0
	for _, n := range s.Nodes {
		if !bad.CleanBytes(n.Bytes) {
			n.Dirty = true
			dirty++
		}
	}
	return dirty
}

// Relayout recomputes every node's address as the running sum of
// preceding lengths from the base address. Idempotent while lengths
// are stable.
func (s *Seq) Relayout() {
	addr := s.Base
	for _, n := range s.Nodes {
		n.Addr = addr
		addr += uint64(len(n.Bytes))
	}
}

// TotalLen is the sum of current node lengths.
func (s *Seq) TotalLen() int {
	total := 0
	for _, n := range s.Nodes {
		total += len(n.Bytes)
	}
	return total
}

// Flatten concatenates the current encodings into one output buffer.
func (s *Seq) Flatten() []byte {
	out := make([]byte, 0, s.TotalLen())
	for _, n := range s.Nodes {
		out = append(out, n.Bytes...)
	}
	return out
}
