package engine

import (
	"fmt"
	"strings"
)

// SizeContractViolation reports a strategy whose generator produced
// more bytes than its declared bound. This is an internal defect in the
// strategy, not a data problem, and aborts the run.
type SizeContractViolation struct {
	Strategy string
	Declared int
	Actual   int
}

func (e *SizeContractViolation) Error() string {
	return fmt.Sprintf("strategy %s generated %d bytes, declared at most %d",
		e.Strategy, e.Actual, e.Declared)
}

// Unresolved describes one instruction no strategy could clean.
type Unresolved struct {
	Offset     uint64 // original byte offset
	Op         string // mnemonic, diagnostic
	Candidates int    // strategies tried in the last attempt
}

// UnresolvedError reports the instructions left unclean when the
// iteration bound was exhausted. The partially transformed buffer is
// never returned alongside it.
type UnresolvedError struct {
	Instructions []Unresolved
}

func (e *UnresolvedError) Error() string {
	offs := make([]string, len(e.Instructions))
	for i, u := range e.Instructions {
		offs[i] = fmt.Sprintf("%#x", u.Offset)
	}
	return fmt.Sprintf("%d instruction(s) could not be cleaned (offsets %s)",
		len(e.Instructions), strings.Join(offs, ", "))
}

// Offsets returns the original offsets of the unresolved instructions.
func (e *UnresolvedError) Offsets() []uint64 {
	out := make([]uint64, len(e.Instructions))
	for i, u := range e.Instructions {
		out[i] = u.Offset
	}
	return out
}
