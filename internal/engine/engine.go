// Package engine drives the bad-byte elimination run: selection of
// rewrite strategies for dirty instructions, relocation of pc-relative
// operands after lengths change, and the bounded fixed-point loop that
// repeats both until the output is clean.
package engine

import (
	"log/slog"

	"denull/internal/arch"
	"denull/internal/sequence"
	"denull/internal/strategy"
)

// Options tune a single run. The zero value selects the built-in
// registry, no scorer and an iteration bound derived from the
// instruction count.
type Options struct {
	Bad           arch.BadBytes
	MaxIterations int
	Registry      *strategy.Registry
	Scorer        strategy.Scorer
}

// Rewrite records one accepted replacement, for reporting.
type Rewrite struct {
	Offset   uint64 `json:"offset"`
	Op       string `json:"op"`
	Strategy string `json:"strategy"`
	OldLen   int    `json:"old_len"`
	NewLen   int    `json:"new_len"`
}

// Result is a successful run.
type Result struct {
	Output     []byte
	Rewrites   []Rewrite
	Iterations int
}

// Transform rewrites code for the given architecture so that the output
// contains no member of the bad-byte set while preserving execution
// semantics. On failure the partial buffer is withheld: the caller gets
// a located error instead.
//
// Error taxonomy: arch.ErrUnsupportedArchitecture for an unknown
// architecture, *decoder.DecodeError for undecodable input,
// *SizeContractViolation for a defective strategy, *UnresolvedError
// when the iteration bound runs out with unclean instructions left.
func Transform(code []byte, a arch.Architecture, opts Options) (*Result, error) {
	cfg, err := arch.Resolve(a)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return &Result{Output: []byte{}}, nil
	}

	seq, err := sequence.Build(code, cfg)
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	bound := opts.MaxIterations
	if bound <= 0 {
		bound = len(seq.Nodes)
		if bound < 8 {
			bound = 8
		}
	}

	rc := strategy.NewRunContext(a, opts.Bad)
	dirty := seq.MarkDirty(opts.Bad)
	slog.Debug("run start", "arch", a.String(), "instructions", len(seq.Nodes),
		"dirty", dirty, "bound", bound)

	iterations := 0
	for iterations < bound {
		iterations++
		if err := selectPass(seq, reg, rc, opts.Scorer, a); err != nil {
			return nil, err
		}
		relocate(seq, cfg, opts.Bad)
		if settled(seq, opts.Bad) {
			out := seq.Flatten()
			res := &Result{Output: out, Rewrites: rewrites(seq), Iterations: iterations}
			slog.Debug("run clean", "iterations", iterations,
				"in_len", len(code), "out_len", len(out))
			return res, nil
		}
	}

	return nil, &UnresolvedError{Instructions: unresolved(seq, opts.Bad)}
}

// selectPass runs the selection algorithm over every dirty node:
// candidates in priority order, first clean generation wins, exhaustion
// marks the node unresolved (collected later, not fatal here).
func selectPass(seq *sequence.Seq, reg *strategy.Registry, rc *strategy.RunContext,
	sc strategy.Scorer, a arch.Architecture) error {

	for _, n := range seq.Nodes {
		if !n.Dirty {
			continue
		}
		cands := reg.Candidates(a, n.Inst, rc, sc)
		n.Tried = len(cands)
		accepted := false
		for _, s := range cands {
			bound := s.MaxSize(n.Inst)
			res, err := s.Generate(n.Inst, rc)
			if err != nil {
				slog.Debug("generator failed", "strategy", s.Name(),
					"offset", n.OrigOffset, "error", err)
				continue
			}
			if len(res.Bytes) > bound {
				return &SizeContractViolation{
					Strategy: s.Name(), Declared: bound, Actual: len(res.Bytes),
				}
			}
			// Acceptance must be verified per candidate: a rewrite can
			// introduce a different bad byte for particular operands.
			// Encodings with a pc-relative field are exempt here; their
			// displacement is a placeholder the relocation pass fills
			// in and re-checks.
			if !rc.Bad.CleanBytes(res.Bytes) && res.Rel == nil {
				continue
			}
			n.Replace(res.Bytes, s.Name())
			if res.Rel != nil {
				n.SetRel(res.Rel, res.RelTarget)
			}
			accepted = true
			slog.Debug("rewrite accepted", "strategy", s.Name(),
				"offset", n.OrigOffset, "old_len", n.OrigLen, "new_len", len(res.Bytes))
			break
		}
		if !accepted {
			n.Unresolved = true
		}
	}
	return nil
}

// settled reports whether the sequence reached the fixed point: no node
// dirty and the concatenated output free of bad bytes.
func settled(seq *sequence.Seq, bad arch.BadBytes) bool {
	for _, n := range seq.Nodes {
		if n.Dirty {
			return false
		}
	}
	return bad.CleanBytes(seq.Flatten())
}

func rewrites(seq *sequence.Seq) []Rewrite {
	var out []Rewrite
	for _, n := range seq.Nodes {
		if n.Rewritten == "" {
			continue
		}
		out = append(out, Rewrite{
			Offset:   n.OrigOffset,
			Op:       n.Inst.Op,
			Strategy: n.Rewritten,
			OldLen:   n.OrigLen,
			NewLen:   len(n.Bytes),
		})
	}
	return out
}

func unresolved(seq *sequence.Seq, bad arch.BadBytes) []Unresolved {
	var out []Unresolved
	for _, n := range seq.Nodes {
		if n.Dirty || !bad.CleanBytes(n.Bytes) {
			out = append(out, Unresolved{
				Offset:     n.OrigOffset,
				Op:         n.Inst.Op,
				Candidates: n.Tried,
			})
		}
	}
	return out
}
