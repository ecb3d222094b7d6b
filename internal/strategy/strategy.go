// Package strategy defines the pluggable rewrite-rule interface and the
// per-architecture registry the selection engine draws candidates from.
package strategy

import (
	"sort"

	"denull/internal/arch"
	"denull/internal/insn"
)

// Strategy is one rewrite rule: it detects applicability, declares an
// upper bound on its output size, and generates replacement bytes.
// Implementations are immutable and shareable across runs; anything
// that must vary between invocations lives in the RunContext.
type Strategy interface {
	// Name is diagnostic only.
	Name() string

	// Priority orders candidates, higher first. Ties resolve by
	// registration order.
	Priority() int

	// Arches lists the architectures the strategy applies to.
	Arches() []arch.Architecture

	// CanHandle reports whether the strategy can rewrite inst.
	CanHandle(inst *insn.Inst, rc *RunContext) bool

	// MaxSize is a declared upper bound on the generated encoding
	// length for inst. Exceeding it is a contract violation.
	MaxSize(inst *insn.Inst) int

	// Generate produces the replacement encoding. A non-nil RelInfo in
	// the result re-attaches the pc-relative field of the new encoding.
	Generate(inst *insn.Inst, rc *RunContext) (Result, error)
}

// Result is a generated replacement encoding.
type Result struct {
	Bytes []byte

	// Rel describes the pc-relative field of Bytes when the rewrite
	// still carries one (branch rewrites); nil otherwise.
	Rel *insn.RelField

	// RelTarget is the absolute original target address for Rel.
	RelTarget uint64
}

// RunContext threads run-scoped mutable state through selection and
// generation, keeping Strategy values stateless and shareable.
type RunContext struct {
	Arch arch.Architecture
	Bad  arch.BadBytes

	counters map[string]int
}

// NewRunContext creates the per-run context.
func NewRunContext(a arch.Architecture, bad arch.BadBytes) *RunContext {
	return &RunContext{Arch: a, Bad: bad, counters: make(map[string]int)}
}

// Next returns the number of times key has been bumped before, then
// increments it. Strategies use it for apply-every-Nth variation.
func (rc *RunContext) Next(key string) int {
	n := rc.counters[key]
	rc.counters[key] = n + 1
	return n
}

// Scorer optionally biases candidate order. It only reorders strategies
// of equal declared priority; the engine is fully deterministic without
// one.
type Scorer interface {
	Score(inst *insn.Inst, strategyName string) float64
}

// Registry maps each architecture to its eligible strategies in
// registration order.
type Registry struct {
	byArch map[arch.Architecture][]entry
	nextID int
}

type entry struct {
	s  Strategy
	id int // registration sequence, the stable tie-break
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byArch: make(map[arch.Architecture][]entry)}
}

// Register adds a strategy under every architecture it targets.
// Registration order is the documented tie-break for equal priorities,
// so callers must register in a fixed order.
func (r *Registry) Register(s Strategy) {
	id := r.nextID
	r.nextID++
	for _, a := range s.Arches() {
		r.byArch[a] = append(r.byArch[a], entry{s: s, id: id})
	}
}

// Len reports the number of strategies registered for an architecture.
func (r *Registry) Len(a arch.Architecture) int { return len(r.byArch[a]) }

// Candidates returns the strategies applicable to inst, ordered by
// descending priority with registration-order tie-break. A scorer, when
// present, reorders only within equal priority.
func (r *Registry) Candidates(a arch.Architecture, inst *insn.Inst, rc *RunContext, sc Scorer) []Strategy {
	var picked []entry
	for _, e := range r.byArch[a] {
		if e.s.CanHandle(inst, rc) {
			picked = append(picked, e)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		pi, pj := picked[i].s.Priority(), picked[j].s.Priority()
		if pi != pj {
			return pi > pj
		}
		if sc != nil {
			wi := sc.Score(inst, picked[i].s.Name())
			wj := sc.Score(inst, picked[j].s.Name())
			if wi != wj {
				return wi > wj
			}
		}
		return picked[i].id < picked[j].id
	})
	out := make([]Strategy, len(picked))
	for i, e := range picked {
		out[i] = e.s
	}
	return out
}
