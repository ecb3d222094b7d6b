package strategy

import (
	"denull/internal/arch"
	"denull/internal/insn"
)

// Def is a function-backed Strategy. The catalogs declare their rules
// as Def literals and register them in a fixed order.
type Def struct {
	StratName string
	Prio      int
	Targets   []arch.Architecture

	Handle func(inst *insn.Inst, rc *RunContext) bool
	Size   func(inst *insn.Inst) int
	Gen    func(inst *insn.Inst, rc *RunContext) (Result, error)
}

func (d *Def) Name() string                { return d.StratName }
func (d *Def) Priority() int               { return d.Prio }
func (d *Def) Arches() []arch.Architecture { return d.Targets }

func (d *Def) CanHandle(inst *insn.Inst, rc *RunContext) bool {
	return d.Handle(inst, rc)
}

func (d *Def) MaxSize(inst *insn.Inst) int { return d.Size(inst) }

func (d *Def) Generate(inst *insn.Inst, rc *RunContext) (Result, error) {
	return d.Gen(inst, rc)
}
