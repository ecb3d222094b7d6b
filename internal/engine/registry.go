package engine

import (
	"denull/internal/strategy"
	"denull/internal/strategy/arm"
	"denull/internal/strategy/arm64"
	"denull/internal/strategy/x86"
)

// DefaultRegistry assembles the built-in strategy catalogs. The
// registration order here is fixed: it is the tie-break for strategies
// of equal priority and must be stable across runs.
func DefaultRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	x86.Register(r)
	arm.Register(r)
	arm64.Register(r)
	return r
}
