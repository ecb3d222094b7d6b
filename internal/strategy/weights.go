package strategy

import (
	"encoding/json"
	"fmt"
	"os"

	"denull/internal/insn"
)

// WeightTable is a file-backed Scorer: a flat strategy-name-to-weight
// map produced by external training tooling. Unlisted strategies score
// zero, so a table only perturbs the strategies it names.
type WeightTable struct {
	weights map[string]float64
}

// LoadWeightTable reads a JSON object of {"strategy-name": weight}.
func LoadWeightTable(path string) (*WeightTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weight table: %w", err)
	}
	var w map[string]float64
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse weight table %s: %w", path, err)
	}
	return &WeightTable{weights: w}, nil
}

// Score implements Scorer.
func (t *WeightTable) Score(_ *insn.Inst, name string) float64 {
	return t.weights[name]
}
