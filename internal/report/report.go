// Package report builds the machine-readable result of a run, used for
// regression testing and by the JSON output mode.
package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"denull/internal/arch"
	"denull/internal/engine"
)

// Report is the JSON output structure for one transformation run.
type Report struct {
	Digest       string           `json:"digest" jsonschema:"title=Digest,description=SHA-256 of the input buffer"`
	Arch         string           `json:"arch" jsonschema:"title=Architecture"`
	BadBytes     string           `json:"bad_bytes" jsonschema:"title=Bad Bytes,description=Comma-separated hex byte values forbidden in the output"`
	InputLen     int              `json:"input_len"`
	OutputLen    int              `json:"output_len"`
	OutputDigest string           `json:"output_digest,omitempty"`
	Iterations   int              `json:"iterations"`
	Rewrites     []engine.Rewrite `json:"rewrites,omitempty"`
	Unresolved   []uint64         `json:"unresolved,omitempty" jsonschema:"description=Original offsets of instructions no strategy could clean"`
}

// New summarizes a successful run.
func New(input []byte, a arch.Architecture, bad arch.BadBytes, res *engine.Result) *Report {
	return &Report{
		Digest:       digest(input),
		Arch:         a.String(),
		BadBytes:     bad.String(),
		InputLen:     len(input),
		OutputLen:    len(res.Output),
		OutputDigest: digest(res.Output),
		Iterations:   res.Iterations,
		Rewrites:     res.Rewrites,
	}
}

// NewFailure summarizes a run that exhausted its iteration bound.
func NewFailure(input []byte, a arch.Architecture, bad arch.BadBytes, uerr *engine.UnresolvedError) *Report {
	return &Report{
		Digest:     digest(input),
		Arch:       a.String(),
		BadBytes:   bad.String(),
		InputLen:   len(input),
		Unresolved: uerr.Offsets(),
	}
}

// Marshal renders the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return b, nil
}

func digest(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
