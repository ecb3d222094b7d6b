package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"denull/internal/arch"
	"denull/internal/engine"
)

func TestNew(t *testing.T) {
	input := []byte{0xb8, 0x00, 0x10, 0x00, 0x00}
	res := &engine.Result{
		Output:     []byte{0xb8, 0xff, 0xef, 0xff, 0xff, 0xf7, 0xd0},
		Iterations: 1,
		Rewrites: []engine.Rewrite{
			{Offset: 0, Op: "mov", Strategy: "mov_not", OldLen: 5, NewLen: 7},
		},
	}
	r := New(input, arch.X86, arch.DefaultBadBytes(), res)

	if r.Digest != fmt.Sprintf("%x", sha256.Sum256(input)) {
		t.Errorf("digest = %s", r.Digest)
	}
	if r.OutputDigest != fmt.Sprintf("%x", sha256.Sum256(res.Output)) {
		t.Errorf("output digest = %s", r.OutputDigest)
	}
	if r.Arch != "x86" || r.BadBytes != "00" {
		t.Errorf("arch = %s, bad bytes = %s", r.Arch, r.BadBytes)
	}
	if r.InputLen != 5 || r.OutputLen != 7 || r.Iterations != 1 {
		t.Errorf("lengths = %d/%d, iterations = %d", r.InputLen, r.OutputLen, r.Iterations)
	}
	if diff := cmp.Diff(res.Rewrites, r.Rewrites); diff != "" {
		t.Errorf("rewrites mismatch (-want +got):\n%s", diff)
	}
	if r.Unresolved != nil {
		t.Errorf("unresolved = %v on a successful run", r.Unresolved)
	}
}

func TestNewFailure(t *testing.T) {
	input := []byte{0x00, 0xc0}
	uerr := &engine.UnresolvedError{
		Instructions: []engine.Unresolved{{Offset: 0, Op: "add"}},
	}
	r := NewFailure(input, arch.X86, arch.DefaultBadBytes(), uerr)

	if r.InputLen != 2 || r.OutputLen != 0 || r.OutputDigest != "" {
		t.Errorf("failure report carries output fields: %+v", r)
	}
	if diff := cmp.Diff([]uint64{0}, r.Unresolved); diff != "" {
		t.Errorf("unresolved mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := &Report{
		Digest:   "ab",
		Arch:     "arm64",
		BadBytes: "00,0a",
		InputLen: 4, OutputLen: 8, Iterations: 2,
		Rewrites: []engine.Rewrite{
			{Offset: 0, Op: "movz", Strategy: "arm64_wide_shift", OldLen: 4, NewLen: 8},
		},
	}
	b, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, &back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalOmitsEmpty(t *testing.T) {
	r := &Report{Digest: "ab", Arch: "x86", BadBytes: "00"}
	b, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"rewrites", "unresolved", "output_digest"} {
		if _, ok := m[key]; ok {
			t.Errorf("empty field %q serialized", key)
		}
	}
}
