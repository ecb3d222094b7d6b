package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"denull/internal/arch"
	"denull/internal/decoder"
	"denull/internal/insn"
	"denull/internal/strategy"
)

func nullFree() Options {
	return Options{Bad: arch.DefaultBadBytes()}
}

func TestTransformMovImmediate(t *testing.T) {
	// mov eax, 0x1000: the shift strategy cannot find a clean base and
	// negation reintroduces a null, so the complement strategy wins.
	code := []byte{0xb8, 0x00, 0x10, 0x00, 0x00}
	res, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0xb8, 0xff, 0xef, 0xff, 0xff, 0xf7, 0xd0}
	if !bytes.Equal(res.Output, want) {
		t.Errorf("output = %x, want %x", res.Output, want)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}

	wantRewrites := []Rewrite{
		{Offset: 0, Op: "mov", Strategy: "mov_not", OldLen: 5, NewLen: 7},
	}
	if diff := cmp.Diff(wantRewrites, res.Rewrites); diff != "" {
		t.Errorf("rewrites mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformCleanInputUnchanged(t *testing.T) {
	code := []byte{0x31, 0xc0, 0x50, 0x90}
	res, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Output, code) {
		t.Errorf("clean input was altered: %x", res.Output)
	}
	if len(res.Rewrites) != 0 {
		t.Errorf("clean input produced rewrites: %+v", res.Rewrites)
	}
}

func TestTransformEmptyInput(t *testing.T) {
	res, err := Transform(nil, arch.ARM64, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Output) != 0 || res.Iterations != 0 {
		t.Errorf("empty input gave %d bytes in %d iterations", len(res.Output), res.Iterations)
	}
}

func TestTransformUnsupportedArchitecture(t *testing.T) {
	_, err := Transform([]byte{0x90}, arch.Architecture(9), nullFree())
	if !errors.Is(err, arch.ErrUnsupportedArchitecture) {
		t.Errorf("error = %v, want ErrUnsupportedArchitecture", err)
	}
}

func TestTransformDecodeError(t *testing.T) {
	_, err := Transform([]byte{0x90, 0x66}, arch.X86, nullFree())
	var derr *decoder.DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *decoder.DecodeError", err)
	}
	if derr.Offset != 1 {
		t.Errorf("offset = %d, want 1", derr.Offset)
	}
}

func TestTransformUnresolved(t *testing.T) {
	// add al, al encodes with a null opcode byte and no strategy
	// rewrites adds.
	code := []byte{0x00, 0xc0}
	_, err := Transform(code, arch.X86, nullFree())
	var uerr *UnresolvedError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want *UnresolvedError", err)
	}
	if len(uerr.Instructions) != 1 || uerr.Instructions[0].Offset != 0 {
		t.Errorf("unresolved = %+v, want the add at offset 0", uerr.Instructions)
	}
	if got := uerr.Offsets(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Offsets() = %v, want [0]", got)
	}
}

func TestTransformBranchOverGrowingRewrite(t *testing.T) {
	// The jmp skips over a mov that grows by two bytes; the relocation
	// pass stretches the displacement accordingly.
	code := []byte{
		0xeb, 0x05, // jmp to the end of the buffer
		0xb8, 0x00, 0x10, 0x00, 0x00, // mov eax, 0x1000
	}
	res, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xeb, 0x07,
		0xb8, 0xff, 0xef, 0xff, 0xff, 0xf7, 0xd0,
	}
	if !bytes.Equal(res.Output, want) {
		t.Errorf("output = %x, want %x", res.Output, want)
	}
	// The jmp was re-encoded in place, not rewritten by a strategy.
	if len(res.Rewrites) != 1 || res.Rewrites[0].Op != "mov" {
		t.Errorf("rewrites = %+v, want only the mov", res.Rewrites)
	}
}

func TestTransformRIPRelativeBackward(t *testing.T) {
	// A backward rip-relative lea follows a mov that grows by two
	// bytes; the negative disp32 must survive relocation intact.
	code := []byte{
		0xb8, 0x00, 0x10, 0x00, 0x00, // mov eax, 0x1000
		0x48, 0x8d, 0x05, 0xf4, 0xff, 0xff, 0xff, // lea rax, [rip-12]
	}
	res, err := Transform(code, arch.X64, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xb8, 0xff, 0xef, 0xff, 0xff, 0xf7, 0xd0,
		0x48, 0x8d, 0x05, 0xf2, 0xff, 0xff, 0xff, // now [rip-14]
	}
	if !bytes.Equal(res.Output, want) {
		t.Errorf("output = %x, want %x", res.Output, want)
	}
}

// widenScenario builds a buffer where a growing rewrite pushes a
// backward short branch out of rel8 reach, forcing the widen path.
func widenScenario() []byte {
	code := []byte{0xb8, 0x00, 0x10, 0x00, 0x00} // mov eax, 0x1000
	for i := 0; i < 120; i++ {
		code = append(code, 0x90)
	}
	code = append(code, 0x74, 0x81) // je back to offset 0
	return code
}

func TestTransformBranchWiden(t *testing.T) {
	res, err := Transform(widenScenario(), arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}

	// mov grows to 7 bytes, so the je is at 127 and its rel8 reach ends
	// before offset 0; it must hold the near form with a negative
	// 32-bit displacement.
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	n := len(res.Output)
	wantTail := []byte{0x0f, 0x84, 0x7b, 0xff, 0xff, 0xff}
	if !bytes.Equal(res.Output[n-6:], wantTail) {
		t.Errorf("branch bytes = %x, want %x", res.Output[n-6:], wantTail)
	}
	if !arch.DefaultBadBytes().CleanBytes(res.Output) {
		t.Error("output still contains a bad byte")
	}

	var names []string
	for _, rw := range res.Rewrites {
		names = append(names, rw.Strategy)
	}
	want := []string{"mov_not", "branch_widen"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("strategies mismatch (-want +got):\n%s", diff)
	}
}

func TestTransformIterationBound(t *testing.T) {
	// The widen scenario needs two iterations; a bound of one leaves
	// the branch unresolved.
	opts := nullFree()
	opts.MaxIterations = 1
	_, err := Transform(widenScenario(), arch.X86, opts)
	var uerr *UnresolvedError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want *UnresolvedError", err)
	}
	if len(uerr.Instructions) != 1 || uerr.Instructions[0].Offset != 125 {
		t.Errorf("unresolved = %+v, want the branch at offset 125", uerr.Instructions)
	}
}

func TestTransformBranchNarrow(t *testing.T) {
	// A near jmp with a small forward displacement carries three null
	// bytes; the short form drops them.
	code := []byte{0xe9, 0x0a, 0x00, 0x00, 0x00}
	for i := 0; i < 10; i++ {
		code = append(code, 0x90)
	}
	res, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	if res.Output[0] != 0xeb || res.Output[1] != 0x0a {
		t.Errorf("output starts %x, want eb 0a", res.Output[:2])
	}
	if len(res.Output) != 12 {
		t.Errorf("output length = %d, want 12", len(res.Output))
	}
}

func TestTransformARM32(t *testing.T) {
	// mov r5, #0 then a branch to itself; the eor rewrite keeps the
	// length, so the branch word is re-encoded unchanged.
	code := []byte{
		0x00, 0x50, 0xa0, 0xe3, // mov r5, #0
		0xfe, 0xff, 0xff, 0xea, // b . (pc+8-8)
	}
	res, err := Transform(code, arch.ARM32, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x05, 0x50, 0x25, 0xe0, // eor r5, r5, r5
		0xfe, 0xff, 0xff, 0xea,
	}
	if !bytes.Equal(res.Output, want) {
		t.Errorf("output = %x, want %x", res.Output, want)
	}
}

func TestTransformARM32Unresolvable(t *testing.T) {
	// mov r0, #0 defeats every ARM32 strategy under a null-free set.
	code := []byte{0x00, 0x00, 0xa0, 0xe3}
	_, err := Transform(code, arch.ARM32, nullFree())
	var uerr *UnresolvedError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want *UnresolvedError", err)
	}
}

func TestTransformARM64(t *testing.T) {
	code := []byte{
		0x08, 0x00, 0x80, 0x52, // movz w8, #0
		0xff, 0xff, 0xff, 0x17, // b back to offset 0
	}
	res, err := Transform(code, arch.ARM64, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x08, 0x01, 0x08, 0x4a, // eor w8, w8, w8
		0xff, 0xff, 0xff, 0x17,
	}
	if !bytes.Equal(res.Output, want) {
		t.Errorf("output = %x, want %x", res.Output, want)
	}
}

func TestTransformDeterministic(t *testing.T) {
	code := widenScenario()
	first, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Transform(code, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("two runs over the same input diverge (-first +second):\n%s", diff)
	}
}

func TestTransformIdempotent(t *testing.T) {
	res, err := Transform(widenScenario(), arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	again, err := Transform(res.Output, arch.X86, nullFree())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again.Output, res.Output) {
		t.Error("a clean buffer was altered by a second run")
	}
	if len(again.Rewrites) != 0 {
		t.Errorf("second run produced rewrites: %+v", again.Rewrites)
	}
}

func TestSizeContractViolation(t *testing.T) {
	lying := &strategy.Def{
		StratName: "lying",
		Prio:      100,
		Targets:   []arch.Architecture{arch.X86},
		Handle:    func(*insn.Inst, *strategy.RunContext) bool { return true },
		Size:      func(*insn.Inst) int { return 1 },
		Gen: func(*insn.Inst, *strategy.RunContext) (strategy.Result, error) {
			return strategy.Result{Bytes: []byte{0x90, 0x90}}, nil
		},
	}
	reg := strategy.NewRegistry()
	reg.Register(lying)

	opts := nullFree()
	opts.Registry = reg
	_, err := Transform([]byte{0xb8, 0x00, 0x10, 0x00, 0x00}, arch.X86, opts)
	var verr *SizeContractViolation
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *SizeContractViolation", err)
	}
	if verr.Strategy != "lying" || verr.Declared != 1 || verr.Actual != 2 {
		t.Errorf("violation = %+v", verr)
	}
}

func TestScorerBiasesEqualPriority(t *testing.T) {
	// Two fake strategies at the same priority emit different clean
	// encodings; the scorer decides which one wins.
	mk := func(name string, b byte) *strategy.Def {
		return &strategy.Def{
			StratName: name,
			Prio:      50,
			Targets:   []arch.Architecture{arch.X86},
			Handle:    func(*insn.Inst, *strategy.RunContext) bool { return true },
			Size:      func(*insn.Inst) int { return 1 },
			Gen: func(*insn.Inst, *strategy.RunContext) (strategy.Result, error) {
				return strategy.Result{Bytes: []byte{b}}, nil
			},
		}
	}
	reg := strategy.NewRegistry()
	reg.Register(mk("first", 0x90))  // nop
	reg.Register(mk("second", 0xf8)) // clc

	code := []byte{0xb8, 0x00, 0x10, 0x00, 0x00}

	opts := nullFree()
	opts.Registry = reg
	res, err := Transform(code, arch.X86, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rewrites[0].Strategy != "first" {
		t.Errorf("without a scorer registration order should win, got %s", res.Rewrites[0].Strategy)
	}

	opts.Scorer = scorerFunc(func(_ *insn.Inst, name string) float64 {
		if name == "second" {
			return 1
		}
		return 0
	})
	res, err = Transform(code, arch.X86, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rewrites[0].Strategy != "second" {
		t.Errorf("scorer preference ignored, got %s", res.Rewrites[0].Strategy)
	}
}

type scorerFunc func(*insn.Inst, string) float64

func (f scorerFunc) Score(i *insn.Inst, name string) float64 { return f(i, name) }
