package arm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"denull/internal/arch"
	"denull/internal/decoder"
	"denull/internal/insn"
	"denull/internal/strategy"
)

func decodeWord(t *testing.T, enc uint32) *insn.Inst {
	t.Helper()
	code := make([]byte, 4)
	binary.LittleEndian.PutUint32(code, enc)
	cfg, err := arch.Resolve(arch.ARM32)
	if err != nil {
		t.Fatal(err)
	}
	insts, err := decoder.DecodeAll(code, cfg)
	if err != nil {
		t.Fatalf("decode %#08x: %v", enc, err)
	}
	return &insts[0]
}

func rcNull() *strategy.RunContext {
	return strategy.NewRunContext(arch.ARM32, arch.DefaultBadBytes())
}

func generate(t *testing.T, s strategy.Strategy, i *insn.Inst) []uint32 {
	t.Helper()
	rc := rcNull()
	if !s.CanHandle(i, rc) {
		t.Fatalf("%s cannot handle %#08x", s.Name(), i.Enc)
	}
	res, err := s.Generate(i, rc)
	if err != nil {
		t.Fatalf("%s generate: %v", s.Name(), err)
	}
	if len(res.Bytes) > s.MaxSize(i) {
		t.Fatalf("%s emitted %d bytes over its bound %d", s.Name(), len(res.Bytes), s.MaxSize(i))
	}
	if !rc.Bad.CleanBytes(res.Bytes) {
		t.Fatalf("%s output %x carries a bad byte", s.Name(), res.Bytes)
	}
	if len(res.Bytes)%4 != 0 {
		t.Fatalf("%s output length %d is not word-aligned", s.Name(), len(res.Bytes))
	}
	words := make([]uint32, len(res.Bytes)/4)
	for k := range words {
		words[k] = binary.LittleEndian.Uint32(res.Bytes[4*k:])
	}
	return words
}

func TestImm12s(t *testing.T) {
	tests := []struct {
		val  uint32
		want int
	}{
		{val: 0x12, want: 2},       // rot 0 and rot 1
		{val: 0x1000, want: 4},     // rots 10 through 13
		{val: 0xFF000000, want: 1}, // only the byte-aligned window fits
		{val: 0x103, want: 0},      // bits too far apart for one byte window
	}
	for _, tt := range tests {
		if got := imm12s(tt.val); len(got) != tt.want {
			t.Errorf("imm12s(%#x) = %d encodings %x, want %d", tt.val, len(got), got, tt.want)
		}
	}
	// Every enumerated encoding must decode back to the value.
	for _, imm := range imm12s(0x1000) {
		if got := ror32(imm&0xFF, imm>>8&0xF*2); got != 0x1000 {
			t.Errorf("imm12 %#x decodes to %#x, want 0x1000", imm, got)
		}
	}
}

func TestZeroEor(t *testing.T) {
	// mov r5, #0 carries nulls in both the immediate and rd fields.
	i := decodeWord(t, 0xE3A05000)
	words := generate(t, zeroEor, i)
	if len(words) != 1 || words[0] != 0xE0255005 {
		t.Errorf("generated %#08x, want [E0255005] (eor r5, r5, r5)", words)
	}

	// eor r0, r0, r0 would itself encode nulls.
	i = decodeWord(t, 0xE3A00000)
	if zeroEor.CanHandle(i, rcNull()) {
		t.Error("arm_zero_eor accepted r0 under a null-free set")
	}
}

func TestMovAltRot(t *testing.T) {
	// mov r0, #0x12 with rotation 0 has a null second byte; rotation 1
	// encodes the same value cleanly.
	i := decodeWord(t, 0xE3A00012)
	words := generate(t, movAltRot, i)
	if len(words) != 1 || words[0] != 0xE3A00148 {
		t.Errorf("generated %#08x, want [E3A00148]", words)
	}

	// mov r1, #0 has no clean rotation: the immediate byte stays zero.
	i = decodeWord(t, 0xE3A01000)
	if movAltRot.CanHandle(i, rcNull()) {
		t.Error("arm_mov_alt_rot accepted a zero immediate")
	}
}

func TestMvnAltRot(t *testing.T) {
	i := decodeWord(t, 0xE3E00012) // mvn r0, #0x12
	words := generate(t, mvnAltRot, i)
	if len(words) != 1 || words[0] != 0xE3E00148 {
		t.Errorf("generated %#08x, want [E3E00148]", words)
	}
}

func TestMovOrrChunks(t *testing.T) {
	// mov r1, #0x3FC spans two byte-aligned chunks: 0xFC then 0x300.
	i := decodeWord(t, 0xE3A01FFF)
	words := generate(t, movOrrChunks, i)
	want := []uint32{0xE3A010FC, 0xE3811C03}
	if len(words) != len(want) {
		t.Fatalf("generated %#08x, want %#08x", words, want)
	}
	for k := range want {
		if words[k] != want[k] {
			t.Fatalf("generated %#08x, want %#08x", words, want)
		}
	}
}

func TestMovAddSplit(t *testing.T) {
	i := decodeWord(t, 0xE3A01012) // mov r1, #0x12
	words := generate(t, movAddSplit, i)
	if len(words) != 2 {
		t.Fatalf("generated %d words, want 2", len(words))
	}
	// mov r1, #imm followed by add r1, r1, #imm, summing to 0x12.
	if words[0]&0x0FFFF000 != 0x03A01000 {
		t.Errorf("first word %#08x is not mov r1, #imm", words[0])
	}
	if words[1]&0x0FFFF000 != 0x02811000 {
		t.Errorf("second word %#08x is not add r1, r1, #imm", words[1])
	}
	v1 := ror32(words[0]&0xFF, words[0]>>8&0xF*2)
	v2 := ror32(words[1]&0xFF, words[1]>>8&0xF*2)
	if v1+v2 != 0x12 {
		t.Errorf("%#x + %#x = %#x, want 0x12", v1, v2, v1+v2)
	}
}

func TestMovR0ZeroIsUnreachable(t *testing.T) {
	// mov r0, #0 defeats the whole catalog under a null-free set: every
	// alternative leaves a null in the rd or immediate fields. The
	// engine reports it as unresolved rather than looping.
	i := decodeWord(t, 0xE3A00000)
	rc := rcNull()
	for _, s := range []strategy.Strategy{zeroEor, movAltRot, mvnAltRot, movOrrChunks, movAddSplit} {
		if s.CanHandle(i, rc) {
			t.Errorf("%s claims to handle mov r0, #0", s.Name())
		}
	}
}

func TestConditionPreserved(t *testing.T) {
	// movne r5, #0 keeps its condition through the rewrite.
	i := decodeWord(t, 0x13A05000)
	words := generate(t, zeroEor, i)
	if words[0]>>28 != 0x1 {
		t.Errorf("generated %#08x, want condition NE", words[0])
	}
	if !bytes.Equal([]byte{0x05, 0x50, 0x25, 0x10}, word(words[0])) {
		t.Errorf("generated %#08x, want 10255005", words[0])
	}
}
