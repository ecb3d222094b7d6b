package arm64

import (
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
	cfg, err := arch.Resolve(arch.ARM64)
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
	return strategy.NewRunContext(arch.ARM64, arch.DefaultBadBytes())
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
	words := make([]uint32, len(res.Bytes)/4)
	for k := range words {
		words[k] = binary.LittleEndian.Uint32(res.Bytes[4*k:])
	}
	return words
}

func TestMovzUnpack(t *testing.T) {
	// movz x3, #0x1234, lsl #16
	i := decodeWord(t, 0xD2A24683)
	sf, hw, imm16, rd, ok := movz(i)
	if !ok {
		t.Fatal("movz matcher rejected a movz word")
	}
	if sf != 1 || hw != 1 || imm16 != 0x1234 || rd != 3 {
		t.Errorf("unpacked sf %d hw %d imm16 %#x rd %d", sf, hw, imm16, rd)
	}

	// add x1, x2, #4 is not a wide move.
	i = decodeWord(t, 0x91001041)
	if _, _, _, _, ok := movz(i); ok {
		t.Error("movz matcher accepted an add")
	}
}

func TestZeroEor(t *testing.T) {
	// movz w8, #0: registers at or above 8 spread non-null bits across
	// the eor encoding.
	i := decodeWord(t, 0x52800008)
	words := generate(t, zeroEor, i)
	if len(words) != 1 || words[0] != 0x4A080108 {
		t.Errorf("generated %#08x, want [4A080108] (eor w8, w8, w8)", words)
	}

	// For w5 the eor word keeps a null byte.
	i = decodeWord(t, 0x52800005)
	if zeroEor.CanHandle(i, rcNull()) {
		t.Error("a64_zero_eor accepted a register whose eor word is unclean")
	}

	// 64-bit form sets sf.
	i = decodeWord(t, 0xD2800008)
	words = generate(t, zeroEor, i)
	if words[0] != 0xCA080108 {
		t.Errorf("generated %#08x, want CA080108 (eor x8, x8, x8)", words[0])
	}
}

func TestAddSplit(t *testing.T) {
	// movz w8, #0x100
	i := decodeWord(t, 0x52802008)
	words := generate(t, addSplit, i)
	if len(words) != 2 {
		t.Fatalf("generated %d words, want 2", len(words))
	}
	sf, hw, base, rd, ok := movzFields(words[0])
	if !ok || sf != 0 || hw != 0 || rd != 8 {
		t.Fatalf("first word %#08x is not movz w8", words[0])
	}
	if words[1]&0xFF0003FF != 0x11000000|8<<5|8 {
		t.Fatalf("second word %#08x is not add w8, w8, #imm", words[1])
	}
	b := words[1] >> 10 & 0xFFF
	if base+b != 0x100 {
		t.Errorf("%#x + %#x = %#x, want 0x100", base, b, base+b)
	}
}

func TestSubSplit(t *testing.T) {
	i := decodeWord(t, 0x52802008) // movz w8, #0x100
	words := generate(t, subSplit, i)
	if len(words) != 2 {
		t.Fatalf("generated %d words, want 2", len(words))
	}
	_, _, base, _, ok := movzFields(words[0])
	if !ok {
		t.Fatalf("first word %#08x is not a movz", words[0])
	}
	if words[1]&0xFF0003FF != 0x51000000|8<<5|8 {
		t.Fatalf("second word %#08x is not sub w8, w8, #imm", words[1])
	}
	b := words[1] >> 10 & 0xFFF
	if base-b != 0x100 {
		t.Errorf("%#x - %#x = %#x, want 0x100", base, b, base-b)
	}
}

func TestWideShift(t *testing.T) {
	// movz w9, #0x11, lsl #16 becomes movz w9, #0x11 then lsl w9, w9, #16.
	i := decodeWord(t, 0x52A00229)
	words := generate(t, wideShift, i)
	want := []uint32{0x52800229, 0x53103D29}
	if len(words) != 2 || words[0] != want[0] || words[1] != want[1] {
		t.Errorf("generated %#08x, want %#08x", words, want)
	}

	// An unshifted movz has nothing to gain here.
	i = decodeWord(t, 0x52800229)
	if wideShift.CanHandle(i, rcNull()) {
		t.Error("a64_wide_shift accepted an unshifted movz")
	}
}

// movzFields unpacks a raw movz word without an Inst wrapper.
func movzFields(enc uint32) (sf, hw, imm16, rd uint32, ok bool) {
	if enc&0x7F800000 != 0x52800000 {
		return 0, 0, 0, 0, false
	}
	return enc >> 31, enc >> 21 & 0x3, enc >> 5 & 0xFFFF, enc & 0x1F, true
}
