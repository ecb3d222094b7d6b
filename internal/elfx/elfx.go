// Package elfx extracts code payloads from ELF objects, so assembler
// output can be fed to the rewriter without a separate objcopy step.
package elfx

import (
	"bytes"
	"debug/elf"
	"fmt"

	"denull/internal/arch"
)

var magic = []byte{0x7f, 'E', 'L', 'F'}

// IsELF reports whether b starts with the ELF magic.
func IsELF(b []byte) bool { return bytes.HasPrefix(b, magic) }

// Payload is the code extracted from an ELF object.
type Payload struct {
	Code    []byte
	Section string // section or segment the code came from

	// Arch is derived from the ELF header machine field; ArchOK is
	// false for machines the rewriter does not target.
	Arch   arch.Architecture
	ArchOK bool
}

// Extract opens path as an ELF object and returns its .text contents.
// Relocatable objects straight out of an assembler are the intended
// input; for linked binaries without section headers the first
// executable load segment serves as fallback.
func Extract(path string) (*Payload, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	p := &Payload{}
	p.Arch, p.ArchOK = machineArch(f.Machine)

	if s := f.Section(".text"); s != nil && s.Size > 0 && s.Type != elf.SHT_NOBITS {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read .text: %w", err)
		}
		p.Code, p.Section = data, ".text"
		return p, nil
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("read load segment: %w", err)
		}
		p.Code, p.Section = data, "LOAD(exec)"
		return p, nil
	}
	return nil, fmt.Errorf("%s: no .text section or executable segment", path)
}

func machineArch(m elf.Machine) (arch.Architecture, bool) {
	switch m {
	case elf.EM_386:
		return arch.X86, true
	case elf.EM_X86_64:
		return arch.X64, true
	case elf.EM_ARM:
		return arch.ARM32, true
	case elf.EM_AARCH64:
		return arch.ARM64, true
	}
	return arch.X86, false
}
