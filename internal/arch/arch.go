// Package arch maps logical architecture identifiers to decoder
// configuration and architecture-specific encoding rules.
package arch

import "fmt"

// Architecture identifies one of the supported instruction sets.
type Architecture int

const (
	X86 Architecture = iota // 32-bit x86
	X64                     // 64-bit x86
	ARM32
	ARM64
)

// ErrUnsupportedArchitecture is returned for any architecture outside
// the four supported ones, or for an unrecognized name.
var ErrUnsupportedArchitecture = fmt.Errorf("unsupported architecture")

func (a Architecture) String() string {
	switch a {
	case X86:
		return "x86"
	case X64:
		return "x64"
	case ARM32:
		return "arm"
	case ARM64:
		return "arm64"
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// Parse resolves a user-facing architecture name. Accepted spellings
// mirror the command line: x86/i386, x64/x86_64/amd64, arm/arm32, arm64/aarch64.
func Parse(name string) (Architecture, error) {
	switch name {
	case "x86", "i386", "386":
		return X86, nil
	case "x64", "x86_64", "amd64":
		return X64, nil
	case "arm", "arm32":
		return ARM32, nil
	case "arm64", "aarch64":
		return ARM64, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedArchitecture, name)
}

// DecoderConfig carries everything the decoder glue needs to walk a raw
// byte buffer for one architecture.
type DecoderConfig struct {
	Arch Architecture

	// BitMode is the x86 decode mode (32 or 64); zero for ARM targets.
	BitMode int

	// InstAlign is the instruction alignment in bytes. Fixed-width
	// targets (ARM32, ARM64) decode in 4-byte units; x86 is unaligned.
	InstAlign int

	// WordSize is the natural register width in bytes.
	WordSize int
}

// FixedWidth reports whether every instruction occupies exactly
// InstAlign bytes.
func (c DecoderConfig) FixedWidth() bool {
	return c.InstAlign > 1
}

// Resolve returns the decoder configuration for an architecture.
// It is total over the four supported architectures and has no side
// effects; anything else fails with ErrUnsupportedArchitecture.
func Resolve(a Architecture) (DecoderConfig, error) {
	switch a {
	case X86:
		return DecoderConfig{Arch: a, BitMode: 32, InstAlign: 1, WordSize: 4}, nil
	case X64:
		return DecoderConfig{Arch: a, BitMode: 64, InstAlign: 1, WordSize: 8}, nil
	case ARM32:
		return DecoderConfig{Arch: a, InstAlign: 4, WordSize: 4}, nil
	case ARM64:
		return DecoderConfig{Arch: a, InstAlign: 4, WordSize: 8}, nil
	}
	return DecoderConfig{}, fmt.Errorf("%w: %v", ErrUnsupportedArchitecture, a)
}
