package arch

import (
	"fmt"
	"strconv"
	"strings"
)

// BadBytes is the set of byte values forbidden anywhere in the output.
type BadBytes [256]bool

// DefaultBadBytes forbids only the null byte.
func DefaultBadBytes() BadBytes {
	var s BadBytes
	s[0x00] = true
	return s
}

// ParseBadBytes parses a comma-separated list of hex byte values,
// e.g. "00,0a,0d". An empty string yields the default set.
func ParseBadBytes(spec string) (BadBytes, error) {
	if strings.TrimSpace(spec) == "" {
		return DefaultBadBytes(), nil
	}
	var s BadBytes
	any := false
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "0x")
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return BadBytes{}, fmt.Errorf("bad byte value %q: %w", part, err)
		}
		s[byte(v)] = true
		any = true
	}
	if !any {
		return BadBytes{}, fmt.Errorf("empty bad-byte set %q", spec)
	}
	return s, nil
}

// Contains reports whether b is forbidden.
func (s BadBytes) Contains(b byte) bool { return s[b] }

// CleanBytes reports whether no byte of p is forbidden.
func (s BadBytes) CleanBytes(p []byte) bool {
	for _, b := range p {
		if s[b] {
			return false
		}
	}
	return true
}

// CleanWord reports whether none of the low n bytes of v is forbidden.
func (s BadBytes) CleanWord(v uint64, n int) bool {
	for i := 0; i < n; i++ {
		if s[byte(v>>(8*i))] {
			return false
		}
	}
	return true
}

// List returns the members in ascending order, for diagnostics.
func (s BadBytes) List() []byte {
	var out []byte
	for i := 0; i < 256; i++ {
		if s[i] {
			out = append(out, byte(i))
		}
	}
	return out
}

func (s BadBytes) String() string {
	parts := make([]string, 0, 4)
	for _, b := range s.List() {
		parts = append(parts, fmt.Sprintf("%02x", b))
	}
	return strings.Join(parts, ",")
}
