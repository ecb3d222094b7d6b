// Package colorize renders disassembly listings with terminal colors.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"denull/internal/arch"
)

// assemblyLexer picks a lexer matching the architecture's syntax, with
// fallbacks when a lexer is missing from the build.
func assemblyLexer(a arch.Architecture) chroma.Lexer {
	var candidates []string
	switch a {
	case arch.ARM32, arch.ARM64:
		candidates = []string{"armasm", "gas", "nasm"}
	default:
		candidates = []string{"nasm", "gas", "armasm"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func disasmStyle() *chroma.Style {
	_ = DisasmDark // force registration
	for _, name := range []string{"disasm-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Disabled reports whether coloring is suppressed via DENULL_NO_COLOR.
func Disabled() bool {
	return os.Getenv("DENULL_NO_COLOR") != ""
}

// Listing colorizes a whole disassembly listing for the architecture.
func Listing(code string, a arch.Architecture) (string, error) {
	if Disabled() {
		return code, nil
	}
	var out strings.Builder
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		out.WriteString(Line(line, a))
		out.WriteByte('\n')
	}
	return out.String(), nil
}

// Line colorizes a single listing line, keeping the address column the
// same muted gray regardless of lexer.
func Line(line string, a arch.Architecture) string {
	if Disabled() {
		return line
	}
	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 || !isHex(parts[0]) {
		return chromaLine(line, a)
	}
	addr := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", parts[0])
	return fmt.Sprintf("%s %s", addr, chromaLine(parts[1], a))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F') {
			return false
		}
	}
	return true
}

func chromaLine(line string, a arch.Architecture) string {
	lexer := assemblyLexer(a)
	if lexer == nil {
		return line
	}
	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, disasmStyle(), iterator); err != nil {
		return line
	}
	return strings.TrimRight(buf.String(), "\n")
}
