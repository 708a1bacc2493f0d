// Package colorize highlights disassembly listings for terminal output
// using chroma.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colored output is allowed by the environment.
func Enabled() bool {
	return os.Getenv("BLOCKGRAPH_NO_COLOR") == "" && os.Getenv("NO_COLOR") == ""
}

// lexerFor returns an assembly lexer for the architecture with fallbacks.
func lexerFor(arch string) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if arch == "arm64" {
		candidates = []string{"armasm", "gas", "nasm"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// disasmStyle returns the disassembly style with fallbacks.
func disasmStyle() *chroma.Style {
	for _, name := range []string{DisasmDark.Name, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// terminalFormatter prefers true color, then 256 colors.
func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Code highlights a multi-line assembly listing.
func Code(code, arch string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := lexerFor(arch)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, disasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Line colorizes one listing line. Block headers ("0x1000:") are drawn in
// the label color; instruction lines go through the lexer.
func Line(line, arch string) string {
	if !Enabled() {
		return line
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return line
	}
	if strings.HasPrefix(trimmed, "0x") && strings.HasSuffix(trimmed, ":") {
		return fmt.Sprintf("\033[38;2;255;215;0m%s\033[0m", line)
	}

	indent := line[:len(line)-len(strings.TrimLeft(line, " "))]
	out, err := Code(trimmed, arch)
	if err != nil {
		return line
	}
	return indent + strings.ReplaceAll(out, "\n", "")
}

// Address draws an address in gray.
func Address(addr uint64) string {
	s := fmt.Sprintf("0x%08x", addr)
	if !Enabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", s)
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}

// VisibleWidth counts the characters of s that are not part of an escape
// sequence.
func VisibleWidth(s string) int {
	return len([]rune(StripANSI(s)))
}
