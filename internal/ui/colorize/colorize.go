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

// Disabled reports whether OPDECODE_NO_COLOR or NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("OPDECODE_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// lexerNames lists chroma lexers to try per architecture family.
func lexerNames(arch, syntax string) []string {
	switch {
	case strings.HasPrefix(arch, "x86") && syntax == "intel":
		return []string{"nasm", "gas"}
	case strings.HasPrefix(arch, "arm"):
		return []string{"armasm", "gas"}
	default:
		return []string{"gas", "nasm"}
	}
}

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer(arch, syntax string) chroma.Lexer {
	for _, name := range lexerNames(arch, syntax) {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"opdecode-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Colorizer highlights assembly text for one architecture and syntax.
// The zero value and a nil *Colorizer return text unchanged.
type Colorizer struct {
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter chroma.Formatter
}

// New returns a Colorizer, or nil when colour is disabled or no lexer fits.
func New(arch, syntax string, enabled bool) *Colorizer {
	if !enabled || Disabled() {
		return nil
	}
	lexer := getAssemblyLexer(arch, syntax)
	if lexer == nil {
		return nil
	}
	return &Colorizer{
		lexer:     lexer,
		style:     getDisasmStyle(),
		formatter: getTerminalFormatter(),
	}
}

// Assembly highlights a block of assembly text.
func (c *Colorizer) Assembly(code string) (string, error) {
	if c == nil || c.lexer == nil {
		return code, nil
	}
	iterator, err := c.lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := c.formatter.Format(&buf, c.style, iterator); err != nil {
		return code, err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// InstructionLine colours one listing line: the address in gray, the raw
// bytes dimmed and the assembly through chroma.
func (c *Colorizer) InstructionLine(addr, raw, asm string) string {
	if c == nil {
		return fmt.Sprintf("%s %s %s", addr, raw, asm)
	}
	colored, err := c.Assembly(asm)
	if err != nil {
		colored = asm
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m \033[38;2;124;156;157m%s\033[0m %s", addr, raw, colored)
}

// Label colours a symbol label line such as "main:".
func (c *Colorizer) Label(label string) string {
	if c == nil {
		return label
	}
	return fmt.Sprintf("\033[38;2;255;215;0m%s\033[0m", label)
}
