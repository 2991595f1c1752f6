// Package colorize provides syntax highlighting for method signatures and
// JS script snippets shown in the REPL.
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

// IsDisabled returns true if colors are disabled via environment.
func IsDisabled() bool {
	return os.Getenv("JAVABRIDGE_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

func getSignatureStyle() *chroma.Style {
	candidates := []string{"signature-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Signature colorizes a Java method/field signature string, e.g.
// "int parseInt(java.lang.String, int)".
func Signature(sig string) string {
	if IsDisabled() {
		return sig
	}

	lexer := lexers.Get("java")
	if lexer == nil {
		return sig
	}

	_ = SignatureDark
	style := getSignatureStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, sig)
	if err != nil {
		return sig
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return sig
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// Script colorizes a JS script snippet entered in the REPL.
func Script(src string) string {
	if IsDisabled() {
		return src
	}

	lexer := lexers.Get("javascript")
	if lexer == nil {
		return src
	}

	style := getSignatureStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, src)
	if err != nil {
		return src
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return src
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// Address formats an address (class/instance handle) in yellow.
func Address(addr uint64) string {
	if IsDisabled() {
		return fmt.Sprintf("0x%08x", addr)
	}
	return fmt.Sprintf("\033[38;2;255;200;0m0x%08x\033[0m", addr)
}

// ClassName formats a fully-qualified class name in cyan.
func ClassName(name string) string {
	if IsDisabled() {
		return name
	}
	return fmt.Sprintf("\033[38;2;135;206;235m%s\033[0m", name)
}

func wrap(rgb, s string) string {
	if IsDisabled() {
		return s
	}
	return "\033[38;2;" + rgb + "m" + s + "\033[0m"
}

// FuncName formats a method/dispatcher name in yellow, matching SigName.
func FuncName(s string) string { return wrap("255;200;0", s) }

// Detail formats secondary/label text (prompts, field labels) in gray.
func Detail(s string) string { return wrap("128;128;128", s) }

// Comment formats a trailing annotation in orange.
func Comment(s string) string { return wrap("255;128;0", s) }

// Error formats an error message in red.
func Error(s string) string { return wrap("255;80;80", s) }

// String formats a quoted string value in green.
func String(s string) string { return wrap("0;255;0", s) }

// Header formats a REPL banner glyph/title in light blue.
func Header(s string) string { return wrap("135;206;235", s) }

// Border formats a horizontal rule.
func Border(s string) string { return wrap("128;128;128", s) }
