// Package colorize: custom chroma style for method-signature highlighting.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

func init() {
	_ = SignatureDark
}

// Signature theme colors.
const (
	SigReturnType = "#87CEEB" // light blue for return/parameter types
	SigName       = "#FFC800" // yellow for method/field names
	SigNumber     = "#FF80C0" // pink for numeric literals
	SigString     = "#00FF00" // green for string literals
	SigComment    = "#808080" // gray for comments
)

// SignatureDark is a custom style for signature/script highlighting.
var SignatureDark = styles.Register(chroma.MustNewStyle("signature-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:#000000",
	chroma.Comment:    SigComment,

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordType:    SigReturnType,
	chroma.Name:           SigReturnType,
	chroma.NameFunction:   SigName,
	chroma.NameClass:      SigReturnType,
	chroma.NameBuiltin:    SigReturnType,
	chroma.NameAttribute:  SigName,

	chroma.LiteralNumber:        SigNumber,
	chroma.LiteralNumberInteger: SigNumber,
	chroma.LiteralNumberFloat:   SigNumber,

	chroma.String: SigString,

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",
}))
