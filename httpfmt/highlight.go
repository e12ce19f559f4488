package httpfmt

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const highlightStyle = "monokai"

// highlight colours src with the named chroma lexer for a 256-colour
// terminal. The http lexer hands the body to the lexer matching its
// content-type header. src is returned unchanged when no lexer applies.
func highlight(lexerName, src string) string {
	lexer := lexers.Get(lexerName)
	if lexer == nil {
		return src
	}
	it, err := lexer.Tokenise(&chroma.TokeniseOptions{State: "root"}, src)
	if err != nil {
		return src
	}
	var b strings.Builder
	if err := formatters.TTY256.Format(&b, styles.Get(highlightStyle), it); err != nil {
		return src
	}
	out := b.String()
	// Some lexers force a trailing newline.
	if !strings.HasSuffix(src, "\n") {
		out = strings.TrimSuffix(out, "\n")
	}
	return out
}
