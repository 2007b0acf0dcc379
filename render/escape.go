package render

import (
	"strings"
)

// Separator closes every post and comment block
const Separator = "---"

// reservedTokens pairs each structural token with the placeholder that
// stands in for it inside user text. Order matters: brackets first, then
// the separator.
var reservedTokens = []struct {
	token       string
	placeholder string
}{
	{"[", "\u27e6"},               // ⟦
	{"]", "\u27e7"},               // ⟧
	{"---", "\u2013\u2013\u2013"}, // –––
}

// Escape replaces the structural tokens "[", "]" and "---" in s with their
// placeholders. Placeholders already present in s are removed first, so
// that any placeholder in the output always stands for an escaped token.
// That removal loses information.
func Escape(s string) string {
	for _, rt := range reservedTokens {
		s = strings.ReplaceAll(s, rt.placeholder, "")
		s = strings.ReplaceAll(s, rt.token, rt.placeholder)
	}
	return s
}
