package normalize

import (
	"strings"
	"unicode"
)

// Name collapses whitespace runs, trims, and title-cases every word.
// Letters following a non-letter are upper-cased, all others lower-cased,
// so "MARY-ANN" becomes "Mary-Ann" and "о'коннор" becomes "О'Коннор".
// Returns ok=false when nothing but whitespace remains.
func Name(raw string) (string, bool) {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if collapsed == "" {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(collapsed))
	prevLetter := false
	for _, r := range collapsed {
		if unicode.IsLetter(r) {
			if prevLetter {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToTitle(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		b.WriteRune(r)
	}
	return b.String(), true
}
