package strings

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var leadingArticles = []string{"the ", "a ", "an ", "la ", "le ", "el ", "les ", "los "}

// StripAccents removes combining marks after canonical decomposition, so
// "Café Müller" becomes "Cafe Muller".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// StripLeadingArticle drops a single leading article from an already
// lowercased string.
func StripLeadingArticle(s string) string {
	for _, article := range leadingArticles {
		if strings.HasPrefix(s, article) && len(s) > len(article) {
			return s[len(article):]
		}
	}
	return s
}

// FoldName normalizes a display name for comparison: accents removed,
// lowercased, punctuation turned into spaces, "&" spelled out, a leading
// article dropped and whitespace collapsed.
//
// Example:
//
//	FoldName("The  Café-Bar & Grill")
//	// Returns: "cafe bar and grill"
func FoldName(name string) string {
	s := strings.ToLower(StripAccents(strings.TrimSpace(name)))
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return StripLeadingArticle(s)
}
