package nutrition

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a free-form label to its catalog key form: accents
// removed, lowercase, words joined by "_", plurals folded to singular.
// Letters and digits of any script are kept. Only the combining
// diacritics block is stripped, so kana voicing marks survive.
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(label string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isDiacritic)), norm.NFC),
		label,
	)
	if err != nil {
		folded = label
	}
	folded = strings.ToLower(folded)

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, tok := range tokens {
		tokens[i] = singular(tok)
	}
	return strings.Join(tokens, "_")
}

// isDiacritic reports combining marks from U+0300..U+036F
func isDiacritic(r rune) bool {
	return r >= 0x0300 && r <= 0x036f
}

// Tokens splits a normalized label into its words
func Tokens(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, "_")
}

// singular folds a token until no rule applies
func singular(tok string) string {
	for {
		next := foldOnce(tok)
		if next == tok {
			return tok
		}
		tok = next
	}
}

func foldOnce(tok string) string {
	if len(tok) <= 3 {
		return tok
	}
	switch {
	case strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case strings.HasSuffix(tok, "sses"),
		strings.HasSuffix(tok, "xes"),
		strings.HasSuffix(tok, "zes"),
		strings.HasSuffix(tok, "ches"),
		strings.HasSuffix(tok, "shes"),
		strings.HasSuffix(tok, "oes"):
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "ss"),
		strings.HasSuffix(tok, "us"),
		strings.HasSuffix(tok, "is"):
		return tok
	case strings.HasSuffix(tok, "s"):
		return tok[:len(tok)-1]
	}
	return tok
}
