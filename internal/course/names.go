package course

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims surrounding whitespace, collapses internal whitespace
// runs to one space and applies NFC so that visually identical names
// authored on different systems compare equal.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Slugify derives a lesson slug from a lesson token.
//
// The token is lowercased, underscores become dashes, characters other than
// letters, digits, spaces and dashes are dropped, whitespace runs become a
// single dash, dash runs collapse, and leading/trailing dashes are trimmed:
//
//	Slugify("cbse_maths_10_012") == "cbse-maths-10-012"
func Slugify(token string) string {
	token = strings.ToLower(norm.NFC.String(token))

	var b strings.Builder
	b.Grow(len(token))
	lastDash := true // suppresses leading dashes
	for _, r := range token {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
