// Package textnorm folds free text for comparison across scoring and signal
// detection.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize folds case, strips accents and collapses whitespace and
// punctuation so "São Paulo " and "sao paulo" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = folder.String(out)
	out = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '.', r == '\'':
			return -1
		default:
			return ' '
		}
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// Words returns the normalized words of s.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}
