package pairing

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Fotografía" -> "Fotografia").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Tokenize splits a file name into lowercase hint tokens.
// The extension is dropped and every rune that is not a letter or digit separates tokens,
// so "Kenya_Passport-2.PNG" yields [kenya passport 2].
func Tokenize(name string) []string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.ToLower(RemoveDiacritics(stem))
	return strings.FieldsFunc(stem, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
