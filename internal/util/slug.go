package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Slugify lower-cases s, strips accents, keeps letters and digits and joins
// the words with single dashes, so "San José" and "San Jose" share a slug.
// The result is cut at maxLen characters, on a word boundary when possible;
// maxLen <= 0 means no limit.
func Slugify(s string, maxLen int) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFD.String(strings.ToLower(strings.TrimSpace(s))) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	// Recompose what NFD split apart but kept, such as Hangul.
	slug := norm.NFC.String(strings.TrimRight(b.String(), "-"))
	if maxLen > 0 && utf8.RuneCountInString(slug) > maxLen {
		cut := string([]rune(slug)[:maxLen])
		if i := strings.LastIndexByte(cut, '-'); i >= 0 && utf8.RuneCountInString(cut[:i]) > maxLen/2 {
			cut = cut[:i]
		}
		slug = strings.TrimRight(cut, "-")
	}
	return slug
}
