// Package normalize builds comparison keys for song titles and artists.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Options tunes normalization.
type Options struct {
	CaseSensitive bool
}

// Pair is a normalized (title, artist) key.
type Pair struct {
	Title  string
	Artist string
}

// Normalize folds s into its comparison form: accents are removed, letters are
// lowercased unless opts.CaseSensitive, punctuation and symbols are dropped
// and runs of whitespace collapse to one space.
func Normalize(s string, opts Options) string {
	if s == "" {
		return ""
	}

	// transform.Chain keeps state, so each call builds its own.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			if !opts.CaseSensitive {
				r = unicode.ToLower(r)
			}
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Key normalizes a title and artist with the same options.
func Key(title, artist string, opts Options) Pair {
	return Pair{Title: Normalize(title, opts), Artist: Normalize(artist, opts)}
}

// Matcher compares two songs per a duplicate rule's strictness flags.
// When neither field is selected both are compared.
type Matcher struct {
	Title  bool
	Artist bool
}

// Match reports whether the candidate and existing keys name the same song.
func (m Matcher) Match(candidate, existing Pair) bool {
	title, artist := m.Title, m.Artist
	if !title && !artist {
		title, artist = true, true
	}
	if title && candidate.Title != existing.Title {
		return false
	}
	if artist && candidate.Artist != existing.Artist {
		return false
	}
	return true
}
