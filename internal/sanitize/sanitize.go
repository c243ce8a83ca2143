// Package sanitize holds the deterministic title normalization used for
// cross-provider fuzzy equality, plus link and artwork URL normalization.
// Everything here is pure; provider lookups and the aggregator call in.
package sanitize

import (
	"regexp"
	"strconv"
	"strings"
)

// Sanitized titles are for equality checks only, never for display.

const decorWords = `(?:single(?:\s+version)?|ep|radio\s+version|remaster(?:ed)?(?:\s+\d{4})?|\d{4}\s+remaster(?:ed)?|deluxe(?:\s+(?:edition|version))?|expanded(?:\s+edition)?|bonus\s+track\s+version)`

var (
	decorParenRe = regexp.MustCompile(`(?i)\s*[(\[]\s*` + decorWords + `\s*[)\]]\s*$`)
	decorDashRe  = regexp.MustCompile(`(?i)\s+[-–—]\s*` + decorWords + `\s*$`)

	radioParenRe = regexp.MustCompile(`(?i)\s*[(\[]\s*radio\s+edit\s*[)\]]\s*$`)
	radioDashRe  = regexp.MustCompile(`(?i)\s+[-–—]\s*radio\s+edit\s*$`)
	radioBareRe  = regexp.MustCompile(`(?i)\s+radio\s+edit\s*$`)

	quoteReplacer = strings.NewReplacer(
		"‘", "", "’", "", // curly single quotes
		"“", "", "”", "", // curly double quotes
		"'", "", `"`, "",
	)
)

// SongTitle normalizes a track title. Edition decorations are stripped; a
// trailing Radio Edit marker is stripped but retained as a plain " Radio
// Edit" tag so radio cuts do not unify with the original recording.
func SongTitle(title string) string {
	t := quoteReplacer.Replace(strings.TrimSpace(title))
	radio := false
	for {
		switch {
		case radioParenRe.MatchString(t):
			t = strings.TrimSpace(radioParenRe.ReplaceAllString(t, ""))
			radio = true
		case radioDashRe.MatchString(t):
			t = strings.TrimSpace(radioDashRe.ReplaceAllString(t, ""))
			radio = true
		case radioBareRe.MatchString(t):
			t = strings.TrimSpace(radioBareRe.ReplaceAllString(t, ""))
			radio = true
		case decorParenRe.MatchString(t):
			t = strings.TrimSpace(decorParenRe.ReplaceAllString(t, ""))
		case decorDashRe.MatchString(t):
			t = strings.TrimSpace(decorDashRe.ReplaceAllString(t, ""))
		default:
			if radio && t != "" {
				return t + " Radio Edit"
			}
			return t
		}
	}
}

// AlbumTitle normalizes an album title. Single/EP/edition decorations are
// stripped entirely so regional and edition variants unify.
func AlbumTitle(title string) string {
	t := quoteReplacer.Replace(strings.TrimSpace(title))
	for {
		switch {
		case radioParenRe.MatchString(t):
			t = strings.TrimSpace(radioParenRe.ReplaceAllString(t, ""))
		case radioDashRe.MatchString(t):
			t = strings.TrimSpace(radioDashRe.ReplaceAllString(t, ""))
		case decorParenRe.MatchString(t):
			t = strings.TrimSpace(decorParenRe.ReplaceAllString(t, ""))
		case decorDashRe.MatchString(t):
			t = strings.TrimSpace(decorDashRe.ReplaceAllString(t, ""))
		default:
			return t
		}
	}
}

// EqualSongTitles compares two track titles after sanitization,
// case-insensitively.
func EqualSongTitles(a, b string) bool {
	return strings.EqualFold(SongTitle(a), SongTitle(b))
}

// EqualAlbumTitles compares two album titles after sanitization,
// case-insensitively.
func EqualAlbumTitles(a, b string) bool {
	return strings.EqualFold(AlbumTitle(a), AlbumTitle(b))
}

// Link canonicalizes an input link for use as a cache index key: trimmed,
// scheme stripped, trailing slash stripped, lowercased.
func Link(link string) string {
	l := strings.TrimSpace(link)
	l = strings.TrimSuffix(l, "/")
	lower := strings.ToLower(l)
	switch {
	case strings.HasPrefix(lower, "https://"):
		l = l[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		l = l[len("http://"):]
	}
	return strings.ToLower(l)
}

// ArtURL resolves {w}/{h} placeholders some providers embed in artwork URL
// templates. URLs without placeholders pass through unchanged.
func ArtURL(tmpl string, width, height int) string {
	out := strings.ReplaceAll(tmpl, "{w}", strconv.Itoa(width))
	return strings.ReplaceAll(out, "{h}", strconv.Itoa(height))
}
