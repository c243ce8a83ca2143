package services

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

// ParsedLink is the outcome of recognizing a provider URL: the entity kind,
// the provider-native key, and the market region when the URL carries one.
type ParsedLink struct {
	Kind   models.EntityKind
	Key    string
	Market string
}

// LinkParser recognizes one provider's URL shapes. Parse is total: it
// returns ok=false for any input it does not own and never panics on
// malformed input.
type LinkParser interface {
	Provider() models.ProviderID
	Parse(link string) (ParsedLink, bool)
	// ShortHost reports whether the link uses a redirect shortener host that
	// must be expanded before parsing. Providers without a shortener always
	// return false.
	ShortHost(link string) bool
}

// linkRe is deliberately permissive; anything that fails provider parsing is
// discarded downstream.
var linkRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractLinks pulls every http(s) URL out of free-form text, preserving
// order. Trailing sentence punctuation is trimmed.
func ExtractLinks(content string) []string {
	matches := linkRe.FindAllString(content, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, trimTrailingPunct(m))
	}
	return links
}

// trimTrailingPunct strips sentence punctuation from the end of a match. A
// closing parenthesis stays while it balances an opening one inside the URL,
// as in wiki-style paths; only unmatched ones are prose.
func trimTrailingPunct(link string) string {
	for {
		trimmed := strings.TrimRight(link, ".,;:!?")
		if strings.HasSuffix(trimmed, ")") && strings.Count(trimmed, ")") > strings.Count(trimmed, "(") {
			trimmed = strings.TrimSuffix(trimmed, ")")
		}
		if trimmed == link {
			return link
		}
		link = trimmed
	}
}

// parseHost splits a link into lowercase host and parsed URL, tolerating
// scheme-less input. Returns ok=false for anything url.Parse rejects.
func parseHost(link string) (*url.URL, string, bool) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, "", false
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return nil, "", false
	}
	return u, strings.ToLower(u.Hostname()), true
}

// --- Apple Music ---

type appleLinkParser struct{}

var (
	appleAlbumPathRe = regexp.MustCompile(`(?i)^/([a-z]{2})/album/(?:[^/]+/)?(\d+)$`)
	appleSongPathRe  = regexp.MustCompile(`(?i)^/([a-z]{2})/song/(?:[^/]+/)?(\d+)$`)
	digitsRe         = regexp.MustCompile(`^\d+$`)
)

func (appleLinkParser) Provider() models.ProviderID { return models.ProviderAppleMusic }

func (appleLinkParser) ShortHost(string) bool { return false }

func (appleLinkParser) Parse(link string) (ParsedLink, bool) {
	u, host, ok := parseHost(link)
	if !ok || host != "music.apple.com" {
		return ParsedLink{Kind: models.KindUnknown}, false
	}

	if m := appleSongPathRe.FindStringSubmatch(u.Path); m != nil {
		return ParsedLink{Kind: models.KindTrack, Key: m[2], Market: strings.ToLower(m[1])}, true
	}

	if m := appleAlbumPathRe.FindStringSubmatch(u.Path); m != nil {
		market := strings.ToLower(m[1])
		// An embedded-track link outranks its container album.
		if trackID := u.Query().Get("i"); digitsRe.MatchString(trackID) {
			return ParsedLink{Kind: models.KindTrack, Key: trackID, Market: market}, true
		}
		return ParsedLink{Kind: models.KindAlbum, Key: m[2], Market: market}, true
	}

	return ParsedLink{Kind: models.KindUnknown}, false
}

// --- Spotify ---

type spotifyLinkParser struct{}

var spotifyPathRe = regexp.MustCompile(`(?i)^/(?:intl-[a-z]{2}(?:-[a-z]{2})?/)?(track|album)/([a-zA-Z0-9]+)$`)

func (spotifyLinkParser) Provider() models.ProviderID { return models.ProviderSpotify }

func (spotifyLinkParser) ShortHost(link string) bool {
	_, host, ok := parseHost(link)
	return ok && host == "spotify.link"
}

func (spotifyLinkParser) Parse(link string) (ParsedLink, bool) {
	u, host, ok := parseHost(link)
	if !ok {
		return ParsedLink{Kind: models.KindUnknown}, false
	}
	switch host {
	case "open.spotify.com", "spotify.com", "www.spotify.com":
	default:
		return ParsedLink{Kind: models.KindUnknown}, false
	}

	m := spotifyPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return ParsedLink{Kind: models.KindUnknown}, false
	}
	kind := models.KindTrack
	if strings.EqualFold(m[1], "album") {
		kind = models.KindAlbum
	}
	return ParsedLink{Kind: kind, Key: m[2]}, true
}

// --- Tidal ---

type tidalLinkParser struct{}

var tidalPathRe = regexp.MustCompile(`(?i)^/(?:browse/)?(track|album)/(\d+)$`)

func (tidalLinkParser) Provider() models.ProviderID { return models.ProviderTidal }

func (tidalLinkParser) ShortHost(string) bool { return false }

func (tidalLinkParser) Parse(link string) (ParsedLink, bool) {
	u, host, ok := parseHost(link)
	if !ok {
		return ParsedLink{Kind: models.KindUnknown}, false
	}
	switch host {
	case "tidal.com", "www.tidal.com", "listen.tidal.com":
	default:
		return ParsedLink{Kind: models.KindUnknown}, false
	}

	m := tidalPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return ParsedLink{Kind: models.KindUnknown}, false
	}

	kind := models.KindTrack
	key := m[2]
	if strings.EqualFold(m[1], "album") {
		kind = models.KindAlbum
		// Album share links sometimes pin a track via the trackId parameter.
		if trackID := u.Query().Get("trackId"); digitsRe.MatchString(trackID) {
			return ParsedLink{Kind: models.KindTrack, Key: trackID}, true
		}
	}
	return ParsedLink{Kind: kind, Key: key}, true
}

// --- Short link expansion ---

// ShortLinkResolver expands shortener links with a single request that does
// not follow redirects; the redirect target is read from the Location
// header. Anything else fails soft.
type ShortLinkResolver struct {
	fetch func(ctx context.Context, link string) (int, http.Header, error)
}

// NewShortLinkResolver builds a resolver on the shared no-redirect client.
func NewShortLinkResolver() *ShortLinkResolver {
	return &ShortLinkResolver{fetch: fetchNoRedirect}
}

func fetchNoRedirect(ctx context.Context, link string) (int, http.Header, error) {
	resp, err := httpclient.NewNoRedirect().R().SetContext(ctx).Get(link)
	if resp == nil {
		return 0, nil, err
	}
	// A denied redirect surfaces as an error; the response still carries the
	// status and Location header we need.
	return resp.StatusCode(), resp.Header(), nil
}

// Resolve returns the redirect target of a short link, or ok=false when the
// link does not redirect.
func (r *ShortLinkResolver) Resolve(ctx context.Context, link string) (string, bool) {
	status, header, err := r.fetch(ctx, link)
	if err != nil {
		slog.Warn("short link resolution failed", "link", link, "error", err)
		return "", false
	}
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
	default:
		return "", false
	}
	target := header.Get("Location")
	if target == "" {
		return "", false
	}
	if strings.HasPrefix(target, "/") {
		base, _, ok := parseHost(link)
		if !ok {
			return "", false
		}
		target = base.Scheme + "://" + base.Host + target
	}
	return target, true
}
