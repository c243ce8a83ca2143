package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tunelink/internal/httpclient"
	"tunelink/internal/models"
	"tunelink/internal/sanitize"
)

// ProviderService is the per-provider lookup contract. Every entry point
// returns (nil, nil) for "not found" and for any recoverable remote failure;
// transport and parse errors are logged and suppressed inside the provider.
// Only auth failures escape, and the aggregator then treats the provider as
// disabled for the request.
type ProviderService interface {
	// Provider returns the stable provider identity.
	Provider() models.ProviderID

	// ByURL resolves a provider URL to its catalog entry. The returned
	// result is flagged IsPrimary.
	ByURL(ctx context.Context, link string) (*models.ProviderResult, error)

	// ByISRC finds a track by ISRC.
	ByISRC(ctx context.Context, isrc string) (*models.ProviderResult, error)

	// ByUPC finds an album by UPC. The identifier is passed to the provider
	// verbatim; leading zeros are preserved.
	ByUPC(ctx context.Context, upc string) (*models.ProviderResult, error)

	// ByTitleArtist searches by title and artist, cascading through the
	// provider's artist, album, and track listings.
	ByTitleArtist(ctx context.Context, title, artist string) (*models.ProviderResult, error)

	// Health verifies credentials and API reachability.
	Health(ctx context.Context) error
}

// Auth failures are the only provider errors the aggregator sees.
var (
	// ErrAuthUnavailable means the token endpoint could not produce a
	// credential after retries.
	ErrAuthUnavailable = errors.New("provider auth unavailable")

	// ErrAuthConfigInvalid means credentials could not be loaded at all.
	ErrAuthConfigInvalid = errors.New("provider auth configuration invalid")
)

// ProviderError carries provider and operation context for logs.
type ProviderError struct {
	Provider  models.ProviderID
	Operation string
	Message   string
	Err       error
}

func (e *ProviderError) Error() string {
	msg := string(e.Provider) + " " + e.Operation + " failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += " - " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// callContext bounds one outbound provider call, retries and token refresh
// included. A zero timeout falls back to the shared total budget.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = httpclient.TotalTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// suppressTransient implements the provider error boundary: auth errors pass
// through, everything else is logged and flattened into "not found".
func suppressTransient(provider models.ProviderID, op string, err error) error {
	if err == nil || errors.Is(err, ErrAuthUnavailable) || errors.Is(err, ErrAuthConfigInvalid) {
		return err
	}
	slog.Warn("provider lookup suppressed", "provider", provider, "operation", op, "error", err)
	return nil
}

// artistRef and albumRef/trackRef are the minimal listing rows the cascade
// walks; providers fill external IDs only on the final re-lookup.
type artistRef struct {
	ID   string
	Name string
}

type albumRef struct {
	ID    string
	Title string
}

type trackRef struct {
	ID    string
	Title string
}

// catalog is the narrow per-provider surface the title/artist cascade needs.
type catalog interface {
	searchArtists(ctx context.Context, market, artist string) ([]artistRef, error)
	artistAlbums(ctx context.Context, market, artistID string) ([]albumRef, error)
	albumByID(ctx context.Context, market, albumID string) (*models.ProviderResult, error)
	albumTracks(ctx context.Context, market, albumID string) ([]trackRef, error)
	trackByID(ctx context.Context, market, trackID string) (*models.ProviderResult, error)
}

// cascadeTitleArtist walks artist candidates in listing order: a sanitized
// album-title match wins first and is re-fetched so the UPC is populated; a
// sanitized track-title match wins second and is re-fetched for its ISRC.
func cascadeTitleArtist(ctx context.Context, c catalog, market, title, artist string) (*models.ProviderResult, error) {
	artists, err := c.searchArtists(ctx, market, artist)
	if err != nil {
		return nil, err
	}

	for _, cand := range artists {
		albums, err := c.artistAlbums(ctx, market, cand.ID)
		if err != nil {
			return nil, err
		}

		for _, album := range albums {
			if sanitize.EqualAlbumTitles(album.Title, title) {
				res, err := c.albumByID(ctx, market, album.ID)
				if err != nil {
					return nil, err
				}
				if res != nil {
					res.IsAlbum = models.Bool(true)
					return res, nil
				}
			}
		}

		for _, album := range albums {
			tracks, err := c.albumTracks(ctx, market, album.ID)
			if err != nil {
				return nil, err
			}
			for _, track := range tracks {
				if sanitize.EqualSongTitles(track.Title, title) {
					res, err := c.trackByID(ctx, market, track.ID)
					if err != nil {
						return nil, err
					}
					if res != nil {
						res.IsAlbum = models.Bool(false)
						return res, nil
					}
				}
			}
		}
	}

	return nil, nil
}

// lookupByParsedLink dispatches a parsed URL to the right catalog fetch and
// flags the result as the primary entry.
func lookupByParsedLink(ctx context.Context, c catalog, parsed ParsedLink) (*models.ProviderResult, error) {
	var (
		res *models.ProviderResult
		err error
	)
	switch parsed.Kind {
	case models.KindTrack:
		res, err = c.trackByID(ctx, parsed.Market, parsed.Key)
		if res != nil {
			res.IsAlbum = models.Bool(false)
		}
	case models.KindAlbum:
		res, err = c.albumByID(ctx, parsed.Market, parsed.Key)
		if res != nil {
			res.IsAlbum = models.Bool(true)
		}
	default:
		return nil, nil
	}
	if err != nil || res == nil {
		return nil, err
	}
	res.IsPrimary = true
	return res, nil
}

// joinArtists renders a display artist string from multiple credited
// artists.
func joinArtists(artists []string) string {
	switch len(artists) {
	case 0:
		return ""
	case 1:
		return artists[0]
	}
	out := artists[0]
	for _, a := range artists[1:] {
		out += " & " + a
	}
	return out
}
