package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/clientcredentials"

	"tunelink/internal/cache"
	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

// spotifyService implements ProviderService against the Spotify Web API
// using client-credentials tokens.
type spotifyService struct {
	client      *resty.Client
	baseURL     string
	tokenSource *clientcredentials.Config
	accessToken string
	tokenExpiry time.Time
	hot         cache.Cache
	parser      spotifyLinkParser
	shortLinks  *ShortLinkResolver
	callTimeout time.Duration
	mu          sync.RWMutex
}

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyAPIURL   = "https://api.spotify.com/v1"

	// Tokens are refreshed slightly early so in-flight requests never carry
	// a credential that expires mid-call.
	spotifyTokenSkew = 30 * time.Second

	spotifyEntityCacheTTL = 4 * time.Hour
	spotifyIDCacheTTL     = 24 * time.Hour
)

// NewSpotifyService creates the Spotify provider.
func NewSpotifyService(clientID, clientSecret string, hot cache.Cache) ProviderService {
	return &spotifyService{
		client:  httpclient.New(),
		baseURL: spotifyAPIURL,
		tokenSource: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     spotifyTokenURL,
		},
		hot:         hot,
		shortLinks:  NewShortLinkResolver(),
		callTimeout: httpclient.TotalTimeout,
	}
}

func (s *spotifyService) Provider() models.ProviderID { return models.ProviderSpotify }

func (s *spotifyService) ByURL(ctx context.Context, link string) (*models.ProviderResult, error) {
	if s.parser.ShortHost(link) {
		target, ok := s.shortLinks.Resolve(ctx, link)
		if !ok {
			return nil, nil
		}
		link = target
	}

	parsed, ok := s.parser.Parse(link)
	if !ok {
		return nil, nil
	}
	res, err := lookupByParsedLink(ctx, s, parsed)
	if err = suppressTransient(s.Provider(), "by_url", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *spotifyService) ByISRC(ctx context.Context, isrc string) (*models.ProviderResult, error) {
	cacheKey := "api:spotify:isrc:" + isrc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out spotifySearchResult
	found, err := s.apiGet(ctx, "/search", map[string]string{
		"q":     "isrc:" + isrc,
		"type":  "track",
		"limit": "1",
	}, &out)
	if err = suppressTransient(s.Provider(), "by_isrc", err); err != nil {
		return nil, err
	}
	if !found || len(out.Tracks.Items) == 0 {
		return nil, nil
	}

	res := s.convertTrack(&out.Tracks.Items[0])
	s.storeResult(ctx, cacheKey, res, spotifyIDCacheTTL)
	return res, nil
}

func (s *spotifyService) ByUPC(ctx context.Context, upc string) (*models.ProviderResult, error) {
	cacheKey := "api:spotify:upc:" + upc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out spotifySearchResult
	found, err := s.apiGet(ctx, "/search", map[string]string{
		"q":     "upc:" + upc,
		"type":  "album",
		"limit": "1",
	}, &out)
	if err = suppressTransient(s.Provider(), "by_upc", err); err != nil {
		return nil, err
	}
	if !found || len(out.Albums.Items) == 0 {
		return nil, nil
	}

	// Search listings omit external IDs; re-fetch the album so the UPC is
	// populated for cross-provider matching.
	res, err := s.albumByID(ctx, "", out.Albums.Items[0].ID)
	if err = suppressTransient(s.Provider(), "by_upc", err); err != nil {
		return nil, err
	}
	if res != nil {
		res.IsAlbum = models.Bool(true)
		s.storeResult(ctx, cacheKey, res, spotifyIDCacheTTL)
	}
	return res, nil
}

func (s *spotifyService) ByTitleArtist(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
	res, err := cascadeTitleArtist(ctx, s, "", title, artist)
	if err = suppressTransient(s.Provider(), "by_title_artist", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *spotifyService) Health(ctx context.Context) error {
	_, err := s.bearer(ctx)
	return err
}

// --- catalog primitives ---

func (s *spotifyService) searchArtists(ctx context.Context, _ string, artist string) ([]artistRef, error) {
	var out spotifySearchResult
	found, err := s.apiGet(ctx, "/search", map[string]string{
		"q":     `artist:"` + artist + `"`,
		"type":  "artist",
		"limit": "5",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]artistRef, 0, len(out.Artists.Items))
	for _, a := range out.Artists.Items {
		refs = append(refs, artistRef{ID: a.ID, Name: a.Name})
	}
	return refs, nil
}

func (s *spotifyService) artistAlbums(ctx context.Context, _ string, artistID string) ([]albumRef, error) {
	var out spotifyAlbumPage
	found, err := s.apiGet(ctx, "/artists/"+artistID+"/albums", map[string]string{
		"include_groups": "album,single",
		"limit":          "50",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]albumRef, 0, len(out.Items))
	for _, a := range out.Items {
		refs = append(refs, albumRef{ID: a.ID, Title: a.Name})
	}
	return refs, nil
}

func (s *spotifyService) albumByID(ctx context.Context, _ string, albumID string) (*models.ProviderResult, error) {
	cacheKey := "api:spotify:album:" + albumID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var album spotifyAlbum
	found, err := s.apiGet(ctx, "/albums/"+albumID, nil, &album)
	if err != nil || !found {
		return nil, err
	}

	res := s.convertAlbum(&album)
	s.storeResult(ctx, cacheKey, res, spotifyEntityCacheTTL)
	return res, nil
}

func (s *spotifyService) albumTracks(ctx context.Context, _ string, albumID string) ([]trackRef, error) {
	var out spotifyTrackPage
	found, err := s.apiGet(ctx, "/albums/"+albumID+"/tracks", map[string]string{
		"limit": "50",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]trackRef, 0, len(out.Items))
	for _, t := range out.Items {
		refs = append(refs, trackRef{ID: t.ID, Title: t.Name})
	}
	return refs, nil
}

func (s *spotifyService) trackByID(ctx context.Context, _ string, trackID string) (*models.ProviderResult, error) {
	cacheKey := "api:spotify:track:" + trackID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var track spotifyTrack
	found, err := s.apiGet(ctx, "/tracks/"+trackID, nil, &track)
	if err != nil || !found {
		return nil, err
	}

	res := s.convertTrack(&track)
	s.storeResult(ctx, cacheKey, res, spotifyEntityCacheTTL)
	return res, nil
}

func (s *spotifyService) apiGet(ctx context.Context, path string, params map[string]string, out any) (bool, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()

	token, err := s.bearer(ctx)
	if err != nil {
		return false, err
	}

	req := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(out)
	if params != nil {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(s.baseURL + path)
	if err != nil {
		return false, &ProviderError{Provider: s.Provider(), Operation: "api_get", Message: path, Err: err}
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &ProviderError{
			Provider:  s.Provider(),
			Operation: "api_get",
			Message:   fmt.Sprintf("%s returned status %d", path, resp.StatusCode()),
		}
	}
}

// bearer returns a valid access token. Refresh is serialized so concurrent
// callers hitting the expiry window share one token round-trip.
func (s *spotifyService) bearer(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	token, err := s.tokenSource.Token(httpclient.TokenContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: spotify token endpoint: %v", ErrAuthUnavailable, err)
	}

	s.accessToken = token.AccessToken
	s.tokenExpiry = token.Expiry.Add(-spotifyTokenSkew)
	slog.Info("spotify access token refreshed", "expires_at", s.tokenExpiry)
	return s.accessToken, nil
}

func (s *spotifyService) convertTrack(track *spotifyTrack) *models.ProviderResult {
	artists := make([]string, 0, len(track.Artists))
	for _, a := range track.Artists {
		artists = append(artists, a.Name)
	}

	var art string
	if len(track.Album.Images) > 0 {
		art = track.Album.Images[0].URL
	}

	url := track.ExternalURLs.Spotify
	if url == "" {
		url = "https://open.spotify.com/track/" + track.ID
	}

	return &models.ProviderResult{
		Provider:   models.ProviderSpotify,
		Artist:     joinArtists(artists),
		Title:      track.Name,
		URL:        url,
		ExternalID: track.ExternalIDs.ISRC,
		ArtURL:     art,
		IsAlbum:    models.Bool(false),
	}
}

func (s *spotifyService) convertAlbum(album *spotifyAlbum) *models.ProviderResult {
	artists := make([]string, 0, len(album.Artists))
	for _, a := range album.Artists {
		artists = append(artists, a.Name)
	}

	var art string
	if len(album.Images) > 0 {
		art = album.Images[0].URL
	}

	url := album.ExternalURLs.Spotify
	if url == "" {
		url = "https://open.spotify.com/album/" + album.ID
	}

	return &models.ProviderResult{
		Provider:   models.ProviderSpotify,
		Artist:     joinArtists(artists),
		Title:      album.Name,
		URL:        url,
		ExternalID: album.ExternalIDs.UPC,
		ArtURL:     art,
		IsAlbum:    models.Bool(true),
	}
}

func (s *spotifyService) cachedResult(ctx context.Context, key string) *models.ProviderResult {
	if s.hot == nil {
		return nil
	}
	data, err := s.hot.Get(ctx, key)
	if err != nil || data == nil {
		return nil
	}
	var res models.ProviderResult
	if err := json.Unmarshal(data, &res); err != nil {
		_ = s.hot.Delete(ctx, key)
		return nil
	}
	return &res
}

func (s *spotifyService) storeResult(ctx context.Context, key string, res *models.ProviderResult, ttl time.Duration) {
	if s.hot == nil || res == nil {
		return
	}
	if data, err := json.Marshal(res); err == nil {
		if err := s.hot.Set(ctx, key, data, ttl); err != nil {
			slog.Debug("hot cache write failed", "key", key, "error", err)
		}
	}
}

// Spotify API response shapes.
type spotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []spotifyArtist `json:"artists"`
	Album        spotifyAlbum    `json:"album"`
	ExternalIDs  spotifyIDs      `json:"external_ids"`
	ExternalURLs spotifyURLs     `json:"external_urls"`
}

type spotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type spotifyAlbum struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []spotifyArtist `json:"artists"`
	Images       []spotifyImage  `json:"images"`
	ExternalIDs  spotifyIDs      `json:"external_ids"`
	ExternalURLs spotifyURLs     `json:"external_urls"`
}

type spotifyImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type spotifyIDs struct {
	ISRC string `json:"isrc"`
	UPC  string `json:"upc"`
}

type spotifyURLs struct {
	Spotify string `json:"spotify"`
}

type spotifySearchResult struct {
	Tracks  spotifyTrackPage  `json:"tracks"`
	Albums  spotifyAlbumPage  `json:"albums"`
	Artists spotifyArtistPage `json:"artists"`
}

type spotifyTrackPage struct {
	Items []spotifyTrack `json:"items"`
}

type spotifyAlbumPage struct {
	Items []spotifyAlbum `json:"items"`
}

type spotifyArtistPage struct {
	Items []spotifyArtist `json:"items"`
}
