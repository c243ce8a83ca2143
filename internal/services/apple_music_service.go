package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"tunelink/internal/cache"
	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

// appleMusicService implements ProviderService against the Apple Music
// catalog API, authenticating with short-lived ES256 developer tokens.
type appleMusicService struct {
	client      *resty.Client
	baseURL     string
	keyID       string
	teamID      string
	privateKey  *ecdsa.PrivateKey
	token       string
	tokenExpiry time.Time
	hot         cache.Cache
	parser      appleLinkParser
	callTimeout time.Duration
	mu          sync.RWMutex
}

const (
	appleMusicAPIURL      = "https://api.music.apple.com/v1"
	appleDefaultStorefront = "us"

	appleTokenLifetime = 60 * time.Minute
	appleTokenRefresh  = 55 * time.Minute

	appleEntityCacheTTL = 4 * time.Hour
	appleIDCacheTTL     = 24 * time.Hour // ISRC/UPC mappings are very stable
)

// NewAppleMusicService loads the .p8 signing key and returns the Apple Music
// provider. A missing or unparsable key is a configuration error.
func NewAppleMusicService(keyID, teamID, keyPath string, hot cache.Cache) (ProviderService, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key file: %v", ErrAuthConfigInvalid, err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in key file %s", ErrAuthConfigInvalid, keyPath)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", ErrAuthConfigInvalid, err)
	}
	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not ECDSA", ErrAuthConfigInvalid)
	}

	return &appleMusicService{
		client:      httpclient.New(),
		baseURL:     appleMusicAPIURL,
		keyID:       keyID,
		teamID:      teamID,
		privateKey:  ecKey,
		hot:         hot,
		callTimeout: httpclient.TotalTimeout,
	}, nil
}

func (s *appleMusicService) Provider() models.ProviderID { return models.ProviderAppleMusic }

func (s *appleMusicService) ByURL(ctx context.Context, link string) (*models.ProviderResult, error) {
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

func (s *appleMusicService) ByISRC(ctx context.Context, isrc string) (*models.ProviderResult, error) {
	cacheKey := "api:appleMusic:isrc:" + isrc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out appleSongList
	found, err := s.apiGet(ctx, "/catalog/"+appleDefaultStorefront+"/songs", map[string]string{
		"filter[isrc]": isrc,
	}, &out)
	if err = suppressTransient(s.Provider(), "by_isrc", err); err != nil {
		return nil, err
	}
	if !found || len(out.Data) == 0 {
		return nil, nil
	}

	res := s.convertSong(&out.Data[0], appleDefaultStorefront)
	s.storeResult(ctx, cacheKey, res, appleIDCacheTTL)
	return res, nil
}

func (s *appleMusicService) ByUPC(ctx context.Context, upc string) (*models.ProviderResult, error) {
	cacheKey := "api:appleMusic:upc:" + upc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out appleAlbumList
	found, err := s.apiGet(ctx, "/catalog/"+appleDefaultStorefront+"/albums", map[string]string{
		"filter[upc]": upc,
	}, &out)
	if err = suppressTransient(s.Provider(), "by_upc", err); err != nil {
		return nil, err
	}
	if !found || len(out.Data) == 0 {
		return nil, nil
	}

	res := s.convertAlbum(&out.Data[0], appleDefaultStorefront)
	s.storeResult(ctx, cacheKey, res, appleIDCacheTTL)
	return res, nil
}

func (s *appleMusicService) ByTitleArtist(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
	res, err := cascadeTitleArtist(ctx, s, appleDefaultStorefront, title, artist)
	if err = suppressTransient(s.Provider(), "by_title_artist", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *appleMusicService) Health(ctx context.Context) error {
	_, err := s.bearer()
	return err
}

// --- catalog primitives ---

func (s *appleMusicService) searchArtists(ctx context.Context, market, artist string) ([]artistRef, error) {
	var out appleSearchResult
	found, err := s.apiGet(ctx, "/catalog/"+storefront(market)+"/search", map[string]string{
		"term":  artist,
		"types": "artists",
		"limit": "5",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]artistRef, 0, len(out.Results.Artists.Data))
	for _, a := range out.Results.Artists.Data {
		refs = append(refs, artistRef{ID: a.ID, Name: a.Attributes.Name})
	}
	return refs, nil
}

func (s *appleMusicService) artistAlbums(ctx context.Context, market, artistID string) ([]albumRef, error) {
	var out appleAlbumList
	found, err := s.apiGet(ctx, "/catalog/"+storefront(market)+"/artists/"+artistID+"/albums", map[string]string{
		"limit": "100",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]albumRef, 0, len(out.Data))
	for _, a := range out.Data {
		refs = append(refs, albumRef{ID: a.ID, Title: a.Attributes.Name})
	}
	return refs, nil
}

func (s *appleMusicService) albumByID(ctx context.Context, market, albumID string) (*models.ProviderResult, error) {
	st := storefront(market)
	cacheKey := "api:appleMusic:album:" + st + ":" + albumID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out appleAlbumList
	found, err := s.apiGet(ctx, "/catalog/"+st+"/albums/"+albumID, nil, &out)
	if err != nil || !found || len(out.Data) == 0 {
		return nil, err
	}

	res := s.convertAlbum(&out.Data[0], st)
	s.storeResult(ctx, cacheKey, res, appleEntityCacheTTL)
	return res, nil
}

func (s *appleMusicService) albumTracks(ctx context.Context, market, albumID string) ([]trackRef, error) {
	var out appleSongList
	found, err := s.apiGet(ctx, "/catalog/"+storefront(market)+"/albums/"+albumID+"/tracks", map[string]string{
		"limit": "300",
	}, &out)
	if err != nil || !found {
		return nil, err
	}

	refs := make([]trackRef, 0, len(out.Data))
	for _, t := range out.Data {
		refs = append(refs, trackRef{ID: t.ID, Title: t.Attributes.Name})
	}
	return refs, nil
}

func (s *appleMusicService) trackByID(ctx context.Context, market, trackID string) (*models.ProviderResult, error) {
	st := storefront(market)
	cacheKey := "api:appleMusic:track:" + st + ":" + trackID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	var out appleSongList
	found, err := s.apiGet(ctx, "/catalog/"+st+"/songs/"+trackID, nil, &out)
	if err != nil || !found || len(out.Data) == 0 {
		return nil, err
	}

	res := s.convertSong(&out.Data[0], st)
	s.storeResult(ctx, cacheKey, res, appleEntityCacheTTL)
	return res, nil
}

// apiGet performs an authenticated catalog request. It returns found=false
// on 404 so callers can treat absence as a plain miss. The whole call,
// retries included, stays inside the total budget.
func (s *appleMusicService) apiGet(ctx context.Context, path string, params map[string]string, out any) (bool, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()

	token, err := s.bearer()
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

// bearer returns a valid developer token, minting a fresh one near expiry.
// Signing is cheap, so contention is only on the refresh window.
func (s *appleMusicService) bearer() (string, error) {
	s.mu.RLock()
	if s.token != "" && time.Now().Before(s.tokenExpiry) {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
		"exp": now.Add(appleTokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: signing developer token: %v", ErrAuthUnavailable, err)
	}

	s.token = signed
	s.tokenExpiry = now.Add(appleTokenRefresh)
	slog.Info("apple music developer token refreshed", "expires_at", s.tokenExpiry)
	return signed, nil
}

func (s *appleMusicService) convertSong(song *appleSong, st string) *models.ProviderResult {
	url := song.Attributes.URL
	if url == "" {
		url = "https://music.apple.com/" + st + "/song/" + song.ID
	}
	return &models.ProviderResult{
		Provider:     models.ProviderAppleMusic,
		Artist:       song.Attributes.ArtistName,
		Title:        song.Attributes.Name,
		URL:          url,
		MarketRegion: st,
		ExternalID:   song.Attributes.ISRC,
		ArtURL:       song.Attributes.Artwork.URL,
		IsAlbum:      models.Bool(false),
	}
}

func (s *appleMusicService) convertAlbum(album *appleAlbum, st string) *models.ProviderResult {
	url := album.Attributes.URL
	if url == "" {
		url = "https://music.apple.com/" + st + "/album/" + album.ID
	}
	return &models.ProviderResult{
		Provider:     models.ProviderAppleMusic,
		Artist:       album.Attributes.ArtistName,
		Title:        album.Attributes.Name,
		URL:          url,
		MarketRegion: st,
		ExternalID:   album.Attributes.UPC,
		ArtURL:       album.Attributes.Artwork.URL,
		IsAlbum:      models.Bool(true),
	}
}

func (s *appleMusicService) cachedResult(ctx context.Context, key string) *models.ProviderResult {
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

func (s *appleMusicService) storeResult(ctx context.Context, key string, res *models.ProviderResult, ttl time.Duration) {
	if s.hot == nil || res == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.hot.Set(ctx, key, data, ttl); err != nil {
		slog.Debug("hot cache write failed", "key", key, "error", err)
	}
}

func storefront(market string) string {
	if market == "" {
		return appleDefaultStorefront
	}
	return market
}

// Apple Music API response shapes. Absent optional fields decode to empty
// strings, never errors.
type appleSongList struct {
	Data []appleSong `json:"data"`
}

type appleSong struct {
	ID         string `json:"id"`
	Attributes struct {
		Name       string       `json:"name"`
		ArtistName string       `json:"artistName"`
		AlbumName  string       `json:"albumName"`
		ISRC       string       `json:"isrc"`
		URL        string       `json:"url"`
		Artwork    appleArtwork `json:"artwork"`
	} `json:"attributes"`
}

type appleAlbumList struct {
	Data []appleAlbum `json:"data"`
}

type appleAlbum struct {
	ID         string `json:"id"`
	Attributes struct {
		Name       string       `json:"name"`
		ArtistName string       `json:"artistName"`
		UPC        string       `json:"upc"`
		URL        string       `json:"url"`
		Artwork    appleArtwork `json:"artwork"`
	} `json:"attributes"`
}

type appleArtwork struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type appleSearchResult struct {
	Results struct {
		Artists struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name string `json:"name"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"artists"`
	} `json:"results"`
}
