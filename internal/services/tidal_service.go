package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/clientcredentials"

	"tunelink/internal/cache"
	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

// tidalService implements ProviderService against the Tidal v2 API, which
// speaks a JSON:API dialect: entities arrive as typed resources with
// attributes, and related entities ride along in an "included" array.
type tidalService struct {
	client      *resty.Client
	baseURL     string
	tokenSource *clientcredentials.Config
	accessToken string
	tokenExpiry time.Time
	hot         cache.Cache
	parser      tidalLinkParser
	callTimeout time.Duration
	mu          sync.RWMutex
}

const (
	tidalTokenURL = "https://auth.tidal.com/v1/oauth2/token"
	tidalAPIURL   = "https://openapi.tidal.com/v2"

	tidalTokenSkew = 30 * time.Second

	tidalEntityCacheTTL = 4 * time.Hour
	tidalIDCacheTTL     = 24 * time.Hour
)

// NewTidalService creates the Tidal provider.
func NewTidalService(clientID, clientSecret string, hot cache.Cache) ProviderService {
	return &tidalService{
		client:  httpclient.New(),
		baseURL: tidalAPIURL,
		tokenSource: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tidalTokenURL,
		},
		hot:         hot,
		callTimeout: httpclient.TotalTimeout,
	}
}

func (s *tidalService) Provider() models.ProviderID { return models.ProviderTidal }

func (s *tidalService) ByURL(ctx context.Context, link string) (*models.ProviderResult, error) {
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

func (s *tidalService) ByISRC(ctx context.Context, isrc string) (*models.ProviderResult, error) {
	cacheKey := "api:tidal:isrc:" + isrc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	doc, found, err := s.apiGet(ctx, "/tracks", map[string]string{
		"countryCode":  s.countryCode(""),
		"filter[isrc]": isrc,
		"include":      "artists,albums",
	})
	if err = suppressTransient(s.Provider(), "by_isrc", err); err != nil {
		return nil, err
	}
	if !found || len(doc.resources()) == 0 {
		return nil, nil
	}

	res := s.convertTrack(doc.resources()[0], doc.Included)
	s.storeResult(ctx, cacheKey, res, tidalIDCacheTTL)
	return res, nil
}

func (s *tidalService) ByUPC(ctx context.Context, upc string) (*models.ProviderResult, error) {
	cacheKey := "api:tidal:upc:" + upc
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	doc, found, err := s.apiGet(ctx, "/albums", map[string]string{
		"countryCode":       s.countryCode(""),
		"filter[barcodeId]": upc,
		"include":           "artists",
	})
	if err = suppressTransient(s.Provider(), "by_upc", err); err != nil {
		return nil, err
	}
	if !found || len(doc.resources()) == 0 {
		return nil, nil
	}

	res := s.convertAlbum(doc.resources()[0], doc.Included)
	s.storeResult(ctx, cacheKey, res, tidalIDCacheTTL)
	return res, nil
}

func (s *tidalService) ByTitleArtist(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
	res, err := cascadeTitleArtist(ctx, s, "", title, artist)
	if err = suppressTransient(s.Provider(), "by_title_artist", err); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *tidalService) Health(ctx context.Context) error {
	_, err := s.bearer(ctx)
	return err
}

// --- catalog primitives ---

func (s *tidalService) searchArtists(ctx context.Context, market, artist string) ([]artistRef, error) {
	doc, found, err := s.apiGet(ctx, "/searchResults/"+url.PathEscape(artist), map[string]string{
		"countryCode": s.countryCode(market),
		"include":     "artists",
	})
	if err != nil || !found {
		return nil, err
	}

	refs := make([]artistRef, 0, len(doc.Included))
	for _, inc := range doc.Included {
		if inc.Type != "artists" {
			continue
		}
		refs = append(refs, artistRef{ID: inc.ID, Name: inc.strAttr("name")})
	}
	return refs, nil
}

func (s *tidalService) artistAlbums(ctx context.Context, market, artistID string) ([]albumRef, error) {
	doc, found, err := s.apiGet(ctx, "/artists/"+artistID+"/relationships/albums", map[string]string{
		"countryCode": s.countryCode(market),
		"include":     "albums",
	})
	if err != nil || !found {
		return nil, err
	}

	refs := make([]albumRef, 0, len(doc.Included))
	for _, inc := range doc.Included {
		if inc.Type != "albums" {
			continue
		}
		refs = append(refs, albumRef{ID: inc.ID, Title: inc.strAttr("title")})
	}
	return refs, nil
}

func (s *tidalService) albumByID(ctx context.Context, market, albumID string) (*models.ProviderResult, error) {
	cacheKey := "api:tidal:album:" + albumID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	doc, found, err := s.apiGet(ctx, "/albums/"+albumID, map[string]string{
		"countryCode": s.countryCode(market),
		"include":     "artists",
	})
	if err != nil || !found || len(doc.resources()) == 0 {
		return nil, err
	}

	res := s.convertAlbum(doc.resources()[0], doc.Included)
	s.storeResult(ctx, cacheKey, res, tidalEntityCacheTTL)
	return res, nil
}

func (s *tidalService) albumTracks(ctx context.Context, market, albumID string) ([]trackRef, error) {
	doc, found, err := s.apiGet(ctx, "/albums/"+albumID+"/relationships/items", map[string]string{
		"countryCode": s.countryCode(market),
		"include":     "items",
	})
	if err != nil || !found {
		return nil, err
	}

	refs := make([]trackRef, 0, len(doc.Included))
	for _, inc := range doc.Included {
		if inc.Type != "tracks" {
			continue
		}
		refs = append(refs, trackRef{ID: inc.ID, Title: inc.strAttr("title")})
	}
	return refs, nil
}

func (s *tidalService) trackByID(ctx context.Context, market, trackID string) (*models.ProviderResult, error) {
	cacheKey := "api:tidal:track:" + trackID
	if res := s.cachedResult(ctx, cacheKey); res != nil {
		return res, nil
	}

	doc, found, err := s.apiGet(ctx, "/tracks/"+trackID, map[string]string{
		"countryCode": s.countryCode(market),
		"include":     "artists,albums",
	})
	if err != nil || !found || len(doc.resources()) == 0 {
		return nil, err
	}

	res := s.convertTrack(doc.resources()[0], doc.Included)
	s.storeResult(ctx, cacheKey, res, tidalEntityCacheTTL)
	return res, nil
}

func (s *tidalService) apiGet(ctx context.Context, path string, params map[string]string) (*tidalDoc, bool, error) {
	ctx, cancel := callContext(ctx, s.callTimeout)
	defer cancel()

	token, err := s.bearer(ctx)
	if err != nil {
		return nil, false, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/vnd.api+json").
		SetQueryParams(params).
		Get(s.baseURL + path)
	if err != nil {
		return nil, false, &ProviderError{Provider: s.Provider(), Operation: "api_get", Message: path, Err: err}
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, &ProviderError{
			Provider:  s.Provider(),
			Operation: "api_get",
			Message:   fmt.Sprintf("%s returned status %d", path, resp.StatusCode()),
		}
	}

	var doc tidalDoc
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, false, &ProviderError{Provider: s.Provider(), Operation: "api_get", Message: path, Err: err}
	}
	return &doc, true, nil
}

func (s *tidalService) bearer(ctx context.Context) (string, error) {
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
		return "", fmt.Errorf("%w: tidal token endpoint: %v", ErrAuthUnavailable, err)
	}

	s.accessToken = token.AccessToken
	s.tokenExpiry = token.Expiry.Add(-tidalTokenSkew)
	slog.Info("tidal access token refreshed", "expires_at", s.tokenExpiry)
	return s.accessToken, nil
}

func (s *tidalService) countryCode(market string) string {
	if market == "" {
		return "US"
	}
	return strings.ToUpper(market)
}

func (s *tidalService) convertTrack(track tidalResource, included []tidalResource) *models.ProviderResult {
	var art string
	if album, ok := firstRelated(track, "albums", included); ok {
		art = album.firstImageLink()
	}

	return &models.ProviderResult{
		Provider:     models.ProviderTidal,
		Artist:       joinArtists(relatedNames(track, "artists", included)),
		Title:        track.strAttr("title"),
		URL:          "https://tidal.com/browse/track/" + track.ID,
		MarketRegion: "",
		ExternalID:   track.strAttr("isrc"),
		ArtURL:       art,
		IsAlbum:      models.Bool(false),
	}
}

func (s *tidalService) convertAlbum(album tidalResource, included []tidalResource) *models.ProviderResult {
	return &models.ProviderResult{
		Provider:   models.ProviderTidal,
		Artist:     joinArtists(relatedNames(album, "artists", included)),
		Title:      album.strAttr("title"),
		URL:        "https://tidal.com/browse/album/" + album.ID,
		ExternalID: album.strAttr("barcodeId"),
		ArtURL:     album.firstImageLink(),
		IsAlbum:    models.Bool(true),
	}
}

func (s *tidalService) cachedResult(ctx context.Context, key string) *models.ProviderResult {
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

func (s *tidalService) storeResult(ctx context.Context, key string, res *models.ProviderResult, ttl time.Duration) {
	if s.hot == nil || res == nil {
		return
	}
	if data, err := json.Marshal(res); err == nil {
		if err := s.hot.Set(ctx, key, data, ttl); err != nil {
			slog.Debug("hot cache write failed", "key", key, "error", err)
		}
	}
}

// tidalDoc is a loose JSON:API document. Attributes are decoded as generic
// maps so a missing or re-typed field degrades to an empty value instead of
// failing the whole response.
type tidalDoc struct {
	Data     json.RawMessage `json:"data"`
	Included []tidalResource `json:"included"`
}

// resources normalizes the polymorphic data member: single-resource
// responses and collection responses both come back as a slice.
func (d *tidalDoc) resources() []tidalResource {
	if len(d.Data) == 0 {
		return nil
	}
	var many []tidalResource
	if err := json.Unmarshal(d.Data, &many); err == nil {
		return many
	}
	var one tidalResource
	if err := json.Unmarshal(d.Data, &one); err == nil && one.ID != "" {
		return []tidalResource{one}
	}
	return nil
}

type tidalResource struct {
	ID            string                   `json:"id"`
	Type          string                   `json:"type"`
	Attributes    map[string]any           `json:"attributes"`
	Relationships map[string]tidalRelation `json:"relationships"`
}

type tidalRelation struct {
	Data json.RawMessage `json:"data"`
}

func (r tidalResource) strAttr(key string) string {
	if v, ok := r.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// firstImageLink pulls the first href out of the imageLinks attribute.
func (r tidalResource) firstImageLink() string {
	links, ok := r.Attributes["imageLinks"].([]any)
	if !ok || len(links) == 0 {
		return ""
	}
	entry, ok := links[0].(map[string]any)
	if !ok {
		return ""
	}
	href, _ := entry["href"].(string)
	return href
}

// relatedRefs decodes a relationship's linkage, tolerating both to-one and
// to-many shapes.
func (r tidalResource) relatedRefs(rel string) []tidalResource {
	relation, ok := r.Relationships[rel]
	if !ok || len(relation.Data) == 0 {
		return nil
	}
	var many []tidalResource
	if err := json.Unmarshal(relation.Data, &many); err == nil {
		return many
	}
	var one tidalResource
	if err := json.Unmarshal(relation.Data, &one); err == nil && one.ID != "" {
		return []tidalResource{one}
	}
	return nil
}

// firstRelated resolves the first linked resource of a relationship through
// the included set.
func firstRelated(r tidalResource, rel string, included []tidalResource) (tidalResource, bool) {
	for _, ref := range r.relatedRefs(rel) {
		for _, inc := range included {
			if inc.Type == ref.Type && inc.ID == ref.ID {
				return inc, true
			}
		}
	}
	return tidalResource{}, false
}

// relatedNames resolves linked resources through the included set and
// returns their name attributes in linkage order.
func relatedNames(r tidalResource, rel string, included []tidalResource) []string {
	var names []string
	for _, ref := range r.relatedRefs(rel) {
		for _, inc := range included {
			if inc.Type == ref.Type && inc.ID == ref.ID {
				if name := inc.strAttr("name"); name != "" {
					names = append(names, name)
				}
				break
			}
		}
	}
	return names
}
