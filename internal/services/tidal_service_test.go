package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunelink/internal/cache"
	"tunelink/internal/httpclient"
	"tunelink/internal/models"
)

func newTidalTestService(t *testing.T, handler http.Handler) *tidalService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &tidalService{
		client:      httpclient.New(),
		baseURL:     server.URL,
		accessToken: "test-token",
		tokenExpiry: time.Now().Add(time.Hour),
		hot:         cache.NewMemory(0),
	}
}

const tidalTrackDoc = `{
	"data": [{
		"id": "77646169", "type": "tracks",
		"attributes": {"title": "Karma Police", "isrc": "GBAYE9700112"},
		"relationships": {
			"artists": {"data": [{"id": "3995478", "type": "artists"}]},
			"albums": {"data": [{"id": "77646168", "type": "albums"}]}
		}
	}],
	"included": [
		{"id": "3995478", "type": "artists", "attributes": {"name": "Radiohead"}},
		{"id": "77646168", "type": "albums", "attributes": {
			"title": "OK Computer",
			"imageLinks": [{"href": "https://example.com/cover.jpg"}]
		}}
	]
}`

const tidalAlbumDoc = `{
	"data": [{
		"id": "77646168", "type": "albums",
		"attributes": {"title": "OK Computer", "barcodeId": "724384460129",
			"imageLinks": [{"href": "https://example.com/cover.jpg"}]},
		"relationships": {
			"artists": {"data": [{"id": "3995478", "type": "artists"}]}
		}
	}],
	"included": [
		{"id": "3995478", "type": "artists", "attributes": {"name": "Radiohead"}}
	]
}`

func TestTidalByISRC(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "GBAYE9700112", r.URL.Query().Get("filter[isrc]"))
		assert.Equal(t, "US", r.URL.Query().Get("countryCode"))
		_, _ = w.Write([]byte(tidalTrackDoc))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, models.ProviderTidal, res.Provider)
	assert.Equal(t, "Karma Police", res.Title)
	assert.Equal(t, "Radiohead", res.Artist, "artist resolved through the included set")
	assert.Equal(t, "https://tidal.com/browse/track/77646169", res.URL)
	assert.Equal(t, "GBAYE9700112", res.ExternalID)
	assert.Equal(t, "https://example.com/cover.jpg", res.ArtURL, "art pulled from the related album")
	require.NotNil(t, res.IsAlbum)
	assert.False(t, *res.IsAlbum)
}

func TestTidalByUPC(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/albums", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "724384460129", r.URL.Query().Get("filter[barcodeId]"))
		_, _ = w.Write([]byte(tidalAlbumDoc))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByUPC(context.Background(), "724384460129")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "OK Computer", res.Title)
	assert.Equal(t, "724384460129", res.ExternalID)
	assert.Equal(t, "https://tidal.com/browse/album/77646168", res.URL)
	require.NotNil(t, res.IsAlbum)
	assert.True(t, *res.IsAlbum)
}

func TestTidalByURLSingleResourceShape(t *testing.T) {
	// Single-entity endpoints return an object, not an array, in data.
	single := `{
		"data": {"id": "77646169", "type": "tracks",
			"attributes": {"title": "Karma Police", "isrc": "GBAYE9700112"},
			"relationships": {"artists": {"data": [{"id": "3995478", "type": "artists"}]}}},
		"included": [{"id": "3995478", "type": "artists", "attributes": {"name": "Radiohead"}}]
	}`

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/77646169", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(single))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByURL(context.Background(), "https://tidal.com/browse/track/77646169")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPrimary)
	assert.Equal(t, "Karma Police", res.Title)
	assert.Equal(t, "Radiohead", res.Artist)
}

func TestTidalByISRCNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[],"included":[]}`))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByISRC(context.Background(), "NOPE12345678")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTidalMalformedAttributesDegradeGracefully(t *testing.T) {
	// A re-typed attribute must degrade to empty, not fail the lookup.
	mangled := `{
		"data": [{"id": "77646169", "type": "tracks",
			"attributes": {"title": 42, "isrc": "GBAYE9700112"}}],
		"included": []
	}`

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(mangled))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.Title)
	assert.Equal(t, "GBAYE9700112", res.ExternalID)
}

func TestTidalByTitleArtistCascade(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/searchResults/Radiohead", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": {"id": "Radiohead", "type": "searchResults"},
			"included": [{"id": "3995478", "type": "artists", "attributes": {"name": "Radiohead"}}]
		}`))
	})
	mux.HandleFunc("/artists/3995478/relationships/albums", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": [{"id": "77646168", "type": "albums"}],
			"included": [{"id": "77646168", "type": "albums", "attributes": {"title": "OK Computer (Deluxe Edition)"}}]
		}`))
	})
	mux.HandleFunc("/albums/77646168", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tidalAlbumDoc))
	})

	svc := newTidalTestService(t, mux)

	res, err := svc.ByTitleArtist(context.Background(), "OK Computer", "Radiohead")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "724384460129", res.ExternalID)
	require.NotNil(t, res.IsAlbum)
	assert.True(t, *res.IsAlbum)
}
