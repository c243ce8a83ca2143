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

func newSpotifyTestService(t *testing.T, handler http.Handler) *spotifyService {
	t.Helper()
	// The real API sends a JSON content type; resty only unmarshals
	// SetResult targets when it sees one.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	return &spotifyService{
		client:      httpclient.New(),
		baseURL:     server.URL,
		accessToken: "test-token",
		tokenExpiry: time.Now().Add(time.Hour),
		hot:         cache.NewMemory(0),
		shortLinks:  NewShortLinkResolver(),
	}
}

const spotifyTrackJSON = `{
	"id": "6LgJvl0Xdtc73RJ1mmpotq",
	"name": "Karma Police",
	"artists": [{"id": "4Z8W4fKeB5YxbusRsdQVPb", "name": "Radiohead"}],
	"album": {"id": "5ht7ItJgpBH7W6vJ5BqpPr", "name": "OK Computer",
		"images": [{"url": "https://example.com/cover.jpg", "width": 640, "height": 640}]},
	"external_ids": {"isrc": "GBAYE9700112"},
	"external_urls": {"spotify": "https://open.spotify.com/track/6LgJvl0Xdtc73RJ1mmpotq"}
}`

const spotifyAlbumJSON = `{
	"id": "5ht7ItJgpBH7W6vJ5BqpPr",
	"name": "OK Computer",
	"artists": [{"id": "4Z8W4fKeB5YxbusRsdQVPb", "name": "Radiohead"}],
	"images": [{"url": "https://example.com/cover.jpg", "width": 640, "height": 640}],
	"external_ids": {"upc": "724384460129"},
	"external_urls": {"spotify": "https://open.spotify.com/album/5ht7ItJgpBH7W6vJ5BqpPr"}
}`

func TestSpotifyByISRC(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "isrc:GBAYE9700112", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"tracks":{"items":[` + spotifyTrackJSON + `]}}`))
	})

	svc := newSpotifyTestService(t, mux)

	res, err := svc.ByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, models.ProviderSpotify, res.Provider)
	assert.Equal(t, "Karma Police", res.Title)
	assert.Equal(t, "Radiohead", res.Artist)
	assert.Equal(t, "https://open.spotify.com/track/6LgJvl0Xdtc73RJ1mmpotq", res.URL)
	assert.Equal(t, "GBAYE9700112", res.ExternalID)
	require.NotNil(t, res.IsAlbum)
	assert.False(t, *res.IsAlbum)
}

func TestSpotifyByISRCNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracks":{"items":[]}}`))
	})

	svc := newSpotifyTestService(t, mux)

	res, err := svc.ByISRC(context.Background(), "NOPE12345678")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSpotifyByUPCRefetchesAlbum(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "upc:724384460129", r.URL.Query().Get("q"))
		assert.Equal(t, "album", r.URL.Query().Get("type"))
		// Search listings omit external_ids.
		_, _ = w.Write([]byte(`{"albums":{"items":[{"id":"5ht7ItJgpBH7W6vJ5BqpPr","name":"OK Computer"}]}}`))
	})
	mux.HandleFunc("/albums/5ht7ItJgpBH7W6vJ5BqpPr", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(spotifyAlbumJSON))
	})

	svc := newSpotifyTestService(t, mux)

	res, err := svc.ByUPC(context.Background(), "724384460129")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "724384460129", res.ExternalID, "UPC populated from the album fetch")
	require.NotNil(t, res.IsAlbum)
	assert.True(t, *res.IsAlbum)
}

func TestSpotifyByURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/6LgJvl0Xdtc73RJ1mmpotq", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(spotifyTrackJSON))
	})

	svc := newSpotifyTestService(t, mux)

	res, err := svc.ByURL(context.Background(), "https://open.spotify.com/track/6LgJvl0Xdtc73RJ1mmpotq")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsPrimary)
	assert.Equal(t, "Karma Police", res.Title)
}

func TestSpotifyByURLShortLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tracks/6LgJvl0Xdtc73RJ1mmpotq", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(spotifyTrackJSON))
	})

	svc := newSpotifyTestService(t, mux)
	svc.shortLinks = &ShortLinkResolver{fetch: func(ctx context.Context, link string) (int, http.Header, error) {
		require.Equal(t, "https://spotify.link/abc123", link)
		return http.StatusFound, http.Header{
			"Location": []string{"https://open.spotify.com/track/6LgJvl0Xdtc73RJ1mmpotq"},
		}, nil
	}}

	res, err := svc.ByURL(context.Background(), "https://spotify.link/abc123")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Karma Police", res.Title)
}

func TestSpotifyByURLShortLinkResolutionFailsSoft(t *testing.T) {
	svc := newSpotifyTestService(t, http.NewServeMux())
	svc.shortLinks = &ShortLinkResolver{fetch: func(ctx context.Context, link string) (int, http.Header, error) {
		return http.StatusOK, http.Header{}, nil
	}}

	res, err := svc.ByURL(context.Background(), "https://spotify.link/dead")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSpotifyByTitleArtistCascade(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artist", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"artists":{"items":[{"id":"4Z8W4fKeB5YxbusRsdQVPb","name":"Radiohead"}]}}`))
	})
	mux.HandleFunc("/artists/4Z8W4fKeB5YxbusRsdQVPb/albums", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"5ht7ItJgpBH7W6vJ5BqpPr","name":"OK Computer (Remastered)"}]}`))
	})
	mux.HandleFunc("/albums/5ht7ItJgpBH7W6vJ5BqpPr", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(spotifyAlbumJSON))
	})

	svc := newSpotifyTestService(t, mux)

	res, err := svc.ByTitleArtist(context.Background(), "OK Computer", "Radiohead")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "724384460129", res.ExternalID, "album matched through sanitized titles carries its UPC")
	require.NotNil(t, res.IsAlbum)
	assert.True(t, *res.IsAlbum)
}
