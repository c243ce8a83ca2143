package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunelink/internal/models"
	"tunelink/internal/testutil"
)

func drain(t *testing.T, ch <-chan *models.UnifiedResult) []*models.UnifiedResult {
	t.Helper()
	var out []*models.UnifiedResult
	timeout := time.After(5 * time.Second)
	for {
		select {
		case result, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, result)
		case <-timeout:
			t.Fatal("timed out draining results")
		}
	}
}

func TestLookupByTextSingleLink(t *testing.T) {
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			if link != "https://open.spotify.com/track/abc" {
				return nil, nil
			}
			res := testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", link, "GBAYE9700112")
			res.IsPrimary = true
			return res, nil
		},
	}
	tidal := &testutil.FakeProvider{
		ID: models.ProviderTidal,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			require.Equal(t, "GBAYE9700112", isrc)
			return testutil.TrackResult(models.ProviderTidal, "Karma Police", "Radiohead", "https://tidal.com/browse/track/1", isrc), nil
		},
	}

	svc := NewResolutionService([]ProviderService{spotify, tidal}, false)
	results := drain(t, svc.LookupByText(context.Background(), "listen: https://open.spotify.com/track/abc"))

	require.Len(t, results, 1)
	result := results[0]
	assert.True(t, result.HasProvider(models.ProviderSpotify))
	assert.True(t, result.HasProvider(models.ProviderTidal), "missing provider filled from ISRC")
	assert.Equal(t, []string{"https://open.spotify.com/track/abc"}, result.Links)
	require.NotNil(t, result.Primary())
	assert.Equal(t, models.ProviderSpotify, result.Primary().Provider)
}

func TestLookupByTextDuplicateLinksCollapse(t *testing.T) {
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			if link == "https://open.spotify.com/track/abc" {
				res := testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", link, "GBAYE9700112")
				res.IsPrimary = true
				return res, nil
			}
			return nil, nil
		},
	}
	tidal := &testutil.FakeProvider{
		ID: models.ProviderTidal,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			if link == "https://tidal.com/browse/track/1" {
				res := testutil.TrackResult(models.ProviderTidal, "Karma Police", "Radiohead", link, "GBAYE9700112")
				res.IsPrimary = true
				return res, nil
			}
			return nil, nil
		},
	}

	svc := NewResolutionService([]ProviderService{spotify, tidal}, false)
	content := "https://open.spotify.com/track/abc https://tidal.com/browse/track/1"
	results := drain(t, svc.LookupByText(context.Background(), content))

	require.Len(t, results, 1, "links to the same recording collapse into one result")
	result := results[0]
	assert.True(t, result.HasProvider(models.ProviderSpotify))
	assert.True(t, result.HasProvider(models.ProviderTidal))
	assert.ElementsMatch(t, []string{
		"https://open.spotify.com/track/abc",
		"https://tidal.com/browse/track/1",
	}, result.Links)

	primaries := 0
	for _, entry := range result.Ordered() {
		if entry.IsPrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries, "a merged result keeps a single primary entry")
}

func TestLookupByTextDistinctEntities(t *testing.T) {
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			switch link {
			case "https://open.spotify.com/track/abc":
				res := testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", link, "GBAYE9700112")
				res.IsPrimary = true
				return res, nil
			case "https://open.spotify.com/track/def":
				res := testutil.TrackResult(models.ProviderSpotify, "Paranoid Android", "Radiohead", link, "GBAYE9700111")
				res.IsPrimary = true
				return res, nil
			}
			return nil, nil
		},
	}

	svc := NewResolutionService([]ProviderService{spotify}, false)
	content := "https://open.spotify.com/track/abc https://open.spotify.com/track/def"
	results := drain(t, svc.LookupByText(context.Background(), content))

	assert.Len(t, results, 2)
}

func TestLookupByTextNoLinks(t *testing.T) {
	svc := NewResolutionService(nil, false)
	results := drain(t, svc.LookupByText(context.Background(), "nothing to see here"))
	assert.Empty(t, results)
}

func TestLookupByTextAuthFailureSkipsProvider(t *testing.T) {
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			return nil, fmt.Errorf("%w: token endpoint down", ErrAuthUnavailable)
		},
	}
	tidal := &testutil.FakeProvider{
		ID: models.ProviderTidal,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			res := testutil.TrackResult(models.ProviderTidal, "Karma Police", "Radiohead", link, "GBAYE9700112")
			res.IsPrimary = true
			return res, nil
		},
	}

	svc := NewResolutionService([]ProviderService{spotify, tidal}, false)
	results := drain(t, svc.LookupByText(context.Background(), "https://tidal.com/browse/track/1"))

	require.Len(t, results, 1)
	assert.False(t, results[0].HasProvider(models.ProviderSpotify))
	assert.True(t, results[0].HasProvider(models.ProviderTidal))
}

func TestFillOthersFallsBackToTitleArtist(t *testing.T) {
	seeded := &testutil.FakeProvider{
		ID: models.ProviderAppleMusic,
		ByURLFunc: func(ctx context.Context, link string) (*models.ProviderResult, error) {
			// Some catalog entries carry no ISRC.
			res := &models.ProviderResult{
				Provider: models.ProviderAppleMusic,
				Title:    "Karma Police", Artist: "Radiohead",
				URL: link, IsAlbum: models.Bool(false), IsPrimary: true,
			}
			return res, nil
		},
	}
	searched := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByTitleArtistFn: func(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
			require.Equal(t, "Karma Police", title)
			require.Equal(t, "Radiohead", artist)
			return testutil.TrackResult(models.ProviderSpotify, title, artist, "https://open.spotify.com/track/abc", ""), nil
		},
	}

	svc := NewResolutionService([]ProviderService{seeded, searched}, false)
	results := drain(t, svc.LookupByText(context.Background(), "https://music.apple.com/us/song/99"))

	require.Len(t, results, 1)
	assert.True(t, results[0].HasProvider(models.ProviderSpotify))
}

func TestLookupByISRCSequential(t *testing.T) {
	var order []models.ProviderID
	apple := &testutil.FakeProvider{
		ID: models.ProviderAppleMusic,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			order = append(order, models.ProviderAppleMusic)
			return nil, nil
		},
	}
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			order = append(order, models.ProviderSpotify)
			return testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", "https://open.spotify.com/track/abc", isrc), nil
		},
	}

	svc := NewResolutionService([]ProviderService{apple, spotify}, false)
	result, err := svc.LookupByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, result)

	// Providers are asked in presentation order until one answers; the fill
	// pass may re-query the empty providers afterwards.
	require.GreaterOrEqual(t, len(order), 2)
	assert.Equal(t, []models.ProviderID{models.ProviderAppleMusic, models.ProviderSpotify}, order[:2])
	assert.True(t, result.HasProvider(models.ProviderSpotify))
	assert.False(t, result.HasProvider(models.ProviderAppleMusic))
	require.NotNil(t, result.Primary())
	assert.Equal(t, models.ProviderSpotify, result.Primary().Provider)
}

func TestLookupByISRCFillsCatalogGapByTitleArtist(t *testing.T) {
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			return testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", "https://open.spotify.com/track/abc", isrc), nil
		},
	}
	// Tidal has no entry under this ISRC but does carry the recording.
	tidal := &testutil.FakeProvider{
		ID: models.ProviderTidal,
		ByTitleArtistFn: func(ctx context.Context, title, artist string) (*models.ProviderResult, error) {
			require.Equal(t, "Karma Police", title)
			require.Equal(t, "Radiohead", artist)
			return testutil.TrackResult(models.ProviderTidal, title, artist, "https://tidal.com/browse/track/1", ""), nil
		},
	}

	svc := NewResolutionService([]ProviderService{spotify, tidal}, false)
	result, err := svc.LookupByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.HasProvider(models.ProviderTidal), "identifier gaps fall back to a title and artist search")
	require.NotNil(t, result.Primary())
	assert.Equal(t, models.ProviderSpotify, result.Primary().Provider)
}

func TestLookupByISRCParallel(t *testing.T) {
	apple := &testutil.FakeProvider{
		ID: models.ProviderAppleMusic,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			return testutil.TrackResult(models.ProviderAppleMusic, "Karma Police", "Radiohead", "https://music.apple.com/us/song/99", isrc), nil
		},
	}
	spotify := &testutil.FakeProvider{
		ID: models.ProviderSpotify,
		ByISRCFunc: func(ctx context.Context, isrc string) (*models.ProviderResult, error) {
			return testutil.TrackResult(models.ProviderSpotify, "Karma Police", "Radiohead", "https://open.spotify.com/track/abc", isrc), nil
		},
	}

	svc := NewResolutionService([]ProviderService{apple, spotify}, true)
	result, err := svc.LookupByISRC(context.Background(), "GBAYE9700112")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Entries, 2)
	require.NotNil(t, result.Primary())
	assert.Equal(t, models.ProviderAppleMusic, result.Primary().Provider, "the first provider in presentation order seeds the result")
}

func TestLookupByUPCNotFound(t *testing.T) {
	apple := &testutil.FakeProvider{ID: models.ProviderAppleMusic}

	svc := NewResolutionService([]ProviderService{apple}, false)
	result, err := svc.LookupByUPC(context.Background(), "00602567924166")
	require.NoError(t, err)
	assert.Nil(t, result)
}
