package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualEntity(t *testing.T) {
	tests := []struct {
		name string
		a, b *ProviderResult
		want bool
	}{
		{
			name: "same provider same external id",
			a:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861", URL: "https://open.spotify.com/track/a"},
			b:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861", URL: "https://open.spotify.com/track/b"},
			want: true,
		},
		{
			name: "same provider different external id",
			a:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861"},
			b:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "GBUM71029604"},
			want: false,
		},
		{
			name: "missing external ids fall back to url",
			a:    &ProviderResult{Provider: ProviderTidal, URL: "https://tidal.com/browse/track/1"},
			b:    &ProviderResult{Provider: ProviderTidal, URL: "https://tidal.com/browse/track/1"},
			want: true,
		},
		{
			name: "different providers never equal",
			a:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861"},
			b:    &ProviderResult{Provider: ProviderTidal, ExternalID: "USUM71703861"},
			want: false,
		},
		{
			name: "primary flag ignored",
			a:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861", IsPrimary: true},
			b:    &ProviderResult{Provider: ProviderSpotify, ExternalID: "USUM71703861"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.EqualEntity(tt.b))
		})
	}
}

func TestMatchesEntity(t *testing.T) {
	spotify := &ProviderResult{Provider: ProviderSpotify, Title: "Karma Police", Artist: "Radiohead", ExternalID: "GBAYE9700112"}

	assert.True(t, spotify.MatchesEntity(&ProviderResult{
		Provider: ProviderTidal, Title: "anything", Artist: "anyone", ExternalID: "GBAYE9700112",
	}), "shared external id matches regardless of titles")

	assert.True(t, spotify.MatchesEntity(&ProviderResult{
		Provider: ProviderAppleMusic, Title: " karma police ", Artist: "RADIOHEAD",
	}), "title and artist compare case-insensitively after trimming")

	assert.False(t, spotify.MatchesEntity(&ProviderResult{
		Provider: ProviderAppleMusic, Title: "Paranoid Android", Artist: "Radiohead",
	}))
}

func TestUnifiedResultAttach(t *testing.T) {
	primary := &ProviderResult{Provider: ProviderSpotify, Title: "Karma Police", IsPrimary: true}
	ur := NewUnifiedResult(primary, "https://open.spotify.com/track/abc")

	require.True(t, ur.HasProvider(ProviderSpotify))
	assert.Equal(t, primary, ur.Primary())

	attached := ur.Attach(&ProviderResult{Provider: ProviderTidal, Title: "Karma Police"})
	assert.True(t, attached)

	// One entry per provider; the first wins.
	attached = ur.Attach(&ProviderResult{Provider: ProviderTidal, Title: "Karma Police (Live)"})
	assert.False(t, attached)
	assert.Equal(t, "Karma Police", ur.Entries[ProviderTidal].Title)
}

func TestUnifiedResultOrdered(t *testing.T) {
	ur := NewUnifiedResult(nil, "")
	ur.Attach(&ProviderResult{Provider: ProviderTidal})
	ur.Attach(&ProviderResult{Provider: ProviderAppleMusic})
	ur.Attach(&ProviderResult{Provider: ProviderSpotify})

	ordered := ur.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, ProviderAppleMusic, ordered[0].Provider)
	assert.Equal(t, ProviderSpotify, ordered[1].Provider)
	assert.Equal(t, ProviderTidal, ordered[2].Provider)
}

func TestUnifiedResultAddLink(t *testing.T) {
	ur := NewUnifiedResult(nil, "")
	ur.AddLink("https://open.spotify.com/track/abc")
	ur.AddLink("https://tidal.com/browse/track/1")
	ur.AddLink("https://open.spotify.com/track/abc")

	assert.Equal(t, []string{
		"https://open.spotify.com/track/abc",
		"https://tidal.com/browse/track/1",
	}, ur.Links)
}

func TestUnifiedResultMatches(t *testing.T) {
	ur := NewUnifiedResult(&ProviderResult{
		Provider: ProviderSpotify, Title: "Karma Police", Artist: "Radiohead", ExternalID: "GBAYE9700112", IsPrimary: true,
	}, "")

	assert.True(t, ur.Matches(&ProviderResult{
		Provider: ProviderSpotify, ExternalID: "GBAYE9700112",
	}), "same provider, same entity")

	assert.False(t, ur.Matches(&ProviderResult{
		Provider: ProviderSpotify, ExternalID: "USUM71703861", Title: "Karma Police", Artist: "Radiohead",
	}), "same provider but a different catalog entry is not a duplicate")

	assert.True(t, ur.Matches(&ProviderResult{
		Provider: ProviderTidal, Title: "Karma Police", Artist: "Radiohead",
	}), "other provider matching by title and artist")
}
