package models

// ProviderID identifies a music streaming provider. The string value is the
// short stable name used in persisted records; adding a provider must not
// change existing values.
type ProviderID string

const (
	ProviderAppleMusic ProviderID = "appleMusic"
	ProviderSpotify    ProviderID = "spotify"
	ProviderTidal      ProviderID = "tidal"
)

// AllProviders lists providers in declaration order. Presentation consumers
// rely on this ordering, so it is the single source of truth for iteration.
var AllProviders = []ProviderID{ProviderAppleMusic, ProviderSpotify, ProviderTidal}

// Known reports whether id is a provider this build understands. Records
// written by newer builds may carry unknown providers; readers skip them.
func (p ProviderID) Known() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

func (p ProviderID) String() string { return string(p) }

// EntityKind classifies what a provider URL or catalog entry refers to.
// Only tracks and albums are first-class in lookups; artists appear as an
// intermediate search step.
type EntityKind int

const (
	KindUnknown EntityKind = iota
	KindTrack
	KindAlbum
	KindArtist
)

func (k EntityKind) String() string {
	switch k {
	case KindTrack:
		return "track"
	case KindAlbum:
		return "album"
	case KindArtist:
		return "artist"
	default:
		return "unknown"
	}
}
