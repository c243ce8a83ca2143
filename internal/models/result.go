package models

import (
	"strings"
	"time"
)

// ProviderResult is one provider's view of one entity. Values are built by
// the provider lookups and never mutated afterwards, except for IsPrimary
// which the aggregator sets when wrapping the first match.
type ProviderResult struct {
	Provider     ProviderID `json:"provider"`
	Artist       string     `json:"artist"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	MarketRegion string     `json:"marketRegion"`
	ExternalID   string     `json:"externalId,omitempty"` // ISRC for tracks, UPC for albums
	ArtURL       string     `json:"artUrl,omitempty"`     // may embed {w}/{h} placeholders
	IsAlbum      *bool      `json:"isAlbum,omitempty"`    // nil when unknown
	IsPrimary    bool       `json:"isPrimary,omitempty"`
}

// Bool returns a pointer suitable for ProviderResult.IsAlbum.
func Bool(v bool) *bool { return &v }

// EqualEntity reports whether two results describe the same catalog entry on
// the same provider. IsPrimary and market are ignored; they vary with how the
// entry was reached, not what it is.
func (r *ProviderResult) EqualEntity(other *ProviderResult) bool {
	if r == nil || other == nil {
		return false
	}
	if r.Provider != other.Provider {
		return false
	}
	if r.ExternalID != "" && other.ExternalID != "" {
		return r.ExternalID == other.ExternalID
	}
	return r.URL == other.URL
}

// MatchesEntity reports whether a result from another provider plausibly
// refers to the same underlying recording: equal non-empty external IDs, or
// case-insensitive equality of the trimmed (title, artist) pair.
func (r *ProviderResult) MatchesEntity(other *ProviderResult) bool {
	if r == nil || other == nil {
		return false
	}
	if r.ExternalID != "" && r.ExternalID == other.ExternalID {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Title), strings.TrimSpace(other.Title)) &&
		strings.EqualFold(strings.TrimSpace(r.Artist), strings.TrimSpace(other.Artist))
}

// UnifiedResult maps each provider to its view of one underlying recording or
// release, at most one entry per provider, plus the ordered set of input
// links that produced it. Input links are never persisted to the object
// store; they live only in the local cache index.
type UnifiedResult struct {
	Entries    map[ProviderID]*ProviderResult
	Links      []string
	LookedUpAt time.Time
}

// NewUnifiedResult seeds a result with the primary provider entry.
func NewUnifiedResult(primary *ProviderResult, link string) *UnifiedResult {
	ur := &UnifiedResult{
		Entries:    make(map[ProviderID]*ProviderResult),
		LookedUpAt: time.Now().UTC(),
	}
	if primary != nil {
		ur.Entries[primary.Provider] = primary
	}
	if link != "" {
		ur.AddLink(link)
	}
	return ur
}

// Attach adds a secondary provider entry. The first entry per provider wins;
// attaching a second view of the same provider is a no-op.
func (u *UnifiedResult) Attach(res *ProviderResult) bool {
	if res == nil {
		return false
	}
	if _, exists := u.Entries[res.Provider]; exists {
		return false
	}
	u.Entries[res.Provider] = res
	return true
}

// HasProvider reports whether the result already carries an entry for p.
func (u *UnifiedResult) HasProvider(p ProviderID) bool {
	_, ok := u.Entries[p]
	return ok
}

// Primary returns the entry flagged IsPrimary, or nil for identifier-path
// results built before the primary flag is set.
func (u *UnifiedResult) Primary() *ProviderResult {
	for _, res := range u.Entries {
		if res.IsPrimary {
			return res
		}
	}
	return nil
}

// Ordered returns provider entries in ProviderID declaration order.
func (u *UnifiedResult) Ordered() []*ProviderResult {
	out := make([]*ProviderResult, 0, len(u.Entries))
	for _, p := range AllProviders {
		if res, ok := u.Entries[p]; ok {
			out = append(out, res)
		}
	}
	// Unknown providers (future readers) sort after the known set.
	for p, res := range u.Entries {
		if !p.Known() {
			out = append(out, res)
		}
	}
	return out
}

// AddLink appends an input link, preserving order and dropping duplicates.
func (u *UnifiedResult) AddLink(link string) {
	for _, existing := range u.Links {
		if existing == link {
			return
		}
	}
	u.Links = append(u.Links, link)
}

// Matches reports whether a provider result belongs to this unified result:
// either the same provider already carries the same catalog entry, or some
// entry plausibly describes the same underlying recording.
func (u *UnifiedResult) Matches(res *ProviderResult) bool {
	if res == nil {
		return false
	}
	if mine, ok := u.Entries[res.Provider]; ok {
		return mine.EqualEntity(res)
	}
	for _, mine := range u.Entries {
		if mine.MatchesEntity(res) {
			return true
		}
	}
	return false
}

// SharesEntryWith reports whether two unified results are duplicates: they
// carry at least one (provider, entry) pair describing the same entity.
func (u *UnifiedResult) SharesEntryWith(other *UnifiedResult) bool {
	if other == nil {
		return false
	}
	for p, res := range u.Entries {
		if theirs, ok := other.Entries[p]; ok && res.EqualEntity(theirs) {
			return true
		}
	}
	return false
}
