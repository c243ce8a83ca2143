package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"tunelink/internal/models"
)

// ResolutionService fans lookups out across the configured providers and
// merges per-provider hits into unified results. Provider auth failures
// disable that provider for the request; they never fail the whole lookup.
type ResolutionService struct {
	providers          []ProviderService
	parallelIdentifier bool
}

// NewResolutionService builds the aggregator. Providers keep their given
// order for presentation and for sequential identifier lookups.
func NewResolutionService(providers []ProviderService, parallelIdentifier bool) *ResolutionService {
	return &ResolutionService{
		providers:          providers,
		parallelIdentifier: parallelIdentifier,
	}
}

// Providers returns the configured provider set.
func (s *ResolutionService) Providers() []ProviderService {
	return s.providers
}

// linkHit pairs a primary catalog hit with the link that produced it.
type linkHit struct {
	link string
	res  *models.ProviderResult
}

// LookupByText extracts provider links from free-form text and resolves each
// recognized entity across all providers. Results are emitted as they become
// complete; the channel is closed when every entity is done. Two links that
// turn out to reference the same entity collapse into one result carrying
// both links.
func (s *ResolutionService) LookupByText(ctx context.Context, content string) <-chan *models.UnifiedResult {
	links := ExtractLinks(content)

	out := make(chan *models.UnifiedResult, len(links))
	if len(links) == 0 {
		close(out)
		return out
	}

	go func() {
		defer close(out)

		hits := s.collectHits(ctx, links)
		groups := groupHits(hits)

		var wg sync.WaitGroup
		for _, group := range groups {
			wg.Add(1)
			go func(group *models.UnifiedResult) {
				defer wg.Done()
				s.fillOthers(ctx, group)
				select {
				case out <- group:
				case <-ctx.Done():
				}
			}(group)
		}
		wg.Wait()
	}()

	return out
}

// collectHits runs every link through every provider's URL lookup in
// parallel and returns the hits in a stable link-then-provider order.
func (s *ResolutionService) collectHits(ctx context.Context, links []string) []linkHit {
	type slot struct {
		hit linkHit
		ok  bool
	}
	slots := make([]slot, len(links)*len(s.providers))

	concurrency := len(links)
	if concurrency > 8 {
		concurrency = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency * len(s.providers))

	for li, link := range links {
		for pi, provider := range s.providers {
			idx := li*len(s.providers) + pi
			link, provider := link, provider
			g.Go(func() error {
				res, err := provider.ByURL(gctx, link)
				if err != nil {
					slog.Warn("provider disabled for request",
						"provider", provider.Provider(), "error", err)
					return nil
				}
				if res != nil {
					slots[idx] = slot{hit: linkHit{link: link, res: res}, ok: true}
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	hits := make([]linkHit, 0, len(slots))
	for _, sl := range slots {
		if sl.ok {
			hits = append(hits, sl.hit)
		}
	}
	return hits
}

// groupHits merges hits that reference the same entity before anything is
// emitted: a duplicate of an already-grouped entity only contributes its
// link, and a hit matching an existing group by external ID or by
// title/artist joins that group.
func groupHits(hits []linkHit) []*models.UnifiedResult {
	var groups []*models.UnifiedResult

	for _, hit := range hits {
		var home *models.UnifiedResult
		for _, group := range groups {
			if group.Matches(hit.res) {
				home = group
				break
			}
		}
		if home == nil {
			groups = append(groups, models.NewUnifiedResult(hit.res, hit.link))
			continue
		}
		// The group's first hit keeps the primary flag.
		hit.res.IsPrimary = false
		home.Attach(hit.res)
		home.AddLink(hit.link)
	}

	return groups
}

// fillOthers queries every provider missing from the group, preferring the
// primary entry's external identifier and falling back to a title/artist
// search. Failures leave the slot absent.
func (s *ResolutionService) fillOthers(ctx context.Context, group *models.UnifiedResult) {
	seed := group.Primary()
	if seed == nil {
		return
	}

	missing := make([]ProviderService, 0, len(s.providers))
	for _, provider := range s.providers {
		if !group.HasProvider(provider.Provider()) {
			missing = append(missing, provider)
		}
	}

	found := make([]*models.ProviderResult, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range missing {
		i, provider := i, provider
		g.Go(func() error {
			res, err := s.lookupFromSeed(gctx, provider, seed)
			if err != nil {
				slog.Warn("provider disabled for request",
					"provider", provider.Provider(), "error", err)
				return nil
			}
			found[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range found {
		if res != nil {
			group.Attach(res)
		}
	}
}

// lookupFromSeed resolves one provider's entry for an entity already found
// elsewhere.
func (s *ResolutionService) lookupFromSeed(ctx context.Context, provider ProviderService, seed *models.ProviderResult) (*models.ProviderResult, error) {
	if seed.ExternalID != "" && seed.IsAlbum != nil {
		var (
			res *models.ProviderResult
			err error
		)
		if *seed.IsAlbum {
			res, err = provider.ByUPC(ctx, seed.ExternalID)
		} else {
			res, err = provider.ByISRC(ctx, seed.ExternalID)
		}
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	if seed.Title == "" || seed.Artist == "" {
		return nil, nil
	}
	return provider.ByTitleArtist(ctx, seed.Title, seed.Artist)
}

// LookupByISRC resolves a track by ISRC across all providers.
func (s *ResolutionService) LookupByISRC(ctx context.Context, isrc string) (*models.UnifiedResult, error) {
	return s.lookupByIdentifier(ctx, func(ctx context.Context, p ProviderService) (*models.ProviderResult, error) {
		return p.ByISRC(ctx, isrc)
	})
}

// LookupByUPC resolves an album by UPC across all providers. The UPC is
// forwarded verbatim.
func (s *ResolutionService) LookupByUPC(ctx context.Context, upc string) (*models.UnifiedResult, error) {
	return s.lookupByIdentifier(ctx, func(ctx context.Context, p ProviderService) (*models.ProviderResult, error) {
		return p.ByUPC(ctx, upc)
	})
}

// LookupByTitleArtist resolves an entity by fuzzy title and artist match
// across all providers.
func (s *ResolutionService) LookupByTitleArtist(ctx context.Context, title, artist string) (*models.UnifiedResult, error) {
	return s.lookupByIdentifier(ctx, func(ctx context.Context, p ProviderService) (*models.ProviderResult, error) {
		return p.ByTitleArtist(ctx, title, artist)
	})
}

// lookupByIdentifier runs one query shape against the providers. The default
// mode asks providers one at a time in presentation order and stops at the
// first answer; parallel mode queries all providers at once and seeds from
// the first answering provider in presentation order. Either way the answer
// becomes the primary entry and the remaining providers are filled the same
// way the text path fills them, including the title/artist fallback for
// providers whose identifier lookup comes back empty.
func (s *ResolutionService) lookupByIdentifier(ctx context.Context, query func(context.Context, ProviderService) (*models.ProviderResult, error)) (*models.UnifiedResult, error) {
	if s.parallelIdentifier {
		return s.identifierParallel(ctx, query)
	}
	return s.identifierSequential(ctx, query)
}

func (s *ResolutionService) identifierSequential(ctx context.Context, query func(context.Context, ProviderService) (*models.ProviderResult, error)) (*models.UnifiedResult, error) {
	for _, provider := range s.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := query(ctx, provider)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			slog.Warn("provider disabled for request",
				"provider", provider.Provider(), "error", err)
			continue
		}
		if res == nil {
			continue
		}

		res.IsPrimary = true
		group := models.NewUnifiedResult(res, "")
		s.fillOthers(ctx, group)
		return group, nil
	}

	return nil, nil
}

func (s *ResolutionService) identifierParallel(ctx context.Context, query func(context.Context, ProviderService) (*models.ProviderResult, error)) (*models.UnifiedResult, error) {
	found := make([]*models.ProviderResult, len(s.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range s.providers {
		i, provider := i, provider
		g.Go(func() error {
			res, err := query(gctx, provider)
			if err != nil {
				slog.Warn("provider disabled for request",
					"provider", provider.Provider(), "error", err)
				return nil
			}
			found[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var group *models.UnifiedResult
	for _, res := range found {
		if res == nil {
			continue
		}
		if group == nil {
			res.IsPrimary = true
			group = models.NewUnifiedResult(res, "")
			continue
		}
		group.Attach(res)
	}
	if group == nil {
		return nil, nil
	}

	s.fillOthers(ctx, group)
	return group, nil
}

// Health reports per-provider health.
func (s *ResolutionService) Health(ctx context.Context) map[models.ProviderID]error {
	out := make(map[models.ProviderID]error, len(s.providers))
	for _, provider := range s.providers {
		out[provider.Provider()] = provider.Health(ctx)
	}
	return out
}
