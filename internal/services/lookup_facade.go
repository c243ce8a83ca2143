package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tunelink/internal/models"
	"tunelink/internal/repositories"
	"tunelink/internal/sanitize"
)

// textResolver is the slice of the aggregator the facade needs.
type textResolver interface {
	LookupByText(ctx context.Context, content string) <-chan *models.UnifiedResult
}

// LookupFacade fronts the aggregator with the two-tier cache: a local link
// index mapping normalized links to record pointers, and a durable record
// store holding the results themselves. Cache failures degrade to plain
// resolution; they never fail a lookup.
type LookupFacade struct {
	resolver textResolver
	index    repositories.LinkIndex
	store    repositories.RecordStore
	ttl      time.Duration
	now      func() time.Time
}

// NewLookupFacade builds the facade. Records older than cacheDays are
// treated as stale and refreshed on access. Passing a nil index or store
// disables caching entirely.
func NewLookupFacade(resolver textResolver, index repositories.LinkIndex, store repositories.RecordStore, cacheDays int) *LookupFacade {
	return &LookupFacade{
		resolver: resolver,
		index:    index,
		store:    store,
		ttl:      time.Duration(cacheDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// LookupByText resolves every provider link in content, serving from cache
// where possible. Fresh hits are emitted immediately; misses and stale
// entries go through the aggregator, and its results are written back before
// emission.
func (f *LookupFacade) LookupByText(ctx context.Context, content string) <-chan *models.UnifiedResult {
	if f.index == nil || f.store == nil {
		return f.resolver.LookupByText(ctx, content)
	}

	out := make(chan *models.UnifiedResult, 4)
	go func() {
		defer close(out)

		links := ExtractLinks(content)
		toResolve := make([]string, 0, len(links))
		stale := make(map[string]string)                // normalized link -> pointer
		fresh := make(map[string]*models.UnifiedResult) // pointer -> served result
		var freshOrder []string

		for _, link := range links {
			norm := sanitize.Link(link)
			cached, pointer, state := f.classify(ctx, norm)
			switch state {
			case cacheFresh:
				// Two links landing on the same pointer are one entity.
				if seen, ok := fresh[pointer]; ok {
					seen.AddLink(link)
					continue
				}
				cached.AddLink(link)
				fresh[pointer] = cached
				freshOrder = append(freshOrder, pointer)
			case cacheStale:
				stale[norm] = pointer
				toResolve = append(toResolve, link)
			case cacheMiss:
				toResolve = append(toResolve, link)
			}
		}

		for _, pointer := range freshOrder {
			emit(ctx, out, fresh[pointer])
		}

		if len(toResolve) == 0 {
			return
		}
		for result := range f.resolver.LookupByText(ctx, strings.Join(toResolve, " ")) {
			f.persist(ctx, result, stale)
			emit(ctx, out, result)
		}
	}()
	return out
}

type cacheState int

const (
	cacheMiss cacheState = iota
	cacheFresh
	cacheStale
)

// classify decides how a normalized link should be served. A pointer whose
// record has disappeared is evicted and treated as a miss.
func (f *LookupFacade) classify(ctx context.Context, norm string) (*models.UnifiedResult, string, cacheState) {
	row, err := f.index.GetPointer(ctx, norm)
	if err != nil {
		slog.Warn("link index read failed, resolving directly", "link", norm, "error", err)
		return nil, "", cacheMiss
	}
	if row == nil {
		return nil, "", cacheMiss
	}

	if f.now().Sub(row.LookedUpAt) >= f.ttl {
		return nil, row.Pointer, cacheStale
	}

	cached, err := f.store.Get(ctx, row.Pointer)
	if err != nil {
		slog.Warn("record store read failed, resolving directly", "pointer", row.Pointer, "error", err)
		return nil, "", cacheMiss
	}
	if cached == nil {
		f.evict(ctx, row.Pointer)
		return nil, "", cacheMiss
	}
	return cached, row.Pointer, cacheFresh
}

// persist writes a resolved result back to the cache. When one of the
// result's links had a stale pointer the record is refreshed in place so the
// pointer stays valid; otherwise a new record is created. Write failures are
// logged and the result is served anyway.
func (f *LookupFacade) persist(ctx context.Context, result *models.UnifiedResult, stale map[string]string) {
	now := f.now()
	result.LookedUpAt = now

	norms := make([]string, 0, len(result.Links))
	for _, link := range result.Links {
		norms = append(norms, sanitize.Link(link))
	}

	var pointer string
	for _, norm := range norms {
		if p, ok := stale[norm]; ok {
			pointer = p
			break
		}
	}

	if pointer != "" {
		ok, err := f.store.UpdateInPlace(ctx, pointer, result)
		if err != nil {
			slog.Warn("record refresh failed", "pointer", pointer, "error", err)
			return
		}
		if ok {
			if err := f.index.TouchPointer(ctx, pointer, now); err != nil {
				slog.Warn("pointer touch failed", "pointer", pointer, "error", err)
			}
			if err := f.index.AddLinks(ctx, pointer, norms); err != nil {
				slog.Warn("link association failed", "pointer", pointer, "error", err)
			}
			return
		}
		// The record is gone; drop the dangling pointer and start over.
		f.evict(ctx, pointer)
	}

	pointer, err := f.store.Create(ctx, result)
	if err != nil {
		slog.Warn("record create failed, serving uncached", "error", err)
		return
	}
	if err := f.index.CreatePointer(ctx, pointer, now, norms); err != nil {
		slog.Warn("pointer create failed", "pointer", pointer, "error", err)
	}
}

func (f *LookupFacade) evict(ctx context.Context, pointer string) {
	if err := f.index.RemovePointer(ctx, pointer); err != nil {
		slog.Warn("pointer eviction failed", "pointer", pointer, "error", err)
	}
}

func emit(ctx context.Context, out chan<- *models.UnifiedResult, result *models.UnifiedResult) {
	select {
	case out <- result:
	case <-ctx.Done():
	}
}
