package repositories

import (
	"context"
	"time"
)

// PointerRow is one link's index entry: the durable-store pointer its entity
// lives under and when that record was last refreshed.
type PointerRow struct {
	Pointer    string
	LookedUpAt time.Time
}

// LinkIndex maps normalized provider links to durable-store pointers. It is
// the fast local tier of the cache; the records themselves live behind a
// RecordStore.
type LinkIndex interface {
	// GetPointer returns the index entry for a normalized link, or nil when
	// the link is unknown.
	GetPointer(ctx context.Context, link string) (*PointerRow, error)

	// CreatePointer registers a new pointer and associates the given links
	// with it. Links already owned by another pointer keep their original
	// owner.
	CreatePointer(ctx context.Context, pointer string, lookedUpAt time.Time, links []string) error

	// AddLinks associates more links with an existing pointer. First writer
	// wins: a link that already points elsewhere is left untouched.
	AddLinks(ctx context.Context, pointer string, links []string) error

	// TouchPointer records a refresh time for a pointer.
	TouchPointer(ctx context.Context, pointer string, lookedUpAt time.Time) error

	// RemovePointer drops a pointer and every link associated with it.
	RemovePointer(ctx context.Context, pointer string) error

	// Health checks the underlying store.
	Health(ctx context.Context) error

	Close() error
}
