package repositories

import (
	"context"

	"tunelink/internal/models"
)

// RecordStore is the durable tier of the cache: lookup results are kept as
// records addressed by opaque pointers. Implementations must keep links out
// of the stored payload; link association is the index's job.
type RecordStore interface {
	// Create writes a new record and returns its pointer.
	Create(ctx context.Context, result *models.UnifiedResult) (string, error)

	// Get reads the record behind a pointer, or nil when the record no
	// longer exists.
	Get(ctx context.Context, pointer string) (*models.UnifiedResult, error)

	// UpdateInPlace replaces an existing record's content, keeping the
	// pointer valid. It reports false without writing when the record has
	// disappeared.
	UpdateInPlace(ctx context.Context, pointer string, result *models.UnifiedResult) (bool, error)

	// Health verifies the store is reachable and the session is usable.
	Health(ctx context.Context) error
}
