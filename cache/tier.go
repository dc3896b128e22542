package cache

import (
	"context"
	"time"

	"goflare.io/warden/internal/models"
)

// Tier is one storage tier behind the primary store. Tier faults are
// degraded to a miss by the store, never surfaced to readers.
type Tier interface {
	// Label identifies where entries served by this tier live.
	Label() models.Tier
	// Get returns the entry for the key, or found=false on a miss.
	Get(ctx context.Context, key string) (*models.Entry, bool, error)
	// Set writes the entry with the remaining TTL.
	Set(ctx context.Context, key string, entry *models.Entry, ttl time.Duration) error
	// Delete removes the key.
	Delete(ctx context.Context, key string) error
	// Clear removes every key written through this tier.
	Clear(ctx context.Context) error
	// Close releases tier resources.
	Close() error
}

// KeyLister is implemented by tiers that can enumerate their keys. The
// store warms its negative filter from listable tiers at construction so
// entries written by a previous process run stay reachable. Volatile
// tiers only ever hold entries written through this store and do not
// need to implement it.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}
