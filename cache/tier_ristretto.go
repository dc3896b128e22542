package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"goflare.io/warden/internal/models"
)

// RistrettoTier is a volatile overflow tier. Entries evicted from the
// small, policy-exact primary tier can still be served from here without
// touching a durable tier.
type RistrettoTier struct {
	cache  *ristretto.Cache
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewRistrettoTier creates a RistrettoTier bounded by maxCost bytes.
func NewRistrettoTier(maxCost int64, clock clockwork.Clock, logger *zap.Logger) (*RistrettoTier, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	numCounters := maxCost / 100
	if numCounters < 1000 {
		numCounters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RistrettoTier{cache: c, clock: clock, logger: logger}, nil
}

// Label implements Tier.
func (t *RistrettoTier) Label() models.Tier {
	return models.TierMemory
}

// Get implements Tier.
func (t *RistrettoTier) Get(_ context.Context, key string) (*models.Entry, bool, error) {
	value, found := t.cache.Get(key)
	if !found {
		return nil, false, nil
	}

	entry, ok := value.(*models.Entry)
	if !ok {
		t.logger.Error("invalid cache entry type", zap.String("key", key))
		t.cache.Del(key)
		return nil, false, nil
	}

	if entry.IsExpiredAt(t.clock.Now()) {
		t.cache.Del(key)
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

// Set implements Tier. Ristretto admission may reject the write; that is
// acceptable for an overflow tier.
func (t *RistrettoTier) Set(_ context.Context, key string, entry *models.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	cost := entry.Size
	if cost <= 0 {
		cost = 1
	}
	if !t.cache.SetWithTTL(key, entry.Clone(), cost, ttl) {
		t.logger.Debug("ristretto rejected entry", zap.String("key", key))
	}
	return nil
}

// Delete implements Tier.
func (t *RistrettoTier) Delete(_ context.Context, key string) error {
	t.cache.Del(key)
	return nil
}

// Clear implements Tier.
func (t *RistrettoTier) Clear(_ context.Context) error {
	t.cache.Clear()
	return nil
}

// Close implements Tier.
func (t *RistrettoTier) Close() error {
	t.cache.Close()
	return nil
}
