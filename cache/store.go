package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/warden/internal/models"
	"goflare.io/warden/metrics"
	"goflare.io/warden/pkg/serialization"
)

// Store is a TTL key/value store for one serializable value type.
// Readers always receive decoded copies, never the stored entry.
type Store[V any] struct {
	cfg     Config
	codec   serialization.Codec
	clock   clockwork.Clock
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics
	tiers   []Tier
	filter  *negativeFilter
	sf      singleflight.Group

	mu      sync.Mutex
	entries map[string]*models.Entry

	txMu sync.Mutex
	txs  map[string]*transaction[V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expiries  atomic.Int64

	cancelSweep context.CancelFunc
}

// Option configures a Store.
type Option func(*storeDeps)

type storeDeps struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	metrics *metrics.Metrics
	tiers   []Tier
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *storeDeps) { d.logger = logger }
}

// WithClock sets the clock used for TTL and eviction decisions.
func WithClock(clock clockwork.Clock) Option {
	return func(d *storeDeps) { d.clock = clock }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *storeDeps) { d.metrics = m }
}

// WithTiers appends fallback tiers, consulted in order on a primary
// miss. Tiers are only used when Config.EnableMultiTier is set.
func WithTiers(tiers ...Tier) Option {
	return func(d *storeDeps) { d.tiers = append(d.tiers, tiers...) }
}

// New creates a Store. The expiry sweep, when enabled, runs until ctx is
// cancelled or the store is closed.
func New[V any](ctx context.Context, cfg Config, opts ...Option) (*Store[V], error) {
	cfg.withDefaults()

	deps := &storeDeps{}
	for _, opt := range opts {
		opt(deps)
	}
	if deps.logger == nil {
		deps.logger = zap.NewNop()
	}
	if deps.clock == nil {
		deps.clock = clockwork.NewRealClock()
	}

	codec, err := serialization.New(cfg.Serialization)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	s := &Store[V]{
		cfg:     cfg,
		codec:   codec,
		clock:   deps.clock,
		logger:  deps.logger,
		tracer:  otel.Tracer("cache"),
		metrics: deps.metrics,
		tiers:   deps.tiers,
		entries: make(map[string]*models.Entry),
		txs:     make(map[string]*transaction[V]),
	}

	if cfg.EnableMultiTier && len(s.tiers) > 0 && cfg.BloomExpectedItems > 0 {
		s.filter = newNegativeFilter(cfg.BloomExpectedItems, cfg.BloomFalsePositiveRate)
		if err := s.warmFilter(ctx); err != nil {
			// An unwarmed filter would hide every entry a previous run
			// left in the durable tiers; pass-through is the safe shape.
			s.logger.Warn("disabling negative filter, tier keys could not be loaded", zap.Error(err))
			s.filter = nil
		}
	}

	if cfg.SweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		s.cancelSweep = cancel
		go s.sweep(sweepCtx)
	}

	return s, nil
}

// warmFilter seeds the negative filter with the keys every listable
// tier already holds, so entries written by a previous process run pass
// the filter and remain readable.
func (s *Store[V]) warmFilter(ctx context.Context) error {
	for _, tier := range s.tiers {
		lister, ok := tier.(KeyLister)
		if !ok {
			continue
		}
		keys, err := lister.Keys(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s tier keys: %w", tier.Label(), err)
		}
		for _, key := range keys {
			s.filter.Add(key)
		}
	}
	return nil
}

// Get returns the value for the key. Expired entries are removed on
// read and reported as a miss; the expiry check and the value read are
// one critical section.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	var zero V
	now := s.clock.Now()

	s.mu.Lock()
	if entry, ok := s.entries[key]; ok {
		if entry.IsExpiredAt(now) {
			delete(s.entries, key)
			s.mu.Unlock()
			s.expiries.Inc()
			s.metrics.Expired(1)
			s.dropFromTiers(ctx, key)
			s.recordMiss("expired")
			return zero, false, nil
		}

		entry.Touch(now)
		data := entry.Data
		s.mu.Unlock()

		var value V
		if err := s.codec.Unmarshal(data, &value); err != nil {
			return zero, false, fmt.Errorf("failed to unmarshal value: %w", err)
		}
		s.hits.Inc()
		s.metrics.Hit(models.TierMemory.String())
		return value, true, nil
	}
	s.mu.Unlock()

	if !s.cfg.EnableMultiTier || len(s.tiers) == 0 {
		s.recordMiss("absent")
		return zero, false, nil
	}

	if s.filter != nil && !s.filter.Test(key) {
		s.recordMiss("filtered")
		return zero, false, nil
	}

	return s.getFromFallback(ctx, key)
}

// getFromFallback consults the fallback tiers in order, deduplicating
// concurrent lookups for the same key.
func (s *Store[V]) getFromFallback(ctx context.Context, key string) (V, bool, error) {
	var zero V

	v, err, _ := s.sf.Do(key, func() (any, error) {
		now := s.clock.Now()
		for _, tier := range s.tiers {
			entry, found, err := tier.Get(ctx, key)
			if err != nil {
				s.metrics.TierFault(tier.Label().String())
				s.logger.Warn("storage tier degraded to miss",
					zap.String("tier", tier.Label().String()),
					zap.String("key", key),
					zap.Error(err),
				)
				continue
			}
			if !found || entry.IsExpiredAt(now) {
				continue
			}
			s.promote(key, entry, now)
			s.metrics.Hit(tier.Label().String())
			s.metrics.Promoted(tier.Label().String())
			return entry, nil
		}
		return nil, nil
	})
	if err != nil {
		return zero, false, err
	}
	if v == nil {
		s.recordMiss("absent")
		return zero, false, nil
	}

	entry := v.(*models.Entry)
	var value V
	if err := s.codec.Unmarshal(entry.Data, &value); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	s.hits.Inc()
	return value, true, nil
}

// promote inserts a fallback hit into the primary tier, respecting
// capacity. Under TTLOnly a full store skips promotion entirely.
func (s *Store[V]) promote(key string, entry *models.Entry, now time.Time) {
	promoted := entry.Clone()
	promoted.StorageTier = models.TierMemory
	promoted.Touch(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.MaxSize {
		if !s.evictLocked(now) {
			return
		}
	}
	s.entries[key] = promoted
	s.metrics.SetSize(len(s.entries))
}

// Set stores the value under the key. With no explicit TTL the default
// applies. At capacity a batch of entries is evicted per the policy;
// under TTLOnly the insert fails with ErrCacheFull when nothing has
// expired.
func (s *Store[V]) Set(ctx context.Context, key string, value V, ttl ...time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "Store.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	expiration := s.cfg.DefaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		expiration = ttl[0]
	}

	data, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := s.clock.Now()
	entry := models.NewEntry(data, now, expiration)

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.MaxSize {
		if !s.evictLocked(now) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %d entries, nothing expired", ErrCacheFull, s.cfg.MaxSize)
		}
	}
	s.entries[key] = entry
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetSize(size)
	if s.filter != nil {
		s.filter.Add(key)
	}

	if s.cfg.EnableMultiTier {
		for _, tier := range s.tiers {
			if err := tier.Set(ctx, key, entry, expiration); err != nil {
				s.metrics.TierFault(tier.Label().String())
				s.logger.Warn("failed to write storage tier",
					zap.String("tier", tier.Label().String()),
					zap.String("key", key),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// evictLocked removes a batch of entries per the configured policy and
// reports whether any room was reclaimed. Callers hold the store lock.
func (s *Store[V]) evictLocked(now time.Time) bool {
	batch := s.cfg.MaxSize * s.cfg.EvictionBatchPercent / 100
	if batch < 1 {
		batch = 1
	}

	keys := victims(s.entries, s.cfg.EvictionPolicy, batch, now)
	if len(keys) == 0 {
		return false
	}

	for _, key := range keys {
		delete(s.entries, key)
	}
	s.evictions.Add(int64(len(keys)))
	s.metrics.Evicted(s.cfg.EvictionPolicy.String(), len(keys))
	s.logger.Debug("evicted entries",
		zap.String("policy", s.cfg.EvictionPolicy.String()),
		zap.Int("count", len(keys)),
	)
	return true
}

// Has reports whether the key holds an unexpired entry in the primary
// tier. Expired entries are removed, same as Get.
func (s *Store[V]) Has(ctx context.Context, key string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok && entry.IsExpiredAt(now) {
		delete(s.entries, key)
		s.mu.Unlock()
		s.expiries.Inc()
		s.metrics.Expired(1)
		s.dropFromTiers(ctx, key)
		return false
	}
	s.mu.Unlock()
	return ok
}

// Delete removes the key from every tier and reports whether the
// primary tier held it.
func (s *Store[V]) Delete(ctx context.Context, key string) bool {
	ctx, span := s.tracer.Start(ctx, "Store.Delete", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetSize(size)
	s.dropFromTiers(ctx, key)
	return existed
}

func (s *Store[V]) dropFromTiers(ctx context.Context, key string) {
	if !s.cfg.EnableMultiTier {
		return
	}
	for _, tier := range s.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			s.metrics.TierFault(tier.Label().String())
			s.logger.Warn("failed to delete from storage tier",
				zap.String("tier", tier.Label().String()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Clear removes every entry from every tier.
func (s *Store[V]) Clear(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "Store.Clear")
	defer span.End()

	s.mu.Lock()
	s.entries = make(map[string]*models.Entry)
	s.mu.Unlock()

	s.metrics.SetSize(0)
	if s.filter != nil {
		s.filter.Reset()
	}

	if s.cfg.EnableMultiTier {
		for _, tier := range s.tiers {
			if err := tier.Clear(ctx); err != nil {
				s.metrics.TierFault(tier.Label().String())
				s.logger.Warn("failed to clear storage tier",
					zap.String("tier", tier.Label().String()),
					zap.Error(err),
				)
			}
		}
	}
}

// GetMulti returns the values present for the given keys.
func (s *Store[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, error) {
	result := make(map[string]V, len(keys))
	for _, key := range keys {
		value, found, err := s.Get(ctx, key)
		if err != nil {
			return result, err
		}
		if found {
			result[key] = value
		}
	}
	return result, nil
}

// SetMulti stores every item with a shared TTL.
func (s *Store[V]) SetMulti(ctx context.Context, items map[string]V, ttl ...time.Duration) error {
	for key, value := range items {
		if err := s.Set(ctx, key, value, ttl...); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
	}
	return nil
}

// Len returns the number of entries in the primary tier, including
// entries that expired but have not been read or swept yet.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expiries  int64
	Entries   int
}

// Stats returns the current counters.
func (s *Store[V]) Stats() Stats {
	return Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Expiries:  s.expiries.Load(),
		Entries:   s.Len(),
	}
}

func (s *Store[V]) recordMiss(reason string) {
	s.misses.Inc()
	s.metrics.Miss(reason)
}

// sweep opportunistically removes expired entries so never-read keys
// cannot grow the store without bound.
func (s *Store[V]) sweep(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stopping expiry sweep")
			return
		case <-ticker.Chan():
			s.removeExpired()
		}
	}
}

// removeExpired drops every expired entry under the store lock, so a
// concurrent reader can never observe an entry between the existence
// check and the value read.
func (s *Store[V]) removeExpired() {
	now := s.clock.Now()

	s.mu.Lock()
	var removed int
	for key, entry := range s.entries {
		if entry.IsExpiredAt(now) {
			delete(s.entries, key)
			removed++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.expiries.Add(int64(removed))
		s.metrics.SetSize(size)
		s.metrics.Expired(removed)
		s.logger.Debug("swept expired entries", zap.Int("count", removed))
	}
}

// Close stops the sweep and releases every tier.
func (s *Store[V]) Close() error {
	if s.cancelSweep != nil {
		s.cancelSweep()
	}

	var errs error
	for _, tier := range s.tiers {
		if err := tier.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close %s tier: %w", tier.Label(), err))
		}
	}
	return errs
}
