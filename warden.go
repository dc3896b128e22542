// Package warden mediates access-control decisions: it caches previously
// computed authorization outcomes, classifies failures into an actionable
// taxonomy and retries recoverable failures behind per-operation circuit
// breakers.
package warden

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/warden/cache"
	"goflare.io/warden/classify"
	"goflare.io/warden/retry"
)

// Warden composes the cache store, error classifier and retry manager
// into one resilience façade for a single result type.
type Warden[V any] struct {
	store      *cache.Store[V]
	classifier *classify.Classifier
	manager    *retry.Manager[V]
	logger     *zap.Logger
}

// New creates a Warden. The background expiry sweep stops when ctx is
// cancelled or Close is called.
func New[V any](ctx context.Context, opts ...Option) (*Warden[V], error) {
	s, err := newSettings(ctx, opts...)
	if err != nil {
		return nil, err
	}

	classifier := classify.New(s.classifierOpts()...)

	store, err := cache.New[V](ctx, s.cacheConfig,
		cache.WithLogger(s.logger),
		cache.WithClock(s.clock),
		cache.WithMetrics(s.metrics),
		cache.WithTiers(s.tiers...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}

	manager := retry.NewManager[V](s.retryConfig,
		retry.WithClassifier(classifier),
		retry.WithClock(s.clock),
		retry.WithLogger(s.logger),
		retry.WithMetrics(s.metrics),
		retry.WithRand(s.rng),
	)

	return &Warden[V]{
		store:      store,
		classifier: classifier,
		manager:    manager,
		logger:     s.logger,
	}, nil
}

// Do runs the typical control flow around one cacheable operation: a
// cache hit short-circuits; on a miss the operation executes under the
// retry manager; a successful result is cached before returning.
func (w *Warden[V]) Do(ctx context.Context, cacheKey, opKey string, errType classify.ErrorType, op retry.Operation[V], ttl ...time.Duration) retry.Result[V] {
	if value, found, err := w.store.Get(ctx, cacheKey); err == nil && found {
		return retry.Result[V]{Success: true, Value: value}
	} else if err != nil {
		w.logger.Warn("cache read degraded to miss", zap.String("key", cacheKey), zap.Error(err))
	}

	result := w.manager.Execute(ctx, op, errType, opKey)
	if result.Success {
		if err := w.store.Set(ctx, cacheKey, result.Value, ttl...); err != nil {
			w.logger.Warn("failed to cache result", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return result
}

// Get returns the cached value for the key.
func (w *Warden[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return w.store.Get(ctx, key)
}

// Set caches a value under the key.
func (w *Warden[V]) Set(ctx context.Context, key string, value V, ttl ...time.Duration) error {
	return w.store.Set(ctx, key, value, ttl...)
}

// Delete removes the key and reports whether it was cached.
func (w *Warden[V]) Delete(ctx context.Context, key string) bool {
	return w.store.Delete(ctx, key)
}

// Has reports whether the key holds an unexpired entry.
func (w *Warden[V]) Has(ctx context.Context, key string) bool {
	return w.store.Has(ctx, key)
}

// Clear removes every cached entry.
func (w *Warden[V]) Clear(ctx context.Context) {
	w.store.Clear(ctx)
}

// GetMulti returns the cached values present for the given keys.
func (w *Warden[V]) GetMulti(ctx context.Context, keys []string) (map[string]V, error) {
	return w.store.GetMulti(ctx, keys)
}

// SetMulti caches every item with a shared TTL.
func (w *Warden[V]) SetMulti(ctx context.Context, items map[string]V, ttl ...time.Duration) error {
	return w.store.SetMulti(ctx, items, ttl...)
}

// BeginTx opens a buffered cache transaction.
func (w *Warden[V]) BeginTx() string {
	return w.store.Begin()
}

// EnqueueTx buffers an operation on the transaction.
func (w *Warden[V]) EnqueueTx(txID string, op cache.TxOp[V]) error {
	return w.store.Enqueue(txID, op)
}

// CommitTx applies the transaction's buffered operations in order.
// Commit is best-effort: see cache.Store.Commit.
func (w *Warden[V]) CommitTx(ctx context.Context, txID string) error {
	return w.store.Commit(ctx, txID)
}

// AbortTx discards the transaction.
func (w *Warden[V]) AbortTx(txID string) error {
	return w.store.Abort(txID)
}

// Execute runs op under the retry policy bound to errType, gated by the
// circuit breaker for opKey.
func (w *Warden[V]) Execute(ctx context.Context, op retry.Operation[V], errType classify.ErrorType, opKey string, override ...retry.Policy) retry.Result[V] {
	return w.manager.Execute(ctx, op, errType, opKey, override...)
}

// Classify maps a raw failure into its classification.
func (w *Warden[V]) Classify(err error, cctx classify.Context) classify.Classification {
	return w.classifier.Classify(err, cctx)
}

// DetectPatterns reports recurring failure patterns for a subject.
func (w *Warden[V]) DetectPatterns(subject string, window time.Duration, minFrequency int) []classify.Pattern {
	return w.classifier.DetectPatterns(subject, window, minFrequency)
}

// SuccessProbability estimates how likely a retried operation failing
// with the given error type is to eventually succeed.
func (w *Warden[V]) SuccessProbability(errType classify.ErrorType) float64 {
	return w.manager.SuccessProbability(errType)
}

// CircuitState returns the circuit breaker state for an operation key.
func (w *Warden[V]) CircuitState(opKey string) retry.State {
	return w.manager.Breakers().StateOf(opKey)
}

// ResetCircuit destroys the circuit breaker for an operation key.
func (w *Warden[V]) ResetCircuit(opKey string) {
	w.manager.Breakers().Reset(opKey)
}

// Stats returns the cache counter snapshot.
func (w *Warden[V]) Stats() cache.Stats {
	return w.store.Stats()
}

// Close stops background work and releases the storage tiers.
func (w *Warden[V]) Close() error {
	return w.store.Close()
}
