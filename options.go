package warden

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/warden/cache"
	"goflare.io/warden/classify"
	"goflare.io/warden/metrics"
	"goflare.io/warden/retry"
)

// Option configures a Warden at construction.
type Option func(*settings) error

type settings struct {
	cacheConfig cache.Config
	retryConfig retry.Config
	logger      *zap.Logger
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	rng         *rand.Rand
	tiers       []cache.Tier

	tableEntries  []classify.Classification
	historyLimit  int
	historyMaxAge time.Duration

	redisOptions     *redis.Options
	redisTierConfig  cache.RedisTierConfig
	ristrettoMaxCost int64
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

// WithClock injects the clock driving TTLs, retry delays and cooldowns.
func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) error {
		s.clock = clock
		return nil
	}
}

// WithRand injects the RNG used for retry jitter.
func WithRand(rng *rand.Rand) Option {
	return func(s *settings) error {
		s.rng = rng
		return nil
	}
}

// WithCacheConfig replaces the cache configuration.
func WithCacheConfig(cfg cache.Config) Option {
	return func(s *settings) error {
		s.cacheConfig = cfg
		return nil
	}
}

// WithRetryConfig replaces the retry manager configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *settings) error {
		s.retryConfig = cfg
		return nil
	}
}

// WithMetrics registers Prometheus collectors on the given registerer.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(s *settings) error {
		s.metrics = metrics.New(reg, namespace)
		return nil
	}
}

// WithTiers appends prebuilt fallback storage tiers.
func WithTiers(tiers ...cache.Tier) Option {
	return func(s *settings) error {
		s.tiers = append(s.tiers, tiers...)
		return nil
	}
}

// WithRedis adds a durable Redis fallback tier. The connection is
// verified at construction.
func WithRedis(opts *redis.Options, cfg ...cache.RedisTierConfig) Option {
	return func(s *settings) error {
		if opts == nil {
			return fmt.Errorf("redis options are required")
		}
		s.redisOptions = opts
		if len(cfg) > 0 {
			s.redisTierConfig = cfg[0]
		} else {
			s.redisTierConfig = cache.DefaultRedisTierConfig()
		}
		return nil
	}
}

// WithRistrettoOverflow adds a volatile overflow tier bounded by
// maxCost bytes, serving entries the primary tier evicted.
func WithRistrettoOverflow(maxCost int64) Option {
	return func(s *settings) error {
		if maxCost <= 0 {
			return fmt.Errorf("overflow tier max cost must be positive")
		}
		s.ristrettoMaxCost = maxCost
		return nil
	}
}

// WithClassification adds or overrides classification table entries.
func WithClassification(entries ...classify.Classification) Option {
	return func(s *settings) error {
		s.tableEntries = append(s.tableEntries, entries...)
		return nil
	}
}

// WithHistoryLimit bounds the classifier's per-subject failure history.
func WithHistoryLimit(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return fmt.Errorf("history limit must be positive")
		}
		s.historyLimit = n
		return nil
	}
}

// WithHistoryMaxAge drops classifier history records older than d.
func WithHistoryMaxAge(d time.Duration) Option {
	return func(s *settings) error {
		if d <= 0 {
			return fmt.Errorf("history max age must be positive")
		}
		s.historyMaxAge = d
		return nil
	}
}

func newSettings(ctx context.Context, opts ...Option) (*settings, error) {
	s := &settings{
		cacheConfig: cache.DefaultConfig(),
		retryConfig: retry.DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		s.logger = logger
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}

	if s.ristrettoMaxCost > 0 {
		tier, err := cache.NewRistrettoTier(s.ristrettoMaxCost, s.clock, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize overflow tier: %w", err)
		}
		s.tiers = append(s.tiers, tier)
	}

	if s.redisOptions != nil {
		client := redis.NewClient(s.redisOptions)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		tier, err := cache.NewRedisTier(client, s.redisTierConfig, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis tier: %w", err)
		}
		s.tiers = append(s.tiers, tier)
	}

	if len(s.tiers) > 0 {
		s.cacheConfig.EnableMultiTier = true
	}

	return s, nil
}

func (s *settings) classifierOpts() []classify.Option {
	opts := []classify.Option{
		classify.WithLogger(s.logger),
		classify.WithClock(s.clock),
	}
	if s.historyLimit > 0 {
		opts = append(opts, classify.WithHistoryLimit(s.historyLimit))
	}
	if s.historyMaxAge > 0 {
		opts = append(opts, classify.WithHistoryMaxAge(s.historyMaxAge))
	}
	for _, entry := range s.tableEntries {
		opts = append(opts, classify.WithEntry(entry))
	}
	return opts
}
