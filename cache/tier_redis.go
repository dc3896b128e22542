package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/warden/internal/models"
	"goflare.io/warden/retry"
)

// RedisTierConfig configures a RedisTier.
type RedisTierConfig struct {
	// Label reported for entries served by this tier.
	Label models.Tier
	// KeyPrefix namespaces every key written by this tier.
	KeyPrefix string
	// MaxRetries, InitialInterval, MaxInterval, Multiplier and
	// RandomizationFactor configure the I/O retrier.
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// Breaker guards the connection; an open breaker degrades every
	// operation to a miss.
	Breaker gobreaker.Settings
}

// DefaultRedisTierConfig returns the default Redis tier configuration.
func DefaultRedisTierConfig() RedisTierConfig {
	return RedisTierConfig{
		Label:               models.TierDurablePrimary,
		KeyPrefix:           "warden:",
		MaxRetries:          3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		Breaker: gobreaker.Settings{
			Name:        "RedisTier",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

// RedisTier is a durable storage tier backed by Redis. All I/O runs
// through a retrier and a circuit breaker so a degraded connection
// cannot stall the read path.
type RedisTier struct {
	client  redis.Cmdable
	cfg     RedisTierConfig
	retrier *retry.Retrier
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRedisTier creates a RedisTier on an existing client.
func NewRedisTier(client redis.Cmdable, cfg RedisTierConfig, logger *zap.Logger) (*RedisTier, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := DefaultRedisTierConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = d.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = d.MaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = d.Multiplier
	}
	if cfg.RandomizationFactor < 0 || cfg.RandomizationFactor > 1 {
		cfg.RandomizationFactor = d.RandomizationFactor
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = d.Breaker
	}

	r, err := retry.NewRetrier(cfg.MaxRetries, cfg.InitialInterval, cfg.MaxInterval, cfg.Multiplier, cfg.RandomizationFactor, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tier retrier: %w", err)
	}

	return &RedisTier{
		client:  client,
		cfg:     cfg,
		retrier: r,
		breaker: gobreaker.NewCircuitBreaker(cfg.Breaker),
		logger:  logger,
	}, nil
}

// Label implements Tier.
func (t *RedisTier) Label() models.Tier {
	return t.cfg.Label
}

func (t *RedisTier) key(key string) string {
	return t.cfg.KeyPrefix + key
}

// execute runs fn through the breaker and retrier.
func (t *RedisTier) execute(ctx context.Context, fn func() error) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.retrier.Run(ctx, fn)
	})
	return err
}

// Get implements Tier. A miss is a successful call, not a fault, so it
// never consumes retries or counts against the breaker.
func (t *RedisTier) Get(ctx context.Context, key string) (*models.Entry, bool, error) {
	var (
		data   []byte
		missed bool
	)
	err := t.execute(ctx, func() error {
		b, err := t.client.Get(ctx, t.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			missed = true
			return nil
		}
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis tier get: %w", err)
	}
	if missed {
		return nil, false, nil
	}

	var entry models.Entry
	if err := entry.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("redis tier decode: %w", err)
	}
	entry.StorageTier = t.cfg.Label
	return &entry, true, nil
}

// Set implements Tier.
func (t *RedisTier) Set(ctx context.Context, key string, entry *models.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return t.execute(ctx, func() error {
		return t.client.Set(ctx, t.key(key), entry, ttl).Err()
	})
}

// Delete implements Tier.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	return t.execute(ctx, func() error {
		return t.client.Del(ctx, t.key(key)).Err()
	})
}

// Clear implements Tier. Only keys under the tier's prefix are removed.
func (t *RedisTier) Clear(ctx context.Context) error {
	return t.execute(ctx, func() error {
		var cursor uint64
		for {
			keys, next, err := t.client.Scan(ctx, cursor, t.cfg.KeyPrefix+"*", 200).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				if err := t.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
}

// Keys implements KeyLister, returning every key under the tier's prefix
// with the prefix stripped.
func (t *RedisTier) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := t.execute(ctx, func() error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, err := t.client.Scan(ctx, cursor, t.cfg.KeyPrefix+"*", 200).Result()
			if err != nil {
				return err
			}
			for _, k := range batch {
				keys = append(keys, strings.TrimPrefix(k, t.cfg.KeyPrefix))
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	if err != nil {
		return nil, fmt.Errorf("redis tier keys: %w", err)
	}
	return keys, nil
}

// Close implements Tier.
func (t *RedisTier) Close() error {
	if closer, ok := t.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
