// Package cache implements a generic TTL key/value store with
// configurable eviction, optional multi-tier storage and buffered
// transactions.
package cache

import (
	"time"

	"goflare.io/warden/pkg/serialization"
)

// EvictionPolicy selects which entries are removed when the store is at
// capacity.
type EvictionPolicy int

const (
	// LRU evicts the entries with the oldest last access time.
	LRU EvictionPolicy = iota
	// LFU evicts the entries with the lowest access count.
	LFU
	// FIFO evicts the entries with the oldest creation time.
	FIFO
	// TTLOnly evicts only entries whose TTL has already elapsed and
	// refuses inserts when none have.
	TTLOnly
)

// String returns the string representation of the policy.
func (p EvictionPolicy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	case TTLOnly:
		return "ttl-only"
	default:
		return "unknown"
	}
}

// Config configures a Store. All recognized options are enumerated here;
// defaults are applied at construction.
type Config struct {
	// MaxSize is the maximum number of entries held by the primary tier.
	MaxSize int
	// DefaultTTL applies to Set calls that do not pass an explicit TTL.
	DefaultTTL time.Duration
	// EvictionPolicy selects the eviction rule at capacity.
	EvictionPolicy EvictionPolicy
	// EvictionBatchPercent is the share of capacity removed per
	// eviction trigger, amortizing eviction cost.
	EvictionBatchPercent int
	// SweepInterval is the period of the opportunistic expiry sweep.
	// Zero disables the sweep; expiry on read still applies.
	SweepInterval time.Duration
	// EnableMultiTier turns on the configured fallback tiers.
	EnableMultiTier bool
	// Serialization names the payload codec.
	Serialization string
	// BloomExpectedItems and BloomFalsePositiveRate size the negative
	// lookup filter used before fallback tiers. Zero expected items
	// disables the filter.
	BloomExpectedItems     uint
	BloomFalsePositiveRate float64
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:                10_000,
		DefaultTTL:             5 * time.Minute,
		EvictionPolicy:         LRU,
		EvictionBatchPercent:   10,
		SweepInterval:          time.Minute,
		EnableMultiTier:        false,
		Serialization:          serialization.JSONType,
		BloomExpectedItems:     100_000,
		BloomFalsePositiveRate: 0.01,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.EvictionBatchPercent <= 0 || c.EvictionBatchPercent > 100 {
		c.EvictionBatchPercent = d.EvictionBatchPercent
	}
	if c.Serialization == "" {
		c.Serialization = d.Serialization
	}
	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		c.BloomFalsePositiveRate = d.BloomFalsePositiveRate
	}
}
