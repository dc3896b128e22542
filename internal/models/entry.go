// Package models holds the internal record types shared by the cache tiers.
package models

import (
	"encoding/json"
	"time"

	"go.uber.org/atomic"
)

// Tier identifies the storage tier an entry was served from.
type Tier int

const (
	TierMemory Tier = iota
	TierDurablePrimary
	TierDurableFallback
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDurablePrimary:
		return "durable-primary"
	case TierDurableFallback:
		return "durable-fallback"
	default:
		return "unknown"
	}
}

// Entry represents a cache entry. The payload is kept serialized so the
// same record can move between memory and durable tiers unchanged.
type Entry struct {
	Data        []byte
	CreatedAt   time.Time
	TTL         time.Duration
	ExpiresAt   time.Time
	Size        int64
	StorageTier Tier
	Compressed  bool
	Encrypted   bool

	AccessCount *atomic.Int64
	LastAccess  *atomic.Time
}

// NewEntry creates a new Entry. ExpiresAt is always createdAt + ttl.
func NewEntry(data []byte, createdAt time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Data:        data,
		CreatedAt:   createdAt,
		TTL:         ttl,
		ExpiresAt:   createdAt.Add(ttl),
		Size:        int64(len(data)),
		StorageTier: TierMemory,
		AccessCount: atomic.NewInt64(1),
		LastAccess:  atomic.NewTime(createdAt),
	}
}

// IsExpiredAt reports whether the entry has expired at the given instant.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Touch increments the access count and updates the last access time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount.Inc()
	e.LastAccess.Store(now)
}

// Clone returns an independent copy of the entry, used when promoting a
// fallback-tier hit into the primary tier.
func (e *Entry) Clone() *Entry {
	data := make([]byte, len(e.Data))
	copy(data, e.Data)
	return &Entry{
		Data:        data,
		CreatedAt:   e.CreatedAt,
		TTL:         e.TTL,
		ExpiresAt:   e.ExpiresAt,
		Size:        e.Size,
		StorageTier: e.StorageTier,
		Compressed:  e.Compressed,
		Encrypted:   e.Encrypted,
		AccessCount: atomic.NewInt64(e.AccessCount.Load()),
		LastAccess:  atomic.NewTime(e.LastAccess.Load()),
	}
}

// entryWire is the flat representation used for durable tiers.
type entryWire struct {
	Data        []byte        `json:"data"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Size        int64         `json:"size"`
	StorageTier Tier          `json:"storage_tier"`
	Compressed  bool          `json:"compressed,omitempty"`
	Encrypted   bool          `json:"encrypted,omitempty"`
	AccessCount int64         `json:"access_count"`
	LastAccess  time.Time     `json:"last_access"`
}

// MarshalBinary implements encoding.BinaryMarshaler so entries can be
// written to Redis directly.
func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(entryWire{
		Data:        e.Data,
		CreatedAt:   e.CreatedAt,
		TTL:         e.TTL,
		ExpiresAt:   e.ExpiresAt,
		Size:        e.Size,
		StorageTier: e.StorageTier,
		Compressed:  e.Compressed,
		Encrypted:   e.Encrypted,
		AccessCount: e.AccessCount.Load(),
		LastAccess:  e.LastAccess.Load(),
	})
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Entry) UnmarshalBinary(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Data = w.Data
	e.CreatedAt = w.CreatedAt
	e.TTL = w.TTL
	e.ExpiresAt = w.ExpiresAt
	e.Size = w.Size
	e.StorageTier = w.StorageTier
	e.Compressed = w.Compressed
	e.Encrypted = w.Encrypted
	e.AccessCount = atomic.NewInt64(w.AccessCount)
	e.LastAccess = atomic.NewTime(w.LastAccess)
	return nil
}
