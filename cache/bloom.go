package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// negativeFilter answers "definitely not cached anywhere" before the
// store consults its fallback tiers.
type negativeFilter struct {
	mu                sync.RWMutex
	filter            *bloom.BloomFilter
	expectedItems     uint
	falsePositiveRate float64
}

func newNegativeFilter(expectedItems uint, falsePositiveRate float64) *negativeFilter {
	return &negativeFilter{
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// Add records a key as present.
func (f *negativeFilter) Add(key string) {
	f.mu.Lock()
	f.filter.AddString(key)
	f.mu.Unlock()
}

// Test reports whether the key may be present. False means the key was
// never written through this store.
func (f *negativeFilter) Test(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(key)
}

// Reset rebuilds an empty filter, used after Clear. Deleted keys keep
// testing positive until the next reset; the tiers then report a miss.
func (f *negativeFilter) Reset() {
	f.mu.Lock()
	f.filter = bloom.NewWithEstimates(f.expectedItems, f.falsePositiveRate)
	f.mu.Unlock()
}
