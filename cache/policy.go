package cache

import (
	"sort"
	"time"

	"goflare.io/warden/internal/models"
)

// victims returns the keys to remove under the policy, at most batch,
// ordered victim-first. Under TTLOnly only already-expired entries are
// candidates. Callers hold the store lock.
func victims(entries map[string]*models.Entry, policy EvictionPolicy, batch int, now time.Time) []string {
	if batch <= 0 || len(entries) == 0 {
		return nil
	}

	type candidate struct {
		key  string
		rank int64
	}

	candidates := make([]candidate, 0, len(entries))
	for key, e := range entries {
		switch policy {
		case LRU:
			candidates = append(candidates, candidate{key, e.LastAccess.Load().UnixNano()})
		case LFU:
			candidates = append(candidates, candidate{key, e.AccessCount.Load()})
		case FIFO:
			candidates = append(candidates, candidate{key, e.CreatedAt.UnixNano()})
		case TTLOnly:
			if e.IsExpiredAt(now) {
				candidates = append(candidates, candidate{key, e.ExpiresAt.UnixNano()})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].rank < candidates[j].rank
	})

	if len(candidates) > batch {
		candidates = candidates[:batch]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}
