package utils

import "hash/fnv"

// ShardIndex maps a key onto one of num shards.
func ShardIndex(num uint64, key string) uint64 {
	h := fnv.New64a()
	if _, err := h.Write([]byte(key)); err != nil {
		return 0
	}
	return h.Sum64() % num
}
