package warden

import (
	"goflare.io/warden/cache"
	"goflare.io/warden/retry"
)

// Re-exported sentinels for callers composing through the façade.
var (
	ErrCacheFull        = cache.ErrCacheFull
	ErrCircuitOpen      = retry.ErrCircuitOpen
	ErrRetriesExhausted = retry.ErrRetriesExhausted
	ErrCancelled        = retry.ErrCancelled
)
