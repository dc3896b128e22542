package warden

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/warden/cache"
	"goflare.io/warden/classify"
	"goflare.io/warden/retry"
)

type decision struct {
	Granted bool   `json:"granted"`
	Level   string `json:"level"`
}

func newTestWarden(t *testing.T, opts ...Option) (*Warden[decision], *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	opts = append([]Option{
		WithLogger(zap.NewNop()),
		WithClock(clock),
		WithCacheConfig(cache.Config{
			MaxSize:    100,
			DefaultTTL: 5 * time.Minute,
		}),
	}, opts...)

	w, err := New[decision](context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, w.Close())
	})
	return w, clock
}

func TestDoCachesSuccessfulResult(t *testing.T) {
	w, _ := newTestWarden(t)
	ctx := context.Background()

	calls := 0
	check := func(ctx context.Context) (decision, error) {
		calls++
		return decision{Granted: true, Level: "read"}, nil
	}

	result := w.Do(ctx, "p1:read_reports", "authz:p1", classify.NetworkError, check, 30*time.Second)
	require.True(t, result.Success)
	assert.Equal(t, 1, calls)

	// The second call is served from the cache.
	result = w.Do(ctx, "p1:read_reports", "authz:p1", classify.NetworkError, check)
	require.True(t, result.Success)
	assert.Equal(t, decision{Granted: true, Level: "read"}, result.Value)
	assert.Equal(t, 1, calls)
}

func TestDoExpiredEntryRunsOperationAgain(t *testing.T) {
	w, clock := newTestWarden(t)
	ctx := context.Background()

	calls := 0
	check := func(ctx context.Context) (decision, error) {
		calls++
		return decision{Granted: true, Level: "read"}, nil
	}

	result := w.Do(ctx, "p1:read_reports", "authz:p1", classify.NetworkError, check, 30*time.Second)
	require.True(t, result.Success)

	clock.Advance(31 * time.Second)

	result = w.Do(ctx, "p1:read_reports", "authz:p1", classify.NetworkError, check, 30*time.Second)
	require.True(t, result.Success)
	assert.Equal(t, 2, calls)
}

func TestDoFailureIsNotCached(t *testing.T) {
	w, _ := newTestWarden(t, WithRetryConfig(retry.Config{
		Policies: map[classify.ErrorType]retry.Policy{
			classify.NetworkError: {Strategy: retry.FixedDelay, MaxAttempts: 2},
		},
	}))
	ctx := context.Background()

	result := w.Do(ctx, "p1:read_reports", "authz:p1", classify.NetworkError,
		func(ctx context.Context) (decision, error) {
			return decision{}, classify.NewError(classify.NetworkError, "connection refused", nil)
		})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, retry.ErrRetriesExhausted)
	assert.Equal(t, classify.NetworkError, result.Classification.Type)

	_, found, err := w.Get(ctx, "p1:read_reports")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCircuitStateAndReset(t *testing.T) {
	w, _ := newTestWarden(t, WithRetryConfig(retry.Config{
		Policies: map[classify.ErrorType]retry.Policy{
			classify.NetworkError: {Strategy: retry.FixedDelay, MaxAttempts: 1},
		},
		Breaker: retry.BreakerSettings{FailureThreshold: 2},
	}))
	ctx := context.Background()

	fail := func(ctx context.Context) (decision, error) {
		return decision{}, classify.NewError(classify.NetworkError, "connection refused", nil)
	}

	for i := 0; i < 2; i++ {
		result := w.Execute(ctx, fail, classify.NetworkError, "authz:p1")
		require.False(t, result.Success)
	}
	require.Equal(t, retry.StateOpen, w.CircuitState("authz:p1"))

	result := w.Execute(ctx, fail, classify.NetworkError, "authz:p1")
	assert.True(t, result.CircuitOpen)

	w.ResetCircuit("authz:p1")
	assert.Equal(t, retry.StateClosed, w.CircuitState("authz:p1"))
}

func TestTransactionFlow(t *testing.T) {
	w, _ := newTestWarden(t)
	ctx := context.Background()

	txID := w.BeginTx()
	require.NoError(t, w.EnqueueTx(txID, cache.TxOp[decision]{Kind: cache.OpSet, Key: "a", Value: decision{Granted: true}}))
	require.NoError(t, w.EnqueueTx(txID, cache.TxOp[decision]{Kind: cache.OpSet, Key: "b", Value: decision{}}))
	require.NoError(t, w.CommitTx(ctx, txID))

	assert.True(t, w.Has(ctx, "a"))
	assert.True(t, w.Has(ctx, "b"))

	txID = w.BeginTx()
	require.NoError(t, w.EnqueueTx(txID, cache.TxOp[decision]{Kind: cache.OpDelete, Key: "a"}))
	require.NoError(t, w.AbortTx(txID))
	assert.True(t, w.Has(ctx, "a"))
}

func TestClassifyAndPatterns(t *testing.T) {
	w, _ := newTestWarden(t)

	err := classify.NewError(classify.TokenExpired, "expired", nil)
	for i := 0; i < 3; i++ {
		cl := w.Classify(err, classify.Context{Subject: "user:42", Operation: "check"})
		assert.Equal(t, classify.TokenExpired, cl.Type)
	}

	patterns := w.DetectPatterns("user:42", 10*time.Minute, 3)
	require.Len(t, patterns, 1)
	assert.Equal(t, classify.TokenExpired, patterns[0].Type)
	assert.Equal(t, 3, patterns[0].Count)
}

func TestSuccessProbabilityExposed(t *testing.T) {
	w, _ := newTestWarden(t)

	assert.InDelta(t, 0.9, w.SuccessProbability(classify.TokenExpired), 1e-9)
	assert.InDelta(t, 0.1, w.SuccessProbability(classify.InsufficientScope), 1e-9)
}

func TestStatsReflectUsage(t *testing.T) {
	w, _ := newTestWarden(t)
	ctx := context.Background()

	require.NoError(t, w.Set(ctx, "k", decision{Granted: true}))
	_, _, _ = w.Get(ctx, "k")
	_, _, _ = w.Get(ctx, "missing")

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
