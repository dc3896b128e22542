package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/warden/classify"
)

// immediatePolicy retries without delay so fake-clock tests never block.
func immediatePolicy(maxAttempts int) Policy {
	return Policy{
		Strategy:    FixedDelay,
		MaxAttempts: maxAttempts,
		BaseDelay:   0,
	}
}

func newTestManager(clock clockwork.Clock, breaker BreakerSettings) *Manager[string] {
	cfg := DefaultConfig()
	cfg.Breaker = breaker
	return NewManager[string](cfg, WithClock(clock))
}

func TestExecuteFirstAttemptSuccess(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "granted", nil
	}, classify.NetworkError, "authz:p1", immediatePolicy(3))

	require.True(t, result.Success)
	assert.Equal(t, "granted", result.Value)
	assert.NoError(t, result.Err)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Success)
	assert.Equal(t, 1, result.Attempts[0].Number)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", classify.NewError(classify.NetworkError, "connection refused", nil)
		}
		return "granted", nil
	}, classify.NetworkError, "authz:p1", immediatePolicy(5))

	require.True(t, result.Success)
	assert.Equal(t, 3, calls)
	require.Len(t, result.Attempts, 3)
	assert.Error(t, result.Attempts[0].Err)
	assert.Error(t, result.Attempts[1].Err)
	assert.True(t, result.Attempts[2].Success)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}, classify.NetworkError, "authz:p1", immediatePolicy(3))

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Len(t, result.Attempts, 3)
	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.False(t, result.CircuitOpen)
	assert.False(t, result.Cancelled)
	assert.Equal(t, classify.NetworkError, result.Classification.Type)
	assert.NotEmpty(t, result.Classification.UserMessage)

	// One exhausted Execute feeds exactly one failure to the breaker.
	assert.Equal(t, 1, m.Breakers().FailureCount("authz:p1"))
}

func TestExecuteNonRetryableInvokesOnce(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", classify.NewError(classify.InvalidToken, "bad signature", nil)
	}, classify.InvalidToken, "authz:p1")

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Len(t, result.Attempts, 1)
	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.Equal(t, classify.InvalidToken, result.Classification.Type)
	assert.False(t, result.Classification.Retryable)
}

func TestExecuteOverrideWins(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}, classify.NetworkError, "authz:p1", immediatePolicy(2))

	assert.False(t, result.Success)
	assert.Equal(t, 2, calls, "override policy's attempt limit ignored")
}

func TestExecuteCircuitShortCircuits(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{FailureThreshold: 2})

	fail := func(ctx context.Context) (string, error) {
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}

	for i := 0; i < 2; i++ {
		result := m.Execute(context.Background(), fail, classify.NetworkError, "authz:p1", immediatePolicy(1))
		require.False(t, result.Success)
	}
	require.Equal(t, StateOpen, m.Breakers().StateOf("authz:p1"))

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "granted", nil
	}, classify.NetworkError, "authz:p1", immediatePolicy(1))

	assert.True(t, result.CircuitOpen)
	assert.ErrorIs(t, result.Err, ErrCircuitOpen)
	assert.Zero(t, calls, "operation invoked while the circuit was open")
	assert.Empty(t, result.Attempts)
	assert.Equal(t, classify.NetworkError, result.Classification.Type)
}

func TestExecuteCircuitRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestManager(clock, BreakerSettings{
		FailureThreshold:  1,
		Cooldown:          30 * time.Second,
		HalfOpenSuccesses: 1,
	})

	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}, classify.NetworkError, "authz:p1", immediatePolicy(1))
	require.False(t, result.Success)
	require.Equal(t, StateOpen, m.Breakers().StateOf("authz:p1"))

	clock.Advance(30 * time.Second)

	result = m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "granted", nil
	}, classify.NetworkError, "authz:p1", immediatePolicy(1))

	require.True(t, result.Success)
	assert.Equal(t, StateClosed, m.Breakers().StateOf("authz:p1"))
}

func TestExecuteCancelled(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	ctx, cancel := context.WithCancel(context.Background())
	result := m.Execute(ctx, func(ctx context.Context) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	}, classify.NetworkError, "authz:p1", immediatePolicy(5))

	assert.False(t, result.Success)
	assert.True(t, result.Cancelled)
	assert.ErrorIs(t, result.Err, ErrCancelled)
	assert.False(t, result.CircuitOpen)

	// Cancellation feeds no verdict to the breaker.
	assert.Equal(t, 0, m.Breakers().FailureCount("authz:p1"))
	assert.Equal(t, StateClosed, m.Breakers().StateOf("authz:p1"))
}

func TestExecuteTotalTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestManager(clock, BreakerSettings{})

	policy := immediatePolicy(5)
	policy.TotalTimeout = 100 * time.Millisecond

	calls := 0
	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		clock.Advance(60 * time.Millisecond)
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}, classify.NetworkError, "authz:p1", policy)

	assert.False(t, result.Success)
	assert.Equal(t, 2, calls, "attempts kept running past the total timeout")
	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.ErrorIs(t, result.Err, ErrTotalTimeout)
}

func TestExecuteRecordsAttemptTrail(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	result := m.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", classify.NewError(classify.NetworkError, "connection refused", nil)
	}, classify.NetworkError, "authz:p1", immediatePolicy(3))

	require.Len(t, result.Attempts, 3)
	for i, attempt := range result.Attempts {
		assert.Equal(t, i+1, attempt.Number)
		assert.False(t, attempt.Success)
		assert.Error(t, attempt.Err)
		assert.False(t, attempt.StartedAt.After(attempt.EndedAt))
	}
}

func TestPolicyFor(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	assert.Equal(t, ExponentialBackoff, m.PolicyFor(classify.NetworkError).Strategy)
	assert.Equal(t, NoRetry, m.PolicyFor(classify.InvalidToken).Strategy)

	// Unknown types fall through to the default policy.
	assert.Equal(t, DefaultConfig().Default, m.PolicyFor(classify.ErrorType("quota-exceeded")))
}

func TestSuccessProbabilityPriors(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	assert.InDelta(t, 0.9, m.SuccessProbability(classify.TokenExpired), 1e-9)
	assert.InDelta(t, 0.7, m.SuccessProbability(classify.RateLimited), 1e-9)
	assert.InDelta(t, 0.1, m.SuccessProbability(classify.InvalidToken), 1e-9)
	assert.InDelta(t, 0.5, m.SuccessProbability(classify.ErrorType("quota-exceeded")), 1e-9)
}

func TestSuccessProbabilityTracksObservations(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	ok := func(ctx context.Context) (string, error) { return "granted", nil }
	for i := 0; i < 12; i++ {
		result := m.Execute(context.Background(), ok, classify.NetworkError, "authz:p1", immediatePolicy(1))
		require.True(t, result.Success)
	}

	// Twelve observed successes displace the 0.6 prior.
	assert.InDelta(t, 1.0, m.SuccessProbability(classify.NetworkError), 1e-9)
}

func TestAttemptDelayJitterStaysBounded(t *testing.T) {
	m := newTestManager(clockwork.NewFakeClock(), BreakerSettings{})

	policy := Policy{
		Strategy:     FixedDelay,
		BaseDelay:    100 * time.Millisecond,
		JitterFactor: 0.5,
	}

	for i := 0; i < 100; i++ {
		d := m.attemptDelay(policy, 1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
