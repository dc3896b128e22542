// Package retry executes fallible operations with a classification-driven
// retry schedule, gated by a per-key circuit breaker.
package retry

import (
	"math"
	"time"

	"goflare.io/warden/classify"
)

// Strategy selects how the delay between attempts grows.
type Strategy int

const (
	// NoRetry disables retries; the operation runs at most once.
	NoRetry Strategy = iota
	// FixedDelay waits the base delay between every attempt.
	FixedDelay
	// LinearBackoff grows the delay linearly with the attempt number.
	LinearBackoff
	// ExponentialBackoff grows the delay by a multiplier per attempt.
	ExponentialBackoff
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case NoRetry:
		return "none"
	case FixedDelay:
		return "fixed-delay"
	case LinearBackoff:
		return "linear-backoff"
	case ExponentialBackoff:
		return "exponential-backoff"
	default:
		return "unknown"
	}
}

// Policy describes the retry schedule bound to one error type.
type Policy struct {
	Strategy          Strategy
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	AttemptTimeout    time.Duration
	TotalTimeout      time.Duration
}

// DefaultPolicies binds one policy per error type. Non-retryable types
// get MaxAttempts 0 and never consume retries.
func DefaultPolicies() map[classify.ErrorType]Policy {
	noRetry := Policy{Strategy: NoRetry, MaxAttempts: 0}

	return map[classify.ErrorType]Policy{
		classify.TokenExpired: {
			Strategy:          FixedDelay,
			MaxAttempts:       2,
			BaseDelay:         100 * time.Millisecond,
			MaxDelay:          time.Second,
			JitterFactor:      0.1,
			AttemptTimeout:    5 * time.Second,
			TotalTimeout:      15 * time.Second,
			BackoffMultiplier: 1,
		},
		classify.RateLimited: {
			Strategy:          ExponentialBackoff,
			MaxAttempts:       4,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2,
			JitterFactor:      0.3,
			AttemptTimeout:    10 * time.Second,
			TotalTimeout:      2 * time.Minute,
		},
		classify.NetworkError: {
			Strategy:          ExponentialBackoff,
			MaxAttempts:       5,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			JitterFactor:      0.2,
			AttemptTimeout:    10 * time.Second,
			TotalTimeout:      time.Minute,
		},
		classify.ValidationError: {
			Strategy:          FixedDelay,
			MaxAttempts:       2,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          500 * time.Millisecond,
			JitterFactor:      0,
			AttemptTimeout:    5 * time.Second,
			TotalTimeout:      15 * time.Second,
			BackoffMultiplier: 1,
		},
		classify.InternalError: {
			Strategy:          LinearBackoff,
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			MaxDelay:          15 * time.Second,
			JitterFactor:      0.2,
			AttemptTimeout:    10 * time.Second,
			TotalTimeout:      time.Minute,
			BackoffMultiplier: 1,
		},

		classify.InvalidToken:           noRetry,
		classify.InsufficientPermission: noRetry,
		classify.InsufficientScope:      noRetry,
	}
}

// backoffDelay computes the pre-jitter delay before the attempt that
// follows the given completed attempt number (1-based), clamped to
// MaxDelay. It is non-decreasing in attempt for every strategy.
func backoffDelay(p Policy, attempt int) time.Duration {
	var delay float64

	switch p.Strategy {
	case FixedDelay:
		delay = float64(p.BaseDelay)
	case LinearBackoff:
		delay = float64(p.BaseDelay) * float64(attempt)
	case ExponentialBackoff:
		delay = float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	default:
		return 0
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
