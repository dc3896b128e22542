package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTaxonomy(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		category     Category
		severity     Severity
		retryable    bool
	}{
		{
			name:         "token expired",
			err:          NewError(TokenExpired, "token expired at 2026-08-30T10:00:00Z", nil),
			expectedType: TokenExpired,
			category:     CategoryAuthentication,
			severity:     SeverityLow,
			retryable:    true,
		},
		{
			name:         "invalid token",
			err:          NewError(InvalidToken, "signature verification failed", nil),
			expectedType: InvalidToken,
			category:     CategoryAuthentication,
			severity:     SeverityHigh,
			retryable:    false,
		},
		{
			name:         "insufficient permission",
			err:          NewError(InsufficientPermission, "user lacks write access", nil),
			expectedType: InsufficientPermission,
			category:     CategoryPermission,
			severity:     SeverityMedium,
			retryable:    false,
		},
		{
			name:         "insufficient scope",
			err:          NewError(InsufficientScope, "missing reports:read scope", nil),
			expectedType: InsufficientScope,
			category:     CategoryPermission,
			severity:     SeverityMedium,
			retryable:    false,
		},
		{
			name:         "rate limited",
			err:          NewError(RateLimited, "429 too many requests", nil),
			expectedType: RateLimited,
			category:     CategoryAvailability,
			severity:     SeverityLow,
			retryable:    true,
		},
		{
			name:         "network error",
			err:          NewError(NetworkError, "connection refused", nil),
			expectedType: NetworkError,
			category:     CategoryAvailability,
			severity:     SeverityMedium,
			retryable:    true,
		},
		{
			name:         "validation error",
			err:          NewError(ValidationError, "operation name is empty", nil),
			expectedType: ValidationError,
			category:     CategoryValidation,
			severity:     SeverityLow,
			retryable:    true,
		},
		{
			name:         "internal error",
			err:          NewError(InternalError, "unexpected state", nil),
			expectedType: InternalError,
			category:     CategoryInternal,
			severity:     SeverityMedium,
			retryable:    true,
		},
		{
			name:         "wrapped typed error",
			err:          fmt.Errorf("calling authz service: %w", NewError(RateLimited, "429", nil)),
			expectedType: RateLimited,
			category:     CategoryAvailability,
			severity:     SeverityLow,
			retryable:    true,
		},
		{
			name:         "deadline exceeded maps to network error",
			err:          context.DeadlineExceeded,
			expectedType: NetworkError,
			category:     CategoryAvailability,
			severity:     SeverityMedium,
			retryable:    true,
		},
		{
			name:         "net.Error maps to network error",
			err:          &net.DNSError{Err: "no such host", Name: "authz.example.com", IsNotFound: true},
			expectedType: NetworkError,
			category:     CategoryAvailability,
			severity:     SeverityMedium,
			retryable:    true,
		},
		{
			name:         "unknown error falls back to internal",
			err:          errors.New("something broke"),
			expectedType: InternalError,
			category:     CategoryInternal,
			severity:     SeverityMedium,
			retryable:    true,
		},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := c.Classify(tt.err, Context{Operation: "check"})

			assert.Equal(t, tt.expectedType, cl.Type)
			assert.Equal(t, tt.category, cl.Category)
			assert.Equal(t, tt.severity, cl.Severity)
			assert.Equal(t, tt.retryable, cl.Retryable)
			assert.NotEmpty(t, cl.UserMessage)
			assert.NotEmpty(t, cl.Resolutions)
		})
	}
}

func TestResolutionsCarryProbabilities(t *testing.T) {
	c := New()

	for _, typ := range []ErrorType{
		TokenExpired, InvalidToken, InsufficientPermission, InsufficientScope,
		RateLimited, NetworkError, ValidationError, InternalError,
	} {
		cl := c.Lookup(typ)
		require.NotEmpty(t, cl.Resolutions, "type %s has no resolutions", typ)
		for _, r := range cl.Resolutions {
			assert.NotEmpty(t, r.Action)
			assert.NotEmpty(t, r.Description)
			assert.Greater(t, r.Probability, 0.0)
			assert.LessOrEqual(t, r.Probability, 1.0)
		}
	}
}

func TestLookupUnknownType(t *testing.T) {
	c := New()

	cl := c.Lookup(ErrorType("quota-exceeded"))
	assert.Equal(t, InternalError, cl.Type)
}

func TestRetryable(t *testing.T) {
	c := New()

	assert.True(t, c.Retryable(TokenExpired))
	assert.True(t, c.Retryable(RateLimited))
	assert.True(t, c.Retryable(NetworkError))
	assert.True(t, c.Retryable(ValidationError))
	assert.True(t, c.Retryable(InternalError))

	assert.False(t, c.Retryable(InvalidToken))
	assert.False(t, c.Retryable(InsufficientPermission))
	assert.False(t, c.Retryable(InsufficientScope))
}

func TestWithEntryOverridesTable(t *testing.T) {
	c := New(WithEntry(Classification{
		Type:        RateLimited,
		Category:    CategoryAvailability,
		Severity:    SeverityCritical,
		Retryable:   false,
		UserMessage: "Quota exhausted for today.",
	}))

	cl := c.Lookup(RateLimited)
	assert.Equal(t, SeverityCritical, cl.Severity)
	assert.False(t, cl.Retryable)
}

func TestDetectPatterns(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))

	tokenErr := NewError(TokenExpired, "expired", nil)
	netErr := NewError(NetworkError, "refused", nil)

	for i := 0; i < 3; i++ {
		c.Classify(tokenErr, Context{Subject: "user:42", Operation: "check"})
		clock.Advance(time.Minute)
	}
	c.Classify(netErr, Context{Subject: "user:42", Operation: "check"})

	patterns := c.DetectPatterns("user:42", 10*time.Minute, 3)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, TokenExpired, p.Type)
	assert.Equal(t, CategoryAuthentication, p.Category)
	assert.Equal(t, 3, p.Count)
	assert.True(t, p.LastSeen.After(p.FirstSeen))
	assert.NotEmpty(t, p.Prevention)
}

func TestDetectPatternsPrunesOldRecords(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))

	err := NewError(NetworkError, "refused", nil)
	for i := 0; i < 3; i++ {
		c.Classify(err, Context{Subject: "user:42"})
	}

	clock.Advance(time.Hour)
	assert.Empty(t, c.DetectPatterns("user:42", 10*time.Minute, 1))

	// The stale records are gone, so fresh ones start a new window.
	c.Classify(err, Context{Subject: "user:42"})
	patterns := c.DetectPatterns("user:42", 10*time.Minute, 1)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].Count)
}

func TestDetectPatternsIsolatesSubjects(t *testing.T) {
	c := New()

	err := NewError(RateLimited, "429", nil)
	for i := 0; i < 5; i++ {
		c.Classify(err, Context{Subject: "user:1"})
	}

	assert.NotEmpty(t, c.DetectPatterns("user:1", time.Hour, 5))
	assert.Empty(t, c.DetectPatterns("user:2", time.Hour, 1))
}

func TestHistoryLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock), WithHistoryLimit(10))

	err := NewError(NetworkError, "refused", nil)
	for i := 0; i < 25; i++ {
		c.Classify(err, Context{Subject: "user:42"})
	}

	patterns := c.DetectPatterns("user:42", time.Hour, 1)
	require.Len(t, patterns, 1)
	assert.Equal(t, 10, patterns[0].Count)
}

func TestHistoryMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock), WithHistoryMaxAge(5*time.Minute))

	err := NewError(NetworkError, "refused", nil)
	for i := 0; i < 3; i++ {
		c.Classify(err, Context{Subject: "user:42"})
		clock.Advance(6 * time.Minute)
	}

	// Earlier records aged out as later ones were recorded, even though
	// the query window would still include them.
	patterns := c.DetectPatterns("user:42", time.Hour, 1)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].Count)
}

func TestResetHistory(t *testing.T) {
	c := New()

	c.Classify(NewError(NetworkError, "refused", nil), Context{Subject: "user:42"})
	c.ResetHistory("user:42")

	assert.Empty(t, c.DetectPatterns("user:42", time.Hour, 1))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("tcp dial failed")
	err := NewError(NetworkError, "request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "request failed")
}
