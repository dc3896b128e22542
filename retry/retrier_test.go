package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetrierValidation(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		baseDelay   time.Duration
		factor      float64
		jitter      float64
		expected    error
	}{
		{"zero attempts", 0, time.Millisecond, 2, 0, ErrInvalidMaxAttempts},
		{"sub-millisecond delay", 3, time.Microsecond, 2, 0, ErrInvalidBaseDelay},
		{"shrinking factor", 3, time.Millisecond, 0.5, 0, ErrInvalidFactor},
		{"negative jitter", 3, time.Millisecond, 2, -0.1, ErrInvalidJitter},
		{"jitter above one", 3, time.Millisecond, 2, 1.5, ErrInvalidJitter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetrier(tt.maxAttempts, tt.baseDelay, time.Second, tt.factor, tt.jitter, nil, nil)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestRetrierRunSucceedsAfterFailures(t *testing.T) {
	r, err := NewRetrier(5, time.Millisecond, 10*time.Millisecond, 2, 0, nil, nil)
	require.NoError(t, err)

	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierRunExhausts(t *testing.T) {
	r, err := NewRetrier(3, time.Millisecond, 10*time.Millisecond, 2, 0, nil, nil)
	require.NoError(t, err)

	cause := errors.New("still down")
	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		return cause
	})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestRetrierRunRespectsContext(t *testing.T) {
	r, err := NewRetrier(10, 50*time.Millisecond, time.Second, 2, 0, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = r.Run(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
