package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0, nil)

	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, float64(2), p.Multiplier)
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := NewPolicy(5, time.Millisecond, 5*time.Millisecond, 2, nil)

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	terminal := errors.New("terminal")
	p := NewPolicy(5, time.Millisecond, 5*time.Millisecond, 2, func(err error) bool {
		return !errors.Is(err, terminal)
	})

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return terminal
	})

	require.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsBudget(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 5*time.Millisecond, 2, nil)

	transient := errors.New("transient")
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return transient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, attempts)
}
